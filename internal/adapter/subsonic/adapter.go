package subsonic

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cadenza-player/cadenza/internal/adapter"
	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/internal/domain"
)

// Adapter is the networked ground-truth adapter backed by a Subsonic server.
type Adapter struct {
	client *client
	caps   adapter.CapabilitySet
	logger *slog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a Subsonic adapter from server configuration.
func New(cfg config.ServerConfig, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := newClient(cfg.URL, cfg.Username, cfg.Password, cfg.SaltAuth, cfg.VerifyCert)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client: c,
		caps: adapter.NewCapabilitySet(
			adapter.CanGetPlaylists,
			adapter.CanGetPlaylistDetails,
			adapter.CanCreatePlaylist,
			adapter.CanUpdatePlaylist,
			adapter.CanDeletePlaylist,
			adapter.CanGetCoverArtURI,
			adapter.CanGetSongFileURI,
			adapter.CanGetSongStreamURI,
			adapter.CanGetSong,
			adapter.CanGetGenres,
			adapter.CanGetArtists,
			adapter.CanGetArtist,
			adapter.CanGetAlbums,
			adapter.CanGetAlbum,
			adapter.CanGetDirectory,
			adapter.CanGetIgnoredArticles,
			adapter.CanScrobbleSong,
			adapter.CanSearch,
			adapter.CanGetPlayQueue,
			adapter.CanSavePlayQueue,
		),
		logger: logger,
	}, nil
}

// InitialSync verifies the server answers. An unreachable server is not
// fatal: the manager keeps serving from cache and retries on demand.
func (a *Adapter) InitialSync(ctx context.Context) error {
	if !a.client.ping(ctx) {
		a.logger.Warn("server not reachable during initial sync", "url", a.client.base.Redacted())
	}
	return nil
}

func (a *Adapter) Shutdown() error {
	a.client.http.CloseIdleConnections()
	return nil
}

func (a *Adapter) Networked() bool { return true }

func (a *Adapter) Ping(ctx context.Context) bool { return a.client.ping(ctx) }

func (a *Adapter) Capabilities() adapter.CapabilitySet { return a.caps }

func (a *Adapter) SupportedSchemes() []string { return []string{"http", "https"} }

func (a *Adapter) GetPlaylists(ctx context.Context) ([]*domain.Playlist, error) {
	body, err := a.client.getJSON(ctx, "getPlaylists", nil)
	if err != nil {
		return nil, err
	}
	if body.Playlists == nil {
		return nil, nil
	}
	playlists := make([]*domain.Playlist, 0, len(body.Playlists.Playlist))
	for i := range body.Playlists.Playlist {
		playlists = append(playlists, toPlaylist(&body.Playlists.Playlist[i]))
	}
	return playlists, nil
}

func (a *Adapter) GetPlaylistDetails(ctx context.Context, playlistID string) (*domain.Playlist, error) {
	body, err := a.client.getJSON(ctx, "getPlaylist", url.Values{"id": {playlistID}})
	if err != nil {
		return nil, err
	}
	if body.Playlist == nil {
		return nil, fmt.Errorf("playlist %s: empty response", playlistID)
	}
	return toPlaylist(body.Playlist), nil
}

func (a *Adapter) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*domain.Playlist, error) {
	params := url.Values{"name": {name}}
	for _, id := range songIDs {
		params.Add("songId", id)
	}
	body, err := a.client.getJSON(ctx, "createPlaylist", params)
	if err != nil {
		return nil, err
	}
	// Old servers return an empty body from createPlaylist.
	if body.Playlist == nil {
		return nil, nil
	}
	return toPlaylist(body.Playlist), nil
}

func (a *Adapter) UpdatePlaylist(ctx context.Context, playlistID string, update adapter.PlaylistUpdate) (*domain.Playlist, error) {
	params := url.Values{"playlistId": {playlistID}}
	if update.Name != nil {
		params.Set("name", *update.Name)
	}
	if update.Comment != nil {
		params.Set("comment", *update.Comment)
	}
	if update.Public != nil {
		params.Set("public", strconv.FormatBool(*update.Public))
	}
	if _, err := a.client.getJSON(ctx, "updatePlaylist", params); err != nil {
		return nil, err
	}

	if update.SongIDs != nil {
		// createPlaylist with a playlistId replaces the song list wholesale,
		// which is simpler than diffing into songIdToAdd/songIndexToRemove.
		params := url.Values{"playlistId": {playlistID}}
		for _, id := range update.SongIDs {
			params.Add("songId", id)
		}
		if _, err := a.client.getJSON(ctx, "createPlaylist", params); err != nil {
			return nil, err
		}
	}

	return a.GetPlaylistDetails(ctx, playlistID)
}

func (a *Adapter) DeletePlaylist(ctx context.Context, playlistID string) error {
	_, err := a.client.getJSON(ctx, "deletePlaylist", url.Values{"id": {playlistID}})
	return err
}

func (a *Adapter) GetSong(ctx context.Context, songID string) (*domain.Song, error) {
	body, err := a.client.getJSON(ctx, "getSong", url.Values{"id": {songID}})
	if err != nil {
		return nil, err
	}
	if body.Song == nil {
		return nil, fmt.Errorf("song %s: empty response", songID)
	}
	return toSong(body.Song), nil
}

func (a *Adapter) GetGenres(ctx context.Context) ([]*domain.Genre, error) {
	body, err := a.client.getJSON(ctx, "getGenres", nil)
	if err != nil {
		return nil, err
	}
	if body.Genres == nil {
		return nil, nil
	}
	genres := make([]*domain.Genre, 0, len(body.Genres.Genre))
	for _, g := range body.Genres.Genre {
		genres = append(genres, &domain.Genre{
			Name:       g.Value,
			SongCount:  g.SongCount,
			AlbumCount: g.AlbumCount,
		})
	}
	return genres, nil
}

func (a *Adapter) GetArtists(ctx context.Context) ([]*domain.Artist, error) {
	body, err := a.client.getJSON(ctx, "getArtists", nil)
	if err != nil {
		return nil, err
	}
	if body.Artists == nil {
		return nil, nil
	}
	var artists []*domain.Artist
	for _, index := range body.Artists.Index {
		for i := range index.Artist {
			artists = append(artists, toArtist(&index.Artist[i]))
		}
	}
	return artists, nil
}

func (a *Adapter) GetArtist(ctx context.Context, artistID string) (*domain.Artist, error) {
	body, err := a.client.getJSON(ctx, "getArtist", url.Values{"id": {artistID}})
	if err != nil {
		return nil, err
	}
	if body.Artist == nil {
		return nil, fmt.Errorf("artist %s: empty response", artistID)
	}
	artist := toArtist(body.Artist)

	// Biography and similar artists come from a separate view. Failure here
	// only loses enrichment, not the artist itself.
	info, err := a.client.getJSON(ctx, "getArtistInfo2", url.Values{"id": {artistID}})
	if err != nil {
		a.logger.Debug("artist info unavailable", "artist", artistID, "error", err)
		return artist, nil
	}
	if info.ArtistInfo2 != nil {
		artist.Biography = info.ArtistInfo2.Biography
		artist.MusicBrainzID = info.ArtistInfo2.MusicBrainzID
		for i := range info.ArtistInfo2.SimilarArtist {
			artist.SimilarArtists = append(artist.SimilarArtists, toArtist(&info.ArtistInfo2.SimilarArtist[i]))
		}
	}
	return artist, nil
}

func (a *Adapter) GetAlbums(ctx context.Context, query domain.AlbumQuery) ([]*domain.Album, error) {
	params := url.Values{"type": {albumListType(query.Type)}, "size": {"500"}}
	switch query.Type {
	case domain.AlbumQueryYearRange:
		params.Set("fromYear", strconv.Itoa(query.YearRange[0]))
		params.Set("toYear", strconv.Itoa(query.YearRange[1]))
	case domain.AlbumQueryGenre:
		params.Set("genre", query.Genre)
	}
	body, err := a.client.getJSON(ctx, "getAlbumList2", params)
	if err != nil {
		return nil, err
	}
	if body.AlbumList2 == nil {
		return nil, nil
	}
	albums := make([]*domain.Album, 0, len(body.AlbumList2.Album))
	for i := range body.AlbumList2.Album {
		albums = append(albums, toAlbum(&body.AlbumList2.Album[i]))
	}
	return albums, nil
}

func albumListType(t domain.AlbumQueryType) string {
	switch t {
	case domain.AlbumQueryRandom:
		return "random"
	case domain.AlbumQueryNewest:
		return "newest"
	case domain.AlbumQueryFrequent:
		return "frequent"
	case domain.AlbumQueryRecent:
		return "recent"
	case domain.AlbumQueryStarred:
		return "starred"
	case domain.AlbumQueryAlphabeticalByName:
		return "alphabeticalByName"
	case domain.AlbumQueryAlphabeticalByArtist:
		return "alphabeticalByArtist"
	case domain.AlbumQueryYearRange:
		return "byYear"
	case domain.AlbumQueryGenre:
		return "byGenre"
	default:
		return "random"
	}
}

func (a *Adapter) GetAlbum(ctx context.Context, albumID string) (*domain.Album, error) {
	body, err := a.client.getJSON(ctx, "getAlbum", url.Values{"id": {albumID}})
	if err != nil {
		return nil, err
	}
	if body.Album == nil {
		return nil, fmt.Errorf("album %s: empty response", albumID)
	}
	return toAlbum(body.Album), nil
}

func (a *Adapter) GetDirectory(ctx context.Context, directoryID string) (*domain.Directory, error) {
	body, err := a.client.getJSON(ctx, "getMusicDirectory", url.Values{"id": {directoryID}})
	if err != nil {
		return nil, err
	}
	if body.Directory == nil {
		return nil, fmt.Errorf("directory %s: empty response", directoryID)
	}
	dir := &domain.Directory{
		ID:       body.Directory.ID,
		Name:     body.Directory.Name,
		ParentID: body.Directory.Parent,
	}
	for i := range body.Directory.Child {
		child := &body.Directory.Child[i]
		if child.IsDir {
			dir.Children = append(dir.Children, domain.DirectoryEntry{
				Directory: &domain.Directory{ID: child.ID, Name: child.Title, ParentID: child.Parent},
			})
		} else {
			dir.Children = append(dir.Children, domain.DirectoryEntry{Song: toSong(child)})
		}
	}
	return dir, nil
}

func (a *Adapter) GetIgnoredArticles(ctx context.Context) ([]string, error) {
	body, err := a.client.getJSON(ctx, "getArtists", nil)
	if err != nil {
		return nil, err
	}
	if body.Artists == nil {
		return nil, nil
	}
	return strings.Fields(body.Artists.IgnoredArticles), nil
}

func (a *Adapter) GetCoverArtURI(coverArtID string, schemes []string, size int) (string, error) {
	if !schemeSupported(schemes, a.client.base.Scheme) {
		return "", fmt.Errorf("no supported scheme among %v", schemes)
	}
	params := url.Values{"id": {coverArtID}}
	if size > 0 {
		params.Set("size", strconv.Itoa(size))
	}
	return a.client.requestURL("getCoverArt", params), nil
}

func (a *Adapter) GetSongFileURI(songID string, schemes []string) (string, error) {
	if !schemeSupported(schemes, a.client.base.Scheme) {
		return "", fmt.Errorf("no supported scheme among %v", schemes)
	}
	return a.client.requestURL("download", url.Values{"id": {songID}}), nil
}

func (a *Adapter) GetSongStreamURI(songID string) (string, error) {
	return a.client.requestURL("stream", url.Values{"id": {songID}}), nil
}

func schemeSupported(schemes []string, scheme string) bool {
	for _, s := range schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func (a *Adapter) ScrobbleSong(ctx context.Context, songID string) error {
	_, err := a.client.getJSON(ctx, "scrobble", url.Values{
		"id":         {songID},
		"submission": {"true"},
	})
	return err
}

func (a *Adapter) Search(ctx context.Context, query string) (*domain.SearchResult, error) {
	body, err := a.client.getJSON(ctx, "search3", url.Values{
		"query":       {query},
		"artistCount": {"20"},
		"albumCount":  {"20"},
		"songCount":   {"20"},
	})
	if err != nil {
		return nil, err
	}
	result := domain.NewSearchResult(query)
	if body.SearchResult3 == nil {
		return result, nil
	}
	var artists []*domain.Artist
	for i := range body.SearchResult3.Artist {
		artists = append(artists, toArtist(&body.SearchResult3.Artist[i]))
	}
	var albums []*domain.Album
	for i := range body.SearchResult3.Album {
		albums = append(albums, toAlbum(&body.SearchResult3.Album[i]))
	}
	var songs []*domain.Song
	for i := range body.SearchResult3.Song {
		songs = append(songs, toSong(&body.SearchResult3.Song[i]))
	}
	result.Add(artists, albums, songs, nil)
	return result, nil
}

func (a *Adapter) GetPlayQueue(ctx context.Context) (*domain.PlayQueue, error) {
	body, err := a.client.getJSON(ctx, "getPlayQueue", nil)
	if err != nil {
		return nil, err
	}
	if body.PlayQueue == nil {
		return nil, nil
	}
	queue := &domain.PlayQueue{
		Position:  time.Duration(body.PlayQueue.Position) * time.Millisecond,
		Username:  body.PlayQueue.Username,
		Changed:   body.PlayQueue.Changed,
		ChangedBy: body.PlayQueue.ChangedBy,
	}
	for i := range body.PlayQueue.Entry {
		entry := &body.PlayQueue.Entry[i]
		if entry.ID == body.PlayQueue.Current {
			queue.CurrentIndex = i
		}
		queue.Songs = append(queue.Songs, toSong(entry))
	}
	return queue, nil
}

func (a *Adapter) SavePlayQueue(ctx context.Context, songIDs []string, currentIndex int, position int64) error {
	params := url.Values{"position": {strconv.FormatInt(position, 10)}}
	for _, id := range songIDs {
		params.Add("id", id)
	}
	if currentIndex >= 0 && currentIndex < len(songIDs) {
		params.Set("current", songIDs[currentIndex])
	}
	_, err := a.client.getJSON(ctx, "savePlayQueue", params)
	return err
}

func toPlaylist(ref *playlistRef) *domain.Playlist {
	playlist := &domain.Playlist{
		ID:         ref.ID,
		Name:       ref.Name,
		SongCount:  ref.SongCount,
		Duration:   time.Duration(ref.Duration) * time.Second,
		Created:    ref.Created,
		Changed:    ref.Changed,
		Comment:    ref.Comment,
		Owner:      ref.Owner,
		Public:     ref.Public,
		CoverArtID: ref.CoverArt,
	}
	for i := range ref.Entry {
		playlist.Songs = append(playlist.Songs, toSong(&ref.Entry[i]))
	}
	return playlist
}

func toArtist(ref *artistRef) *domain.Artist {
	artist := &domain.Artist{
		ID:            ref.ID,
		Name:          ref.Name,
		AlbumCount:    ref.AlbumCount,
		ArtistImageID: ref.CoverArt,
		Starred:       ref.Starred,
	}
	if artist.AlbumCount == 0 {
		artist.AlbumCount = len(ref.Album)
	}
	for i := range ref.Album {
		artist.Albums = append(artist.Albums, toAlbum(&ref.Album[i]))
	}
	return artist
}

func toAlbum(ref *albumRef) *domain.Album {
	album := &domain.Album{
		ID:         ref.ID,
		Name:       ref.Name,
		CoverArtID: ref.CoverArt,
		SongCount:  ref.SongCount,
		Duration:   time.Duration(ref.Duration) * time.Second,
		Created:    ref.Created,
		PlayCount:  ref.PlayCount,
		Starred:    ref.Starred,
		Year:       ref.Year,
	}
	if ref.Artist != "" || ref.ArtistID != "" {
		album.Artist = &domain.Artist{ID: ref.ArtistID, Name: ref.Artist}
	}
	if ref.Genre != "" {
		album.Genre = &domain.Genre{Name: ref.Genre}
	}
	for i := range ref.Song {
		album.Songs = append(album.Songs, toSong(&ref.Song[i]))
	}
	return album
}

func toSong(ref *childRef) *domain.Song {
	song := &domain.Song{
		ID:         ref.ID,
		Title:      ref.Title,
		Track:      ref.Track,
		DiscNumber: ref.DiscNumber,
		Year:       ref.Year,
		Duration:   time.Duration(ref.Duration) * time.Second,
		ParentID:   ref.Parent,
		Path:       ref.Path,
		Size:       ref.Size,
		CoverArtID: ref.CoverArt,
		UserRating: ref.UserRating,
		Starred:    ref.Starred,
	}
	if ref.Album != "" || ref.AlbumID != "" {
		song.Album = &domain.Album{ID: ref.AlbumID, Name: ref.Album}
	}
	if ref.Artist != "" || ref.ArtistID != "" {
		song.Artist = &domain.Artist{ID: ref.ArtistID, Name: ref.Artist}
	}
	if ref.Genre != "" {
		song.Genre = &domain.Genre{Name: ref.Genre}
	}
	return song
}
