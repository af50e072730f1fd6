package boltcache

import (
	"context"
	"log/slog"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/cadenza-player/cadenza/internal/adapter"
	"github.com/cadenza-player/cadenza/internal/domain"
)

// Adapter is the local caching adapter. It can service reads for anything it
// has ingested and reports misses, with partial data where available, for
// everything else. All mutations belong to the ground truth and return
// ErrNotSupported here.
type Adapter struct {
	store  *Store
	caps   adapter.CapabilitySet
	logger *slog.Logger
}

var _ adapter.CachingAdapter = (*Adapter)(nil)

// New opens the cache under dir.
func New(dir string, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := OpenStore(dir)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		store: store,
		caps: adapter.NewCapabilitySet(
			adapter.CanGetPlaylists,
			adapter.CanGetPlaylistDetails,
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
			adapter.CanSearch,
		),
		logger: logger,
	}, nil
}

func (a *Adapter) InitialSync(ctx context.Context) error { return nil }

func (a *Adapter) Shutdown() error { return a.store.Close() }

func (a *Adapter) Networked() bool { return false }

func (a *Adapter) Ping(ctx context.Context) bool { return true }

func (a *Adapter) Capabilities() adapter.CapabilitySet { return a.caps }

func (a *Adapter) SupportedSchemes() []string { return []string{"file"} }

// === Hydration ===
//
// Entities are stored normalized: embedded sub-entities are thin references
// into their own buckets. Reads re-join them, shallowly, so a song's album
// does not drag in the album's whole song list.

func loadSong(tx *bolt.Tx, id string) (*domain.Song, bool) {
	var song domain.Song
	if !getJSON(tx, bucketSongs, id, &song) {
		return nil, false
	}
	if song.Album != nil && song.Album.ID != "" {
		var album domain.Album
		if getJSON(tx, bucketAlbums, song.Album.ID, &album) {
			album.Songs = nil
			song.Album = &album
		}
	}
	if song.Artist != nil && song.Artist.ID != "" {
		var artist domain.Artist
		if getJSON(tx, bucketArtists, song.Artist.ID, &artist) {
			artist.Albums = nil
			artist.SimilarArtists = nil
			song.Artist = &artist
		}
	}
	if song.Genre != nil && song.Genre.Name != "" {
		var genre domain.Genre
		if getJSON(tx, bucketGenres, song.Genre.Name, &genre) {
			song.Genre = &genre
		}
	}
	return &song, true
}

func loadAlbum(tx *bolt.Tx, id string, withSongs bool) (*domain.Album, bool) {
	var album domain.Album
	if !getJSON(tx, bucketAlbums, id, &album) {
		return nil, false
	}
	if album.Artist != nil && album.Artist.ID != "" {
		var artist domain.Artist
		if getJSON(tx, bucketArtists, album.Artist.ID, &artist) {
			artist.Albums = nil
			artist.SimilarArtists = nil
			album.Artist = &artist
		}
	}
	if !withSongs {
		album.Songs = nil
		return &album, true
	}
	songs := make([]*domain.Song, 0, len(album.Songs))
	for _, ref := range album.Songs {
		if song, ok := loadSong(tx, ref.ID); ok {
			songs = append(songs, song)
		}
	}
	album.Songs = songs
	return &album, true
}

func loadArtist(tx *bolt.Tx, id string, withAlbums bool) (*domain.Artist, bool) {
	var artist domain.Artist
	if !getJSON(tx, bucketArtists, id, &artist) {
		return nil, false
	}
	if !withAlbums {
		artist.Albums = nil
		return &artist, true
	}
	albums := make([]*domain.Album, 0, len(artist.Albums))
	for _, ref := range artist.Albums {
		if album, ok := loadAlbum(tx, ref.ID, false); ok {
			albums = append(albums, album)
		}
	}
	artist.Albums = albums
	return &artist, true
}

func loadPlaylist(tx *bolt.Tx, id string, withSongs bool) (*domain.Playlist, bool) {
	var playlist domain.Playlist
	if !getJSON(tx, bucketPlaylists, id, &playlist) {
		return nil, false
	}
	if !withSongs {
		playlist.Songs = nil
		return &playlist, true
	}
	songs := make([]*domain.Song, 0, len(playlist.Songs))
	for _, ref := range playlist.Songs {
		if song, ok := loadSong(tx, ref.ID); ok {
			songs = append(songs, song)
		}
	}
	playlist.Songs = songs
	return &playlist, true
}

// === Reads ===

func (a *Adapter) GetSong(ctx context.Context, songID string) (*domain.Song, error) {
	var song *domain.Song
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		song, _ = loadSong(tx, songID)
		row, ok := getRow(tx, domain.KeySong, songID)
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if song == nil {
		return nil, domain.CacheMiss(nil)
	}
	if !valid {
		return nil, domain.CacheMiss(song)
	}
	return song, nil
}

func (a *Adapter) GetAlbum(ctx context.Context, albumID string) (*domain.Album, error) {
	var album *domain.Album
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		album, _ = loadAlbum(tx, albumID, true)
		row, ok := getRow(tx, domain.KeyAlbum, albumID)
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if album == nil {
		return nil, domain.CacheMiss(nil)
	}
	if !valid {
		return nil, domain.CacheMiss(album)
	}
	return album, nil
}

func (a *Adapter) GetArtist(ctx context.Context, artistID string) (*domain.Artist, error) {
	var artist *domain.Artist
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		artist, _ = loadArtist(tx, artistID, true)
		row, ok := getRow(tx, domain.KeyArtist, artistID)
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if artist == nil {
		return nil, domain.CacheMiss(nil)
	}
	if !valid {
		return nil, domain.CacheMiss(artist)
	}
	return artist, nil
}

func (a *Adapter) GetArtists(ctx context.Context) ([]*domain.Artist, error) {
	var artists []*domain.Artist
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		var ids []string
		if getJSON(tx, bucketMisc, "artists_list", &ids) {
			for _, id := range ids {
				if artist, ok := loadArtist(tx, id, false); ok {
					artists = append(artists, artist)
				}
			}
		}
		row, ok := getRow(tx, domain.KeyArtists, "")
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !valid {
		if artists == nil {
			return nil, domain.CacheMiss(nil)
		}
		return nil, domain.CacheMiss(artists)
	}
	return artists, nil
}

func (a *Adapter) GetAlbums(ctx context.Context, query domain.AlbumQuery) ([]*domain.Album, error) {
	hash := query.StrHash()
	var albums []*domain.Album
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		var ids []string
		if getJSON(tx, bucketMisc, "album_list:"+hash, &ids) {
			for _, id := range ids {
				if album, ok := loadAlbum(tx, id, false); ok {
					albums = append(albums, album)
				}
			}
		}
		row, ok := getRow(tx, domain.KeyAlbumsQueryResult, hash)
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !valid {
		if albums == nil {
			return nil, domain.CacheMiss(nil)
		}
		return nil, domain.CacheMiss(albums)
	}
	return albums, nil
}

func (a *Adapter) GetGenres(ctx context.Context) ([]*domain.Genre, error) {
	var genres []*domain.Genre
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		var names []string
		if getJSON(tx, bucketMisc, "genres_list", &names) {
			for _, name := range names {
				var genre domain.Genre
				if getJSON(tx, bucketGenres, name, &genre) {
					genres = append(genres, &genre)
				}
			}
		}
		row, ok := getRow(tx, domain.KeyGenres, "")
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !valid {
		if genres == nil {
			return nil, domain.CacheMiss(nil)
		}
		return nil, domain.CacheMiss(genres)
	}
	return genres, nil
}

func (a *Adapter) GetIgnoredArticles(ctx context.Context) ([]string, error) {
	var articles []string
	var found, valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		found = getJSON(tx, bucketMisc, "ignored_articles", &articles)
		row, ok := getRow(tx, domain.KeyIgnoredArticles, "")
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !valid {
		if !found {
			return nil, domain.CacheMiss(nil)
		}
		return nil, domain.CacheMiss(articles)
	}
	return articles, nil
}

func (a *Adapter) GetPlaylists(ctx context.Context) ([]*domain.Playlist, error) {
	var playlists []*domain.Playlist
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		var ids []string
		if getJSON(tx, bucketMisc, "playlists_list", &ids) {
			for _, id := range ids {
				if playlist, ok := loadPlaylist(tx, id, false); ok {
					playlists = append(playlists, playlist)
				}
			}
		}
		row, ok := getRow(tx, domain.KeyPlaylists, "")
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !valid {
		if playlists == nil {
			return nil, domain.CacheMiss(nil)
		}
		return nil, domain.CacheMiss(playlists)
	}
	return playlists, nil
}

func (a *Adapter) GetPlaylistDetails(ctx context.Context, playlistID string) (*domain.Playlist, error) {
	var playlist *domain.Playlist
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		playlist, _ = loadPlaylist(tx, playlistID, true)
		row, ok := getRow(tx, domain.KeyPlaylistDetails, playlistID)
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if playlist == nil {
		return nil, domain.CacheMiss(nil)
	}
	if !valid {
		return nil, domain.CacheMiss(playlist)
	}
	return playlist, nil
}

func (a *Adapter) GetDirectory(ctx context.Context, directoryID string) (*domain.Directory, error) {
	var dir *domain.Directory
	var valid bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		var stored domain.Directory
		if getJSON(tx, bucketDirectories, directoryID, &stored) {
			children := make([]domain.DirectoryEntry, 0, len(stored.Children))
			for _, child := range stored.Children {
				if child.Song != nil {
					if song, ok := loadSong(tx, child.Song.ID); ok {
						children = append(children, domain.DirectoryEntry{Song: song})
						continue
					}
				}
				children = append(children, child)
			}
			stored.Children = children
			dir = &stored
		}
		row, ok := getRow(tx, domain.KeyDirectory, directoryID)
		valid = ok && row.Valid
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dir == nil {
		return nil, domain.CacheMiss(nil)
	}
	if !valid {
		return nil, domain.CacheMiss(dir)
	}
	return dir, nil
}

// Search services every query from whatever the cache holds. Surrogate
// entities are excluded: they exist only to anchor references, not to be
// shown.
func (a *Adapter) Search(ctx context.Context, query string) (*domain.SearchResult, error) {
	result := domain.NewSearchResult(query)
	err := a.store.db.View(func(tx *bolt.Tx) error {
		var artists []*domain.Artist
		tx.Bucket(bucketArtists).ForEach(func(k, v []byte) error {
			if isSurrogate(string(k)) {
				return nil
			}
			if artist, ok := loadArtist(tx, string(k), false); ok {
				artists = append(artists, artist)
			}
			return nil
		})
		var albums []*domain.Album
		tx.Bucket(bucketAlbums).ForEach(func(k, v []byte) error {
			if isSurrogate(string(k)) {
				return nil
			}
			if album, ok := loadAlbum(tx, string(k), false); ok {
				albums = append(albums, album)
			}
			return nil
		})
		var songs []*domain.Song
		tx.Bucket(bucketSongs).ForEach(func(k, v []byte) error {
			if song, ok := loadSong(tx, string(k)); ok {
				songs = append(songs, song)
			}
			return nil
		})
		var playlists []*domain.Playlist
		tx.Bucket(bucketPlaylists).ForEach(func(k, v []byte) error {
			if playlist, ok := loadPlaylist(tx, string(k), false); ok {
				playlists = append(playlists, playlist)
			}
			return nil
		})
		result.Add(artists, albums, songs, playlists)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetCachedStatuses reports the cache state of each song ID. Unknown IDs map
// to NotCached; the method never fails.
func (a *Adapter) GetCachedStatuses(songIDs []string) map[string]domain.SongCacheStatus {
	statuses := make(map[string]domain.SongCacheStatus, len(songIDs))
	a.store.db.View(func(tx *bolt.Tx) error {
		for _, id := range songIDs {
			statuses[id] = songStatus(tx, id)
		}
		return nil
	})
	return statuses
}

func songStatus(tx *bolt.Tx, songID string) domain.SongCacheStatus {
	row, ok := getRow(tx, domain.KeySongFile, songID)
	if !ok || row.FilePath == "" {
		return domain.NotCached
	}
	if _, err := os.Stat(row.FilePath); err != nil {
		return domain.NotCached
	}
	if !row.Valid {
		return domain.CachedStale
	}
	if row.Permanent {
		return domain.PermanentlyCached
	}
	return domain.Cached
}

// === URIs ===

func (a *Adapter) GetSongFileURI(songID string, schemes []string) (string, error) {
	if !hasScheme(schemes, "file") {
		return "", domain.NotSupported("GetSongFileURI")
	}
	return a.filePath(domain.KeySongFile, songID)
}

func (a *Adapter) GetSongStreamURI(songID string) (string, error) {
	return a.filePath(domain.KeySongFile, songID)
}

func (a *Adapter) GetCoverArtURI(coverArtID string, schemes []string, size int) (string, error) {
	if !hasScheme(schemes, "file") {
		return "", domain.NotSupported("GetCoverArtURI")
	}
	return a.filePath(domain.KeyCoverArtFile, coverArtID)
}

// filePath resolves a file-backed item to its on-disk path, reporting a miss
// when the item is absent, stale, or its file has vanished.
func (a *Adapter) filePath(key domain.CachedDataKey, param string) (string, error) {
	var row cacheRow
	var ok bool
	a.store.db.View(func(tx *bolt.Tx) error {
		row, ok = getRow(tx, key, param)
		return nil
	})
	if !ok || !row.Valid || row.FilePath == "" {
		return "", domain.CacheMiss(nil)
	}
	if _, err := os.Stat(row.FilePath); err != nil {
		return "", domain.CacheMiss(nil)
	}
	return row.FilePath, nil
}

func hasScheme(schemes []string, want string) bool {
	for _, s := range schemes {
		if s == want {
			return true
		}
	}
	return false
}

// === Mutations (ground truth only) ===

func (a *Adapter) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*domain.Playlist, error) {
	return nil, domain.NotSupported("CreatePlaylist")
}

func (a *Adapter) UpdatePlaylist(ctx context.Context, playlistID string, update adapter.PlaylistUpdate) (*domain.Playlist, error) {
	return nil, domain.NotSupported("UpdatePlaylist")
}

func (a *Adapter) DeletePlaylist(ctx context.Context, playlistID string) error {
	return domain.NotSupported("DeletePlaylist")
}

func (a *Adapter) ScrobbleSong(ctx context.Context, songID string) error {
	return domain.NotSupported("ScrobbleSong")
}

func (a *Adapter) GetPlayQueue(ctx context.Context) (*domain.PlayQueue, error) {
	return nil, domain.NotSupported("GetPlayQueue")
}

func (a *Adapter) SavePlayQueue(ctx context.Context, songIDs []string, currentIndex int, position int64) error {
	return domain.NotSupported("SavePlayQueue")
}
