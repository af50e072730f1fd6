package boltcache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	bolt "go.etcd.io/bbolt"

	"github.com/cadenza-player/cadenza/internal/adapter"
	"github.com/cadenza-player/cadenza/internal/domain"
)

// IngestNewData stores freshly fetched ground-truth data and marks the
// (key, param) item valid. The whole ingest runs in one write transaction.
func (a *Adapter) IngestNewData(key domain.CachedDataKey, param string, data any) error {
	a.store.writeMu.Lock()
	defer a.store.writeMu.Unlock()

	switch key {
	case domain.KeySongFile:
		ingest, ok := data.(adapter.FileIngest)
		if !ok {
			return fmt.Errorf("ingest %s: expected FileIngest, got %T", key, data)
		}
		return a.ingestSongFile(param, ingest)
	case domain.KeyCoverArtFile:
		ingest, ok := data.(adapter.FileIngest)
		if !ok {
			return fmt.Errorf("ingest %s: expected FileIngest, got %T", key, data)
		}
		return a.ingestCoverArtFile(param, ingest)
	}

	return a.store.db.Update(func(tx *bolt.Tx) error {
		switch key {
		case domain.KeySong:
			song, ok := data.(*domain.Song)
			if !ok {
				return fmt.Errorf("ingest %s: expected *Song, got %T", key, data)
			}
			if err := ingestSong(tx, song); err != nil {
				return err
			}
			return markValid(tx, key, song.ID)

		case domain.KeyAlbum:
			album, ok := data.(*domain.Album)
			if !ok {
				return fmt.Errorf("ingest %s: expected *Album, got %T", key, data)
			}
			id, err := ingestAlbum(tx, album)
			if err != nil {
				return err
			}
			return markValid(tx, key, id)

		case domain.KeyArtist:
			artist, ok := data.(*domain.Artist)
			if !ok {
				return fmt.Errorf("ingest %s: expected *Artist, got %T", key, data)
			}
			id, err := ingestArtist(tx, artist)
			if err != nil {
				return err
			}
			return markValid(tx, key, id)

		case domain.KeyArtists:
			artists, ok := data.([]*domain.Artist)
			if !ok {
				return fmt.Errorf("ingest %s: expected []*Artist, got %T", key, data)
			}
			ids := make([]string, 0, len(artists))
			for _, artist := range artists {
				id, err := ingestArtist(tx, artist)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if err := putJSON(tx, bucketMisc, "artists_list", ids); err != nil {
				return err
			}
			return markValid(tx, key, "")

		case domain.KeyAlbumsQueryResult:
			albums, ok := data.([]*domain.Album)
			if !ok {
				return fmt.Errorf("ingest %s: expected []*Album, got %T", key, data)
			}
			ids := make([]string, 0, len(albums))
			for _, album := range albums {
				id, err := ingestAlbum(tx, album)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if err := putJSON(tx, bucketMisc, "album_list:"+param, ids); err != nil {
				return err
			}
			return markValid(tx, key, param)

		case domain.KeyGenres:
			genres, ok := data.([]*domain.Genre)
			if !ok {
				return fmt.Errorf("ingest %s: expected []*Genre, got %T", key, data)
			}
			names := make([]string, 0, len(genres))
			for _, genre := range genres {
				if err := ingestGenre(tx, genre); err != nil {
					return err
				}
				names = append(names, genre.Name)
			}
			if err := putJSON(tx, bucketMisc, "genres_list", names); err != nil {
				return err
			}
			return markValid(tx, key, "")

		case domain.KeyIgnoredArticles:
			articles, ok := data.([]string)
			if !ok {
				return fmt.Errorf("ingest %s: expected []string, got %T", key, data)
			}
			if err := putJSON(tx, bucketMisc, "ignored_articles", articles); err != nil {
				return err
			}
			return markValid(tx, key, "")

		case domain.KeyPlaylists:
			playlists, ok := data.([]*domain.Playlist)
			if !ok {
				return fmt.Errorf("ingest %s: expected []*Playlist, got %T", key, data)
			}
			ids := make([]string, 0, len(playlists))
			for _, playlist := range playlists {
				if err := ingestPlaylist(tx, playlist); err != nil {
					return err
				}
				ids = append(ids, playlist.ID)
			}
			if err := putJSON(tx, bucketMisc, "playlists_list", ids); err != nil {
				return err
			}
			return markValid(tx, key, "")

		case domain.KeyPlaylistDetails:
			playlist, ok := data.(*domain.Playlist)
			if !ok {
				return fmt.Errorf("ingest %s: expected *Playlist, got %T", key, data)
			}
			if err := ingestPlaylist(tx, playlist); err != nil {
				return err
			}
			return markValid(tx, key, playlist.ID)

		case domain.KeyDirectory:
			dir, ok := data.(*domain.Directory)
			if !ok {
				return fmt.Errorf("ingest %s: expected *Directory, got %T", key, data)
			}
			if err := ingestDirectory(tx, dir); err != nil {
				return err
			}
			return markValid(tx, key, dir.ID)

		case domain.KeySearchResults:
			result, ok := data.(*domain.SearchResult)
			if !ok {
				return fmt.Errorf("ingest %s: expected *SearchResult, got %T", key, data)
			}
			// Search results are not cached as a unit; the entities they
			// carry enrich the entity buckets and are found again by
			// cache-side search.
			for _, artist := range result.Artists() {
				if _, err := ingestArtist(tx, artist); err != nil {
					return err
				}
			}
			for _, album := range result.Albums() {
				if _, err := ingestAlbum(tx, album); err != nil {
					return err
				}
			}
			for _, song := range result.Songs() {
				if err := ingestSong(tx, song); err != nil {
					return err
				}
			}
			return nil

		case domain.KeySongFilePermanent:
			row, ok := getRow(tx, domain.KeySongFile, param)
			if !ok || !row.Valid {
				return fmt.Errorf("song %s has no cached file to pin", param)
			}
			row.Permanent = true
			return putRow(tx, domain.KeySongFile, param, row)

		default:
			return fmt.Errorf("ingest: unsupported data key %q", key)
		}
	})
}

// ingestSong merges a song into the songs bucket and recursively ingests its
// embedded album, artist, and genre. Embedded entities are stored thinned to
// references; only the requested item's validity row is ever marked by the
// caller, never the sub-entities'.
func ingestSong(tx *bolt.Tx, song *domain.Song) error {
	if song == nil || song.ID == "" {
		return nil
	}
	stored := *song

	if stored.Album != nil {
		id, err := ingestAlbum(tx, stored.Album)
		if err != nil {
			return err
		}
		stored.Album = &domain.Album{ID: id, Name: stored.Album.Name}
	}
	if stored.Artist != nil {
		id, err := ingestArtist(tx, stored.Artist)
		if err != nil {
			return err
		}
		stored.Artist = &domain.Artist{ID: id, Name: stored.Artist.Name}
	}
	if stored.Genre != nil {
		if err := ingestGenre(tx, stored.Genre); err != nil {
			return err
		}
		stored.Genre = &domain.Genre{Name: stored.Genre.Name}
	}

	var existing domain.Song
	if getJSON(tx, bucketSongs, stored.ID, &existing) {
		mergeSong(&existing, &stored)
		stored = existing
	}
	return putJSON(tx, bucketSongs, stored.ID, &stored)
}

// ingestAlbum merges an album and returns the ID it was stored under, which
// is a surrogate when the server supplied none.
func ingestAlbum(tx *bolt.Tx, album *domain.Album) (string, error) {
	if album == nil {
		return "", nil
	}
	stored := *album
	if stored.ID == "" {
		if stored.Name == "" {
			return "", nil
		}
		stored.ID = surrogateID(stored.Name)
	}

	if stored.Artist != nil {
		id, err := ingestArtist(tx, stored.Artist)
		if err != nil {
			return "", err
		}
		stored.Artist = &domain.Artist{ID: id, Name: stored.Artist.Name}
	}
	if stored.Genre != nil {
		if err := ingestGenre(tx, stored.Genre); err != nil {
			return "", err
		}
		stored.Genre = &domain.Genre{Name: stored.Genre.Name}
	}
	if stored.Songs != nil {
		refs := make([]*domain.Song, 0, len(stored.Songs))
		for _, song := range stored.Songs {
			if err := ingestSong(tx, song); err != nil {
				return "", err
			}
			refs = append(refs, &domain.Song{ID: song.ID})
		}
		stored.Songs = refs
	}

	var existing domain.Album
	if getJSON(tx, bucketAlbums, stored.ID, &existing) {
		mergeAlbum(&existing, &stored)
		stored = existing
	}
	return stored.ID, putJSON(tx, bucketAlbums, stored.ID, &stored)
}

// ingestArtist merges an artist and returns the ID it was stored under.
func ingestArtist(tx *bolt.Tx, artist *domain.Artist) (string, error) {
	if artist == nil {
		return "", nil
	}
	stored := *artist
	if stored.ID == "" {
		if stored.Name == "" {
			return "", nil
		}
		stored.ID = surrogateID(stored.Name)
	}

	if stored.Albums != nil {
		refs := make([]*domain.Album, 0, len(stored.Albums))
		for _, album := range stored.Albums {
			id, err := ingestAlbum(tx, album)
			if err != nil {
				return "", err
			}
			if id != "" {
				refs = append(refs, &domain.Album{ID: id})
			}
		}
		stored.Albums = refs
	}
	if stored.SimilarArtists != nil {
		refs := make([]*domain.Artist, 0, len(stored.SimilarArtists))
		for _, similar := range stored.SimilarArtists {
			refs = append(refs, &domain.Artist{ID: similar.ID, Name: similar.Name})
		}
		stored.SimilarArtists = refs
	}

	var existing domain.Artist
	if getJSON(tx, bucketArtists, stored.ID, &existing) {
		mergeArtist(&existing, &stored)
		stored = existing
	}
	return stored.ID, putJSON(tx, bucketArtists, stored.ID, &stored)
}

func ingestGenre(tx *bolt.Tx, genre *domain.Genre) error {
	if genre == nil || genre.Name == "" {
		return nil
	}
	var existing domain.Genre
	if getJSON(tx, bucketGenres, genre.Name, &existing) {
		merged := existing
		if genre.SongCount != 0 {
			merged.SongCount = genre.SongCount
		}
		if genre.AlbumCount != 0 {
			merged.AlbumCount = genre.AlbumCount
		}
		return putJSON(tx, bucketGenres, genre.Name, &merged)
	}
	return putJSON(tx, bucketGenres, genre.Name, genre)
}

func ingestPlaylist(tx *bolt.Tx, playlist *domain.Playlist) error {
	if playlist == nil || playlist.ID == "" {
		return nil
	}
	stored := *playlist
	if stored.Songs != nil {
		refs := make([]*domain.Song, 0, len(stored.Songs))
		for _, song := range stored.Songs {
			if err := ingestSong(tx, song); err != nil {
				return err
			}
			refs = append(refs, &domain.Song{ID: song.ID})
		}
		stored.Songs = refs
	}

	var existing domain.Playlist
	if getJSON(tx, bucketPlaylists, stored.ID, &existing) {
		mergePlaylist(&existing, &stored)
		stored = existing
	}
	return putJSON(tx, bucketPlaylists, stored.ID, &stored)
}

func ingestDirectory(tx *bolt.Tx, dir *domain.Directory) error {
	if dir == nil || dir.ID == "" {
		return nil
	}
	stored := *dir
	if stored.Children != nil {
		refs := make([]domain.DirectoryEntry, 0, len(stored.Children))
		for _, child := range stored.Children {
			switch {
			case child.Directory != nil:
				refs = append(refs, domain.DirectoryEntry{
					Directory: &domain.Directory{
						ID:       child.Directory.ID,
						Name:     child.Directory.Name,
						ParentID: child.Directory.ParentID,
					},
				})
			case child.Song != nil:
				if err := ingestSong(tx, child.Song); err != nil {
					return err
				}
				refs = append(refs, domain.DirectoryEntry{Song: &domain.Song{ID: child.Song.ID}})
			}
		}
		stored.Children = refs
	}
	return putJSON(tx, bucketDirectories, stored.ID, &stored)
}

// Merge functions fold incoming data over existing rows, keeping existing
// values wherever the incoming field is unset. A server that stops reporting
// a field never erases what an earlier, richer fetch provided.

func mergeSong(dst, src *domain.Song) {
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Track != 0 {
		dst.Track = src.Track
	}
	if src.DiscNumber != 0 {
		dst.DiscNumber = src.DiscNumber
	}
	if src.Year != 0 {
		dst.Year = src.Year
	}
	if src.Duration != 0 {
		dst.Duration = src.Duration
	}
	if src.ParentID != "" {
		dst.ParentID = src.ParentID
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.Size != 0 {
		dst.Size = src.Size
	}
	if src.CoverArtID != "" {
		dst.CoverArtID = src.CoverArtID
	}
	if src.UserRating != 0 {
		dst.UserRating = src.UserRating
	}
	if src.Starred != nil {
		dst.Starred = src.Starred
	}
	if src.Album != nil {
		dst.Album = src.Album
	}
	if src.Artist != nil {
		dst.Artist = src.Artist
	}
	if src.Genre != nil {
		dst.Genre = src.Genre
	}
}

func mergeAlbum(dst, src *domain.Album) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.CoverArtID != "" {
		dst.CoverArtID = src.CoverArtID
	}
	if src.SongCount != 0 {
		dst.SongCount = src.SongCount
	}
	if src.Duration != 0 {
		dst.Duration = src.Duration
	}
	if src.Created != nil {
		dst.Created = src.Created
	}
	if src.PlayCount != 0 {
		dst.PlayCount = src.PlayCount
	}
	if src.Starred != nil {
		dst.Starred = src.Starred
	}
	if src.Year != 0 {
		dst.Year = src.Year
	}
	if src.Artist != nil {
		dst.Artist = src.Artist
	}
	if src.Genre != nil {
		dst.Genre = src.Genre
	}
	if src.Songs != nil {
		dst.Songs = src.Songs
	}
}

func mergeArtist(dst, src *domain.Artist) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.AlbumCount != 0 {
		dst.AlbumCount = src.AlbumCount
	}
	if src.ArtistImageID != "" {
		dst.ArtistImageID = src.ArtistImageID
	}
	if src.Starred != nil {
		dst.Starred = src.Starred
	}
	if src.Biography != "" {
		dst.Biography = src.Biography
	}
	if src.MusicBrainzID != "" {
		dst.MusicBrainzID = src.MusicBrainzID
	}
	if src.Albums != nil {
		dst.Albums = src.Albums
	}
	if src.SimilarArtists != nil {
		dst.SimilarArtists = src.SimilarArtists
	}
}

func mergePlaylist(dst, src *domain.Playlist) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.SongCount != 0 {
		dst.SongCount = src.SongCount
	}
	if src.Duration != 0 {
		dst.Duration = src.Duration
	}
	if src.Created != nil {
		dst.Created = src.Created
	}
	if src.Changed != nil {
		dst.Changed = src.Changed
	}
	if src.Comment != "" {
		dst.Comment = src.Comment
	}
	if src.Owner != "" {
		dst.Owner = src.Owner
	}
	if src.Public {
		dst.Public = src.Public
	}
	if src.CoverArtID != "" {
		dst.CoverArtID = src.CoverArtID
	}
	if src.Songs != nil {
		dst.Songs = src.Songs
	}
}

// ingestSongFile moves a fully downloaded buffer file into the music
// directory and marks the song file cached, backfilling song metadata from
// the file's tags where the cached song has gaps.
func (a *Adapter) ingestSongFile(songID string, ingest adapter.FileIngest) error {
	rel := sanitizeRelPath(ingest.Path)
	if rel == "" {
		rel = songID
	}
	dest := filepath.Join(a.store.musicDir, rel)
	if err := moveFile(ingest.BufferPath, dest); err != nil {
		return fmt.Errorf("failed to place song file: %w", err)
	}

	meta := readTags(dest)

	return a.store.db.Update(func(tx *bolt.Tx) error {
		if meta != nil {
			var song domain.Song
			if getJSON(tx, bucketSongs, songID, &song) {
				backfillFromTags(&song, meta)
				if err := putJSON(tx, bucketSongs, songID, &song); err != nil {
					return err
				}
			}
		}
		row, _ := getRow(tx, domain.KeySongFile, songID)
		row.Valid = true
		row.FilePath = dest
		row.CachedAt = nowFunc()
		return putRow(tx, domain.KeySongFile, songID, row)
	})
}

// ingestCoverArtFile moves a downloaded image into the cover art directory.
// Files are named by ID hash since cover art IDs are not safe path segments.
func (a *Adapter) ingestCoverArtFile(coverArtID string, ingest adapter.FileIngest) error {
	sum := sha1.Sum([]byte(coverArtID))
	dest := filepath.Join(a.store.coverDir, hex.EncodeToString(sum[:]))
	if err := moveFile(ingest.BufferPath, dest); err != nil {
		return fmt.Errorf("failed to place cover art file: %w", err)
	}

	return a.store.db.Update(func(tx *bolt.Tx) error {
		row, _ := getRow(tx, domain.KeyCoverArtFile, coverArtID)
		row.Valid = true
		row.FilePath = dest
		row.CachedAt = nowFunc()
		return putRow(tx, domain.KeyCoverArtFile, coverArtID, row)
	})
}

// sanitizeRelPath confines a server-reported path to a relative path with no
// traversal components.
func sanitizeRelPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(filepath.FromSlash(path))
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return ""
	}
	return cleaned
}

// moveFile renames src over dest, falling back to copy+remove across
// filesystem boundaries.
func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// songTags is the subset of file tag data used to backfill song metadata.
type songTags struct {
	Title  string
	Artist string
	Album  string
	Genre  string
	Year   int
	Track  int
	Disc   int
}

func readTags(path string) *songTags {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	meta, err := tag.ReadFrom(f)
	if err != nil {
		return nil
	}
	track, _ := meta.Track()
	disc, _ := meta.Disc()
	return &songTags{
		Title:  meta.Title(),
		Artist: meta.Artist(),
		Album:  meta.Album(),
		Genre:  meta.Genre(),
		Year:   meta.Year(),
		Track:  track,
		Disc:   disc,
	}
}

// backfillFromTags fills only fields the cached song is missing; server
// metadata always wins over file tags.
func backfillFromTags(song *domain.Song, tags *songTags) {
	if song.Title == "" {
		song.Title = tags.Title
	}
	if song.Year == 0 {
		song.Year = tags.Year
	}
	if song.Track == 0 {
		song.Track = tags.Track
	}
	if song.DiscNumber == 0 {
		song.DiscNumber = tags.Disc
	}
	if song.Artist == nil && tags.Artist != "" {
		song.Artist = &domain.Artist{Name: tags.Artist}
	}
	if song.Album == nil && tags.Album != "" {
		song.Album = &domain.Album{Name: tags.Album}
	}
	if song.Genre == nil && tags.Genre != "" {
		song.Genre = &domain.Genre{Name: tags.Genre}
	}
}
