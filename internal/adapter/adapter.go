// Package adapter defines the contracts between the request manager and the
// data sources it arbitrates over: a ground-truth server adapter and a local
// caching adapter layered in front of it.
package adapter

import (
	"context"

	"github.com/cadenza-player/cadenza/internal/domain"
)

// Capability identifies one optional adapter operation. Callers check the
// adapter's capability set before invoking the operation; adapters return
// domain.ErrNotSupported if called anyway.
type Capability int

const (
	CanGetPlaylists Capability = iota
	CanGetPlaylistDetails
	CanCreatePlaylist
	CanUpdatePlaylist
	CanDeletePlaylist
	CanGetCoverArtURI
	CanGetSongFileURI
	CanGetSongStreamURI
	CanGetSong
	CanGetGenres
	CanGetArtists
	CanGetArtist
	CanGetAlbums
	CanGetAlbum
	CanGetDirectory
	CanGetIgnoredArticles
	CanScrobbleSong
	CanSearch
	CanGetPlayQueue
	CanSavePlayQueue
)

// CapabilitySet is the set of capabilities an adapter supports. It is computed
// once after InitialSync and treated as immutable afterwards.
type CapabilitySet map[Capability]bool

// Has reports whether the capability is in the set.
func (s CapabilitySet) Has(c Capability) bool { return s[c] }

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// PlaylistUpdate describes a playlist mutation. Nil fields are left unchanged.
type PlaylistUpdate struct {
	Name    *string
	Comment *string
	Public  *bool
	// SongIDs replaces the playlist's song list when non-nil.
	SongIDs []string
}

// Adapter is a source of library data. Implementations may be networked
// (backed by a server) or local (backed by an on-disk cache).
//
// Every operation guarded by a capability returns domain.ErrNotSupported when
// the capability is absent. Data operations take a context so in-flight
// requests can be abandoned on shutdown.
type Adapter interface {
	// InitialSync prepares the adapter for use. No data operation may be
	// called before it returns.
	InitialSync(ctx context.Context) error

	// Shutdown releases the adapter's resources. No data operation may be
	// called after it.
	Shutdown() error

	// Networked reports whether the adapter reaches over the network. The
	// manager never routes requests to a networked adapter while offline mode
	// is on.
	Networked() bool

	// Ping reports whether the adapter can currently service requests.
	// Non-networked adapters always return true.
	Ping(ctx context.Context) bool

	// Capabilities returns the adapter's capability set.
	Capabilities() CapabilitySet

	// SupportedSchemes returns the URI schemes the adapter can hand out for
	// song and cover-art URIs, in preference order.
	SupportedSchemes() []string

	GetPlaylists(ctx context.Context) ([]*domain.Playlist, error)
	GetPlaylistDetails(ctx context.Context, playlistID string) (*domain.Playlist, error)
	CreatePlaylist(ctx context.Context, name string, songIDs []string) (*domain.Playlist, error)
	UpdatePlaylist(ctx context.Context, playlistID string, update PlaylistUpdate) (*domain.Playlist, error)
	DeletePlaylist(ctx context.Context, playlistID string) error

	GetSong(ctx context.Context, songID string) (*domain.Song, error)
	GetGenres(ctx context.Context) ([]*domain.Genre, error)
	GetArtists(ctx context.Context) ([]*domain.Artist, error)
	GetArtist(ctx context.Context, artistID string) (*domain.Artist, error)
	GetAlbums(ctx context.Context, query domain.AlbumQuery) ([]*domain.Album, error)
	GetAlbum(ctx context.Context, albumID string) (*domain.Album, error)
	GetDirectory(ctx context.Context, directoryID string) (*domain.Directory, error)
	GetIgnoredArticles(ctx context.Context) ([]string, error)

	// GetCoverArtURI returns a URI for the cover art with the given ID, in one
	// of the requested schemes. Size is a pixel hint servers may honor.
	GetCoverArtURI(coverArtID string, schemes []string, size int) (string, error)

	// GetSongFileURI returns a URI for the song's full file.
	GetSongFileURI(songID string, schemes []string) (string, error)

	// GetSongStreamURI returns a URI suitable for streaming playback.
	GetSongStreamURI(songID string) (string, error)

	ScrobbleSong(ctx context.Context, songID string) error

	Search(ctx context.Context, query string) (*domain.SearchResult, error)

	GetPlayQueue(ctx context.Context) (*domain.PlayQueue, error)
	SavePlayQueue(ctx context.Context, songIDs []string, currentIndex int, position int64) error
}

// FileIngest is the payload for ingesting a downloaded file. BufferPath names
// a fully written temp file that the caching adapter takes ownership of.
type FileIngest struct {
	BufferPath string
	// Path is the server-relative path for song files. Empty for cover art.
	Path string
}

// CachingAdapter is an Adapter that can also absorb data fetched from a
// ground-truth adapter and track per-item validity.
//
// Payload types for IngestNewData by key:
//
//	KeyAlbum              *domain.Album
//	KeyAlbumsQueryResult  []*domain.Album (param is the query's StrHash)
//	KeyArtist             *domain.Artist
//	KeyArtists            []*domain.Artist
//	KeyCoverArtFile       FileIngest (param is the cover-art ID)
//	KeyDirectory          *domain.Directory
//	KeyGenres             []*domain.Genre
//	KeyIgnoredArticles    []string
//	KeyPlaylistDetails    *domain.Playlist
//	KeyPlaylists          []*domain.Playlist
//	KeySearchResults      *domain.SearchResult
//	KeySong               *domain.Song
//	KeySongFile           FileIngest (param is the song ID)
//	KeySongFilePermanent  nil (marks an already-ingested song file permanent)
type CachingAdapter interface {
	Adapter

	// IngestNewData stores freshly fetched ground-truth data and marks the
	// (key, param) item valid. Each call is atomic.
	IngestNewData(key domain.CachedDataKey, param string, data any) error

	// InvalidateData marks the (key, param) item stale without removing it.
	// Reads of an invalidated item return a cache miss carrying the stale
	// data as partial data. Invalidation cascades to dependent items.
	InvalidateData(key domain.CachedDataKey, param string) error

	// DeleteData removes the (key, param) item and its backing files
	// entirely. KeyAllSongs and KeyEverything select bulk scopes and ignore
	// param.
	DeleteData(key domain.CachedDataKey, param string) error

	// GetCachedStatuses reports the cache state of each song ID. It never
	// fails; unknown IDs map to NotCached.
	GetCachedStatuses(songIDs []string) map[string]domain.SongCacheStatus
}
