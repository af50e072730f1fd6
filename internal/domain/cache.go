package domain

import "fmt"

// CachedDataKey names a kind of cacheable entity. Keys are stable strings:
// they are used as bucket key material by the caching adapter.
type CachedDataKey string

const (
	KeyAlbum             CachedDataKey = "album"
	KeyAlbumsQueryResult CachedDataKey = "albums"
	KeyArtist            CachedDataKey = "artist"
	KeyArtists           CachedDataKey = "artists"
	KeyCoverArtFile      CachedDataKey = "cover_art_file"
	KeyDirectory         CachedDataKey = "directory"
	KeyGenre             CachedDataKey = "genre"
	KeyGenres            CachedDataKey = "genres"
	KeyIgnoredArticles   CachedDataKey = "ignored_articles"
	KeyPlaylistDetails   CachedDataKey = "playlist_details"
	KeyPlaylists         CachedDataKey = "playlists"
	KeySearchResults     CachedDataKey = "search_results"
	KeySong              CachedDataKey = "song"
	KeySongFile          CachedDataKey = "song_file"
	KeySongFilePermanent CachedDataKey = "song_file_permanent"

	// Deletion-only keys. These never identify a cached item; they select a
	// scope for DeleteData.
	KeyAllSongs   CachedDataKey = "all_songs"
	KeyEverything CachedDataKey = "everything"
)

// SongCacheStatus classifies the local cache state of a song file.
type SongCacheStatus int

const (
	// NotCached means the song file is not on disk.
	NotCached SongCacheStatus = iota
	// Cached means the song file is on disk and valid.
	Cached
	// PermanentlyCached means the song file is on disk and exempt from cache
	// eviction.
	PermanentlyCached
	// Downloading means a transfer for the song is in flight right now. This
	// is derived from live manager state, never persisted.
	Downloading
	// CachedStale means the song file is on disk but its cache item has been
	// invalidated.
	CachedStale
)

func (s SongCacheStatus) String() string {
	switch s {
	case NotCached:
		return "not cached"
	case Cached:
		return "cached"
	case PermanentlyCached:
		return "permanently cached"
	case Downloading:
		return "downloading"
	case CachedStale:
		return "cached (stale)"
	default:
		return fmt.Sprintf("SongCacheStatus(%d)", int(s))
	}
}

// DownloadEvent is the kind of a DownloadProgress notification.
type DownloadEvent int

const (
	DownloadQueued DownloadEvent = iota
	DownloadProgressed
	DownloadDone
	DownloadCancelled
	DownloadError
)

func (e DownloadEvent) String() string {
	switch e {
	case DownloadQueued:
		return "queued"
	case DownloadProgressed:
		return "progress"
	case DownloadDone:
		return "done"
	case DownloadCancelled:
		return "cancelled"
	case DownloadError:
		return "error"
	default:
		return fmt.Sprintf("DownloadEvent(%d)", int(e))
	}
}

// DownloadProgress is one notification in a song download's lifecycle:
// Queued, zero or more Progressed (only when the total size is known), then
// exactly one of Done, Cancelled, or Error.
type DownloadProgress struct {
	Event        DownloadEvent
	CurrentBytes int64
	TotalBytes   int64
	Err          error
}

// Fraction returns the completed fraction in [0,1], or -1 when the total
// size is unknown.
func (p DownloadProgress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return -1
	}
	return float64(p.CurrentBytes) / float64(p.TotalBytes)
}
