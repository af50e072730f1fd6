// Package manager arbitrates every library request between the local caching
// adapter and the ground-truth server adapter, and orchestrates downloads and
// progressive search on top of them.
package manager

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cadenza-player/cadenza/internal/adapter"
	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/internal/domain"
)

const metadataWorkers = 8

// Manager is the single entry point for library data. Reads prefer the cache
// and fall back to the ground truth, whose responses are ingested back into
// the cache. Mutations go to the ground truth and invalidate what they touch.
type Manager struct {
	ground adapter.Adapter
	cache  adapter.CachingAdapter
	logger *slog.Logger

	pool    *Pool
	offline atomic.Bool

	// Download orchestration state, see download.go.
	downloadSem   *semaphore.Weighted
	prefetchCount int
	downloadWait  time.Duration

	downloadMu sync.Mutex
	inFlight   map[string]*Result[string]
	cancelled  map[string]bool

	// Progressive search supersession counter, see search.go.
	searchSeq atomic.Uint64

	shutdownOnce sync.Once
	baseCtx      context.Context
	baseCancel   context.CancelFunc
}

// New wires a manager over the given adapters. The cache may be nil, in which
// case every request goes straight to the ground truth.
func New(ground adapter.Adapter, cache adapter.CachingAdapter, cfg config.DownloadsConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.ConcurrentLimit
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ground:        ground,
		cache:         cache,
		logger:        logger,
		pool:          NewPool(metadataWorkers),
		downloadSem:   semaphore.NewWeighted(int64(limit)),
		prefetchCount: cfg.PrefetchAmount,
		downloadWait:  downloadWaitTimeout,
		inFlight:      make(map[string]*Result[string]),
		cancelled:     make(map[string]bool),
		baseCtx:       ctx,
		baseCancel:    cancel,
	}
}

// InitialSync prepares both adapters. Data operations may be called once it
// returns.
func (m *Manager) InitialSync(ctx context.Context) error {
	if m.cache != nil {
		if err := m.cache.InitialSync(ctx); err != nil {
			return err
		}
	}
	return m.ground.InitialSync(ctx)
}

// Shutdown cancels in-flight downloads, drains the worker pool, and shuts
// down both adapters.
func (m *Manager) Shutdown() error {
	var err error
	m.shutdownOnce.Do(func() {
		m.CancelDownloads(nil)
		m.baseCancel()
		m.pool.Shutdown()
		if m.cache != nil {
			if cerr := m.cache.Shutdown(); cerr != nil {
				err = cerr
			}
		}
		if gerr := m.ground.Shutdown(); gerr != nil && err == nil {
			err = gerr
		}
	})
	return err
}

// SetOfflineMode toggles offline mode. While on, no request reaches a
// networked adapter; cache misses surface immediately.
func (m *Manager) SetOfflineMode(offline bool) {
	m.offline.Store(offline)
	m.logger.Info("offline mode changed", "offline", offline)
}

// Offline reports whether offline mode is on.
func (m *Manager) Offline() bool { return m.offline.Load() }

// Ping reports whether the ground truth can currently service requests.
func (m *Manager) Ping(ctx context.Context) bool {
	if m.offline.Load() && m.ground.Networked() {
		return false
	}
	return m.ground.Ping(ctx)
}

// groundUsable checks whether the ground truth may be consulted for the given
// capability right now.
func (m *Manager) groundUsable(capability adapter.Capability) error {
	if m.ground.Networked() && m.offline.Load() {
		return domain.ErrOfflineMode
	}
	if !m.ground.Capabilities().Has(capability) {
		return domain.ErrNotSupported
	}
	return nil
}

// fetchOptions tune one arbitrated read.
type fetchOptions struct {
	// force skips the cache read and invalidates the item before going to
	// the ground truth.
	force bool
}

// resolve is the arbitration path every cached read goes through:
//
//  1. Unless forced, try the cache; a clean hit resolves immediately.
//  2. A forced read invalidates the cache item (cascading) first.
//  3. If the ground truth is unusable (offline, unreachable capability), the
//     request fails with a cache miss carrying whatever partial data the
//     cache produced.
//  4. Otherwise the ground truth is queried on a worker; its response is
//     ingested into the cache before the Result resolves.
//
// Ground-truth failures also resolve as cache misses with partial data, so
// callers handle exactly one error shape.
func resolve[T any](
	m *Manager,
	key domain.CachedDataKey,
	param string,
	capability adapter.Capability,
	fromCache func(context.Context, adapter.CachingAdapter) (T, error),
	fromGround func(context.Context, adapter.Adapter) (T, error),
	ingestData func(T) any,
	opts fetchOptions,
) *Result[T] {
	var partial any

	if m.cache != nil && m.cache.Capabilities().Has(capability) {
		if !opts.force {
			value, err := fromCache(m.baseCtx, m.cache)
			if err == nil {
				return Of(value)
			}
			if miss := domain.AsCacheMiss(err); miss != nil {
				partial = miss.PartialData
			} else {
				m.logger.Warn("cache read failed", "key", key, "param", param, "error", err)
			}
		} else {
			if err := m.cache.InvalidateData(key, param); err != nil {
				m.logger.Warn("cache invalidation failed", "key", key, "param", param, "error", err)
			}
		}
	}

	if err := m.groundUsable(capability); err != nil {
		return Failed[T](domain.CacheMissFrom(err, partial))
	}

	return Async(m.pool, func() (T, error) {
		value, err := fromGround(m.baseCtx, m.ground)
		if err != nil {
			var zero T
			return zero, domain.CacheMissFrom(err, partial)
		}
		if m.cache != nil {
			if err := m.cache.IngestNewData(key, param, ingestData(value)); err != nil {
				m.logger.Error("ingest failed", "key", key, "param", param, "error", err)
			}
		}
		return value, nil
	})
}

// identity is the common ingestData for responses cached as-is.
func identity[T any](v T) any { return v }

// === Reads ===

func (m *Manager) GetPlaylists(force bool) *Result[[]*domain.Playlist] {
	return resolve(m, domain.KeyPlaylists, "", adapter.CanGetPlaylists,
		func(ctx context.Context, c adapter.CachingAdapter) ([]*domain.Playlist, error) {
			return c.GetPlaylists(ctx)
		},
		func(ctx context.Context, g adapter.Adapter) ([]*domain.Playlist, error) {
			return g.GetPlaylists(ctx)
		},
		identity[[]*domain.Playlist],
		fetchOptions{force: force},
	)
}

func (m *Manager) GetPlaylistDetails(playlistID string, force bool) *Result[*domain.Playlist] {
	return resolve(m, domain.KeyPlaylistDetails, playlistID, adapter.CanGetPlaylistDetails,
		func(ctx context.Context, c adapter.CachingAdapter) (*domain.Playlist, error) {
			return c.GetPlaylistDetails(ctx, playlistID)
		},
		func(ctx context.Context, g adapter.Adapter) (*domain.Playlist, error) {
			return g.GetPlaylistDetails(ctx, playlistID)
		},
		identity[*domain.Playlist],
		fetchOptions{force: force},
	)
}

func (m *Manager) GetSong(songID string, force bool) *Result[*domain.Song] {
	return resolve(m, domain.KeySong, songID, adapter.CanGetSong,
		func(ctx context.Context, c adapter.CachingAdapter) (*domain.Song, error) {
			return c.GetSong(ctx, songID)
		},
		func(ctx context.Context, g adapter.Adapter) (*domain.Song, error) {
			return g.GetSong(ctx, songID)
		},
		identity[*domain.Song],
		fetchOptions{force: force},
	)
}

func (m *Manager) GetGenres(force bool) *Result[[]*domain.Genre] {
	return resolve(m, domain.KeyGenres, "", adapter.CanGetGenres,
		func(ctx context.Context, c adapter.CachingAdapter) ([]*domain.Genre, error) {
			return c.GetGenres(ctx)
		},
		func(ctx context.Context, g adapter.Adapter) ([]*domain.Genre, error) {
			return g.GetGenres(ctx)
		},
		identity[[]*domain.Genre],
		fetchOptions{force: force},
	)
}

// GetArtists returns all artists, sorted ignoring leading articles the server
// wants ignored ("The Beatles" sorts under B).
func (m *Manager) GetArtists(force bool) *Result[[]*domain.Artist] {
	result := resolve(m, domain.KeyArtists, "", adapter.CanGetArtists,
		func(ctx context.Context, c adapter.CachingAdapter) ([]*domain.Artist, error) {
			return c.GetArtists(ctx)
		},
		func(ctx context.Context, g adapter.Adapter) ([]*domain.Artist, error) {
			return g.GetArtists(ctx)
		},
		identity[[]*domain.Artist],
		fetchOptions{force: force},
	)

	articlesResult := m.GetIgnoredArticles(false)
	sorted, resolveSorted := Pending[[]*domain.Artist]()
	result.OnDone(func(artists []*domain.Artist, err error) {
		if err != nil {
			resolveSorted(nil, err)
			return
		}
		articlesResult.OnDone(func(articles []string, _ error) {
			m.sortArtists(artists, articles)
			resolveSorted(artists, nil)
		})
	})
	return sorted
}

func (m *Manager) sortArtists(artists []*domain.Artist, articles []string) {
	strip := func(name string) string {
		lower := strings.ToLower(name)
		for _, article := range articles {
			prefix := strings.ToLower(article) + " "
			if strings.HasPrefix(lower, prefix) {
				return lower[len(prefix):]
			}
		}
		return lower
	}
	sort.SliceStable(artists, func(i, j int) bool {
		return strip(artists[i].Name) < strip(artists[j].Name)
	})
}

func (m *Manager) GetArtist(artistID string, force bool) *Result[*domain.Artist] {
	return resolve(m, domain.KeyArtist, artistID, adapter.CanGetArtist,
		func(ctx context.Context, c adapter.CachingAdapter) (*domain.Artist, error) {
			return c.GetArtist(ctx, artistID)
		},
		func(ctx context.Context, g adapter.Adapter) (*domain.Artist, error) {
			return g.GetArtist(ctx, artistID)
		},
		identity[*domain.Artist],
		fetchOptions{force: force},
	)
}

func (m *Manager) GetAlbums(query domain.AlbumQuery, force bool) *Result[[]*domain.Album] {
	return resolve(m, domain.KeyAlbumsQueryResult, query.StrHash(), adapter.CanGetAlbums,
		func(ctx context.Context, c adapter.CachingAdapter) ([]*domain.Album, error) {
			return c.GetAlbums(ctx, query)
		},
		func(ctx context.Context, g adapter.Adapter) ([]*domain.Album, error) {
			return g.GetAlbums(ctx, query)
		},
		identity[[]*domain.Album],
		fetchOptions{force: force},
	)
}

func (m *Manager) GetAlbum(albumID string, force bool) *Result[*domain.Album] {
	return resolve(m, domain.KeyAlbum, albumID, adapter.CanGetAlbum,
		func(ctx context.Context, c adapter.CachingAdapter) (*domain.Album, error) {
			return c.GetAlbum(ctx, albumID)
		},
		func(ctx context.Context, g adapter.Adapter) (*domain.Album, error) {
			return g.GetAlbum(ctx, albumID)
		},
		identity[*domain.Album],
		fetchOptions{force: force},
	)
}

func (m *Manager) GetDirectory(directoryID string, force bool) *Result[*domain.Directory] {
	return resolve(m, domain.KeyDirectory, directoryID, adapter.CanGetDirectory,
		func(ctx context.Context, c adapter.CachingAdapter) (*domain.Directory, error) {
			return c.GetDirectory(ctx, directoryID)
		},
		func(ctx context.Context, g adapter.Adapter) (*domain.Directory, error) {
			return g.GetDirectory(ctx, directoryID)
		},
		identity[*domain.Directory],
		fetchOptions{force: force},
	)
}

func (m *Manager) GetIgnoredArticles(force bool) *Result[[]string] {
	return resolve(m, domain.KeyIgnoredArticles, "", adapter.CanGetIgnoredArticles,
		func(ctx context.Context, c adapter.CachingAdapter) ([]string, error) {
			return c.GetIgnoredArticles(ctx)
		},
		func(ctx context.Context, g adapter.Adapter) ([]string, error) {
			return g.GetIgnoredArticles(ctx)
		},
		identity[[]string],
		fetchOptions{force: force},
	)
}

// === Playlist mutations ===

// CreatePlaylist creates a playlist on the ground truth. Servers that return
// the new playlist get it ingested; either way the playlist listing is
// invalidated so the next read refetches it.
func (m *Manager) CreatePlaylist(name string, songIDs []string) *Result[*domain.Playlist] {
	if err := m.groundUsable(adapter.CanCreatePlaylist); err != nil {
		return Failed[*domain.Playlist](err)
	}
	return Async(m.pool, func() (*domain.Playlist, error) {
		playlist, err := m.ground.CreatePlaylist(m.baseCtx, name, songIDs)
		if err != nil {
			return nil, err
		}
		if m.cache != nil {
			if playlist != nil {
				if err := m.cache.IngestNewData(domain.KeyPlaylistDetails, playlist.ID, playlist); err != nil {
					m.logger.Error("ingest failed", "key", domain.KeyPlaylistDetails, "error", err)
				}
			}
			if err := m.cache.InvalidateData(domain.KeyPlaylists, ""); err != nil {
				m.logger.Warn("cache invalidation failed", "key", domain.KeyPlaylists, "error", err)
			}
		}
		return playlist, nil
	})
}

func (m *Manager) UpdatePlaylist(playlistID string, update adapter.PlaylistUpdate) *Result[*domain.Playlist] {
	if err := m.groundUsable(adapter.CanUpdatePlaylist); err != nil {
		return Failed[*domain.Playlist](err)
	}
	return Async(m.pool, func() (*domain.Playlist, error) {
		playlist, err := m.ground.UpdatePlaylist(m.baseCtx, playlistID, update)
		if err != nil {
			return nil, err
		}
		if m.cache != nil {
			if playlist != nil {
				if err := m.cache.IngestNewData(domain.KeyPlaylistDetails, playlist.ID, playlist); err != nil {
					m.logger.Error("ingest failed", "key", domain.KeyPlaylistDetails, "error", err)
				}
			} else {
				if err := m.cache.InvalidateData(domain.KeyPlaylistDetails, playlistID); err != nil {
					m.logger.Warn("cache invalidation failed", "key", domain.KeyPlaylistDetails, "error", err)
				}
			}
			if err := m.cache.InvalidateData(domain.KeyPlaylists, ""); err != nil {
				m.logger.Warn("cache invalidation failed", "key", domain.KeyPlaylists, "error", err)
			}
		}
		return playlist, nil
	})
}

func (m *Manager) DeletePlaylist(playlistID string) *Result[bool] {
	if err := m.groundUsable(adapter.CanDeletePlaylist); err != nil {
		return Failed[bool](err)
	}
	return Async(m.pool, func() (bool, error) {
		if err := m.ground.DeletePlaylist(m.baseCtx, playlistID); err != nil {
			return false, err
		}
		if m.cache != nil {
			if err := m.cache.DeleteData(domain.KeyPlaylistDetails, playlistID); err != nil {
				m.logger.Warn("cache delete failed", "key", domain.KeyPlaylistDetails, "error", err)
			}
			if err := m.cache.InvalidateData(domain.KeyPlaylists, ""); err != nil {
				m.logger.Warn("cache invalidation failed", "key", domain.KeyPlaylists, "error", err)
			}
		}
		return true, nil
	})
}

// === Scrobbling and play queue ===

func (m *Manager) ScrobbleSong(songID string) *Result[bool] {
	if err := m.groundUsable(adapter.CanScrobbleSong); err != nil {
		return Failed[bool](err)
	}
	return Async(m.pool, func() (bool, error) {
		if err := m.ground.ScrobbleSong(m.baseCtx, songID); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (m *Manager) GetPlayQueue() *Result[*domain.PlayQueue] {
	if err := m.groundUsable(adapter.CanGetPlayQueue); err != nil {
		return Failed[*domain.PlayQueue](err)
	}
	return Async(m.pool, func() (*domain.PlayQueue, error) {
		return m.ground.GetPlayQueue(m.baseCtx)
	})
}

func (m *Manager) SavePlayQueue(songIDs []string, currentIndex int, position int64) *Result[bool] {
	if err := m.groundUsable(adapter.CanSavePlayQueue); err != nil {
		return Failed[bool](err)
	}
	return Async(m.pool, func() (bool, error) {
		if err := m.ground.SavePlayQueue(m.baseCtx, songIDs, currentIndex, position); err != nil {
			return false, err
		}
		return true, nil
	})
}

// === URIs and statuses ===

// GetSongFileURI returns the local path of a cached song file.
func (m *Manager) GetSongFileURI(songID string) (string, error) {
	if m.cache == nil {
		return "", domain.CacheMiss(nil)
	}
	return m.cache.GetSongFileURI(songID, []string{"file"})
}

// GetSongStreamURI returns the best URI for playing a song right now: the
// local file when cached, otherwise a server stream URL.
func (m *Manager) GetSongStreamURI(songID string) (string, error) {
	if m.cache != nil {
		if uri, err := m.cache.GetSongStreamURI(songID); err == nil {
			return uri, nil
		}
	}
	if err := m.groundUsable(adapter.CanGetSongStreamURI); err != nil {
		return "", domain.CacheMissFrom(err, nil)
	}
	return m.ground.GetSongStreamURI(songID)
}

// GetCachedStatuses reports per-song cache states, overlaying Downloading for
// songs with an in-flight transfer.
func (m *Manager) GetCachedStatuses(songIDs []string) map[string]domain.SongCacheStatus {
	var statuses map[string]domain.SongCacheStatus
	if m.cache != nil {
		statuses = m.cache.GetCachedStatuses(songIDs)
	} else {
		statuses = make(map[string]domain.SongCacheStatus, len(songIDs))
		for _, id := range songIDs {
			statuses[id] = domain.NotCached
		}
	}

	m.downloadMu.Lock()
	defer m.downloadMu.Unlock()
	for _, id := range songIDs {
		if _, ok := m.inFlight[downloadKeySong+id]; ok {
			statuses[id] = domain.Downloading
		}
	}
	return statuses
}

// === Cache administration ===

// BatchDeleteCachedSongs removes the cached files for the given songs.
func (m *Manager) BatchDeleteCachedSongs(songIDs []string) error {
	if m.cache == nil {
		return nil
	}
	m.CancelDownloads(songIDs)
	for _, id := range songIDs {
		if err := m.cache.DeleteData(domain.KeySongFile, id); err != nil {
			return err
		}
	}
	return nil
}

// ClearSongCache removes every downloaded song and cover art file, keeping
// metadata.
func (m *Manager) ClearSongCache() error {
	if m.cache == nil {
		return nil
	}
	m.CancelDownloads(nil)
	return m.cache.DeleteData(domain.KeyAllSongs, "")
}

// ClearEntireCache wipes the cache completely, files and metadata both.
func (m *Manager) ClearEntireCache() error {
	if m.cache == nil {
		return nil
	}
	m.CancelDownloads(nil)
	return m.cache.DeleteData(domain.KeyEverything, "")
}
