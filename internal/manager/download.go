package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-player/cadenza/internal/adapter"
	"github.com/cadenza-player/cadenza/internal/domain"
)

// In-flight download keys are namespaced so a song and a cover art with the
// same ID never collide.
const (
	downloadKeySong  = "song:"
	downloadKeyCover = "cover:"
)

// downloadWaitTimeout is the default bound on how long a caller attached to
// someone else's in-flight download will wait for it.
const downloadWaitTimeout = 20 * time.Second

// ErrDownloadWaitTimeout is returned when an attached caller gives up waiting
// for another caller's in-flight download of the same item.
var ErrDownloadWaitTimeout = errors.New("timed out waiting for in-flight download")

var httpClient = &http.Client{}

// DownloadSong ensures the song's file is in the cache and resolves with its
// local path. Concurrent requests for the same song share one transfer.
// Progress may be nil.
func (m *Manager) DownloadSong(songID string, progress func(domain.DownloadProgress)) *Result[string] {
	result, start := m.queueSongDownload(songID, progress)
	start()
	return result
}

// queueSongDownload registers the download and emits Queued without starting
// the transfer. The batch path uses it to announce every song before any
// transfer begins.
func (m *Manager) queueSongDownload(songID string, progress func(domain.DownloadProgress)) (*Result[string], func()) {
	return m.downloadFile(
		downloadKeySong+songID,
		domain.KeySongFile,
		songID,
		func() (string, error) {
			if err := m.groundUsable(adapter.CanGetSongFileURI); err != nil {
				return "", err
			}
			return m.ground.GetSongFileURI(songID, []string{"http", "https"})
		},
		func() (string, error) {
			if m.cache == nil {
				return "", domain.CacheMiss(nil)
			}
			return m.cache.GetSongFileURI(songID, []string{"file"})
		},
		progress,
	)
}

// GetCoverArt ensures the cover art image is in the cache and resolves with
// its local path.
func (m *Manager) GetCoverArt(coverArtID string, size int, progress func(domain.DownloadProgress)) *Result[string] {
	result, start := m.downloadFile(
		downloadKeyCover+coverArtID,
		domain.KeyCoverArtFile,
		coverArtID,
		func() (string, error) {
			if err := m.groundUsable(adapter.CanGetCoverArtURI); err != nil {
				return "", err
			}
			return m.ground.GetCoverArtURI(coverArtID, []string{"http", "https"}, size)
		},
		func() (string, error) {
			if m.cache == nil {
				return "", domain.CacheMiss(nil)
			}
			return m.cache.GetCoverArtURI(coverArtID, []string{"file"}, size)
		},
		progress,
	)
	start()
	return result
}

// downloadFile is the shared transfer path for song files and cover art.
// Exactly one transfer runs per item: later callers attach to the first
// caller's Result, bounded by the manager's download wait.
//
// Queued is emitted before downloadFile returns; the returned start function
// launches the transfer. Short-circuited and attached requests return a no-op
// start.
func (m *Manager) downloadFile(
	key string,
	ingestKey domain.CachedDataKey,
	param string,
	fetchURI func() (string, error),
	fromCache func() (string, error),
	progress func(domain.DownloadProgress),
) (*Result[string], func()) {
	if progress == nil {
		progress = func(domain.DownloadProgress) {}
	}

	// Already cached wins before anything is queued.
	if path, err := fromCache(); err == nil {
		progress(domain.DownloadProgress{Event: domain.DownloadDone})
		return Of(path), func() {}
	}

	m.downloadMu.Lock()
	if existing, ok := m.inFlight[key]; ok {
		m.downloadMu.Unlock()
		return m.attachToDownload(existing), func() {}
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	result, resolveResult := Pending(WithOnCancel[string](cancel))
	m.inFlight[key] = result
	delete(m.cancelled, key)
	m.downloadMu.Unlock()

	finish := func(path string, err error) {
		m.downloadMu.Lock()
		delete(m.inFlight, key)
		m.downloadMu.Unlock()
		cancel()
		switch {
		case err == nil:
			progress(domain.DownloadProgress{Event: domain.DownloadDone})
		case errors.Is(err, ErrResultCancelled) || errors.Is(err, context.Canceled):
			err = ErrResultCancelled
			progress(domain.DownloadProgress{Event: domain.DownloadCancelled})
		default:
			progress(domain.DownloadProgress{Event: domain.DownloadError, Err: err})
		}
		resolveResult(path, err)
	}

	progress(domain.DownloadProgress{Event: domain.DownloadQueued})

	start := func() {
		go func() {
			if err := m.downloadSem.Acquire(ctx, 1); err != nil {
				finish("", err)
				return
			}

			if m.isCancelled(key) || result.Cancelled() {
				m.downloadSem.Release(1)
				finish("", ErrResultCancelled)
				return
			}

			// The item may have been cached while this job sat in the queue.
			if path, err := fromCache(); err == nil {
				m.downloadSem.Release(1)
				finish(path, nil)
				return
			}

			uri, err := fetchURI()
			if err != nil {
				m.downloadSem.Release(1)
				finish("", err)
				return
			}

			bufferPath, err := m.transferToBuffer(ctx, uri, progress)
			// The permit covers only the transfer. Releasing as soon as the
			// bytes are written lets later queued songs start while this one
			// is still being ingested.
			m.downloadSem.Release(1)
			if err != nil {
				finish("", err)
				return
			}

			ingest := adapter.FileIngest{BufferPath: bufferPath}
			if ingestKey == domain.KeySongFile {
				// Song files keep their server-relative path inside the cache so
				// tags and directory structure survive.
				if song, serr := m.songForDownload(param); serr == nil && song != nil {
					ingest.Path = song.Path
				}
			}
			if m.cache == nil {
				finish(bufferPath, nil)
				return
			}
			if err := m.cache.IngestNewData(ingestKey, param, ingest); err != nil {
				os.Remove(bufferPath)
				finish("", fmt.Errorf("failed to ingest downloaded file: %w", err))
				return
			}
			path, err := fromCache()
			if err != nil {
				finish("", fmt.Errorf("file missing after ingest: %w", err))
				return
			}
			finish(path, nil)
		}()
	}
	return result, start
}

// attachToDownload derives a Result from another caller's in-flight download,
// giving up after the manager's download wait. Cancelling the attached Result
// does not cancel the underlying transfer.
func (m *Manager) attachToDownload(existing *Result[string]) *Result[string] {
	attached, resolveAttached := Pending[string]()
	go func() {
		timer := time.NewTimer(m.downloadWait)
		defer timer.Stop()
		select {
		case <-existing.Done():
			path, err := existing.Get()
			resolveAttached(path, err)
		case <-timer.C:
			resolveAttached("", ErrDownloadWaitTimeout)
		}
	}()
	return attached
}

// transferToBuffer streams the URI into a uniquely named buffer file under
// the OS temp directory, reporting progress as bytes arrive.
func (m *Manager) transferToBuffer(ctx context.Context, uri string, progress func(domain.DownloadProgress)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	bufferPath := filepath.Join(os.TempDir(), "cadenza-"+uuid.NewString())
	out, err := os.Create(bufferPath)
	if err != nil {
		return "", err
	}

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(bufferPath)
				return "", werr
			}
			written += int64(n)
			if total > 0 {
				progress(domain.DownloadProgress{
					Event:        domain.DownloadProgressed,
					CurrentBytes: written,
					TotalBytes:   total,
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(bufferPath)
			return "", rerr
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(bufferPath)
		return "", err
	}
	return bufferPath, nil
}

// songForDownload fetches song metadata for path placement, from cache when
// possible.
func (m *Manager) songForDownload(songID string) (*domain.Song, error) {
	if m.cache != nil {
		song, err := m.cache.GetSong(m.baseCtx, songID)
		if err == nil {
			return song, nil
		}
		if miss := domain.AsCacheMiss(err); miss != nil {
			if partial, ok := miss.PartialData.(*domain.Song); ok && partial != nil {
				return partial, nil
			}
		}
	}
	if err := m.groundUsable(adapter.CanGetSong); err != nil {
		return nil, err
	}
	return m.ground.GetSong(m.baseCtx, songID)
}

func (m *Manager) isCancelled(key string) bool {
	m.downloadMu.Lock()
	defer m.downloadMu.Unlock()
	return m.cancelled[key]
}

// BatchDownloadSongs queues downloads for all the given songs at once and
// resolves when every one has reached a terminal state. Every song emits
// Queued before any transfer starts; transfers then proceed under the
// concurrency limit. Progress may be nil; it receives events keyed by song ID.
func (m *Manager) BatchDownloadSongs(songIDs []string, progress func(songID string, p domain.DownloadProgress)) *Result[bool] {
	if progress == nil {
		progress = func(string, domain.DownloadProgress) {}
	}

	results := make([]*Result[string], 0, len(songIDs))
	starts := make([]func(), 0, len(songIDs))
	for _, id := range songIDs {
		id := id
		result, start := m.queueSongDownload(id, func(p domain.DownloadProgress) {
			progress(id, p)
		})
		results = append(results, result)
		starts = append(starts, start)
	}
	for _, start := range starts {
		start()
	}

	batch, resolveBatch := Pending[bool]()
	go func() {
		ok := true
		for _, r := range results {
			if _, err := r.Get(); err != nil {
				ok = false
			}
		}
		resolveBatch(ok, nil)
	}()
	return batch
}

// PrefetchUpcoming downloads the next few songs after the current position of
// a play queue, per the configured prefetch amount.
func (m *Manager) PrefetchUpcoming(songIDs []string, currentIndex int, progress func(songID string, p domain.DownloadProgress)) *Result[bool] {
	if m.prefetchCount <= 0 || currentIndex+1 >= len(songIDs) {
		return Of(true)
	}
	end := currentIndex + 1 + m.prefetchCount
	if end > len(songIDs) {
		end = len(songIDs)
	}
	return m.BatchDownloadSongs(songIDs[currentIndex+1:end], progress)
}

// CancelDownloads cancels in-flight and queued downloads for the given song
// IDs, or all downloads when songIDs is nil.
func (m *Manager) CancelDownloads(songIDs []string) {
	m.downloadMu.Lock()
	var targets []*Result[string]
	if songIDs == nil {
		for key, r := range m.inFlight {
			m.cancelled[key] = true
			targets = append(targets, r)
		}
	} else {
		for _, id := range songIDs {
			key := downloadKeySong + id
			m.cancelled[key] = true
			if r, ok := m.inFlight[key]; ok {
				targets = append(targets, r)
			}
		}
	}
	m.downloadMu.Unlock()

	for _, r := range targets {
		r.Cancel()
	}
}
