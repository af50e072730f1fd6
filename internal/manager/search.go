package manager

import (
	"strings"
	"time"

	"github.com/cadenza-player/cadenza/internal/adapter"
	"github.com/cadenza-player/cadenza/internal/domain"
)

// searchDebounce absorbs keystroke bursts: a search only starts once the
// query has been the newest one for this long.
const searchDebounce = 300 * time.Millisecond

// Search runs a progressive search. After the debounce, onResult fires with
// local cache matches, then again with server matches merged in. Starting a
// newer search supersedes this one: its pending callbacks stop firing and the
// Result resolves false.
//
// The Result resolves true when the search ran to completion. Server failures
// do not fail the search; the cache results stand.
func (m *Manager) Search(query string, onResult func(*domain.SearchResult)) *Result[bool] {
	seq := m.searchSeq.Add(1)

	query = strings.TrimSpace(query)
	if query == "" {
		return Of(false)
	}

	current := func() bool { return m.searchSeq.Load() == seq }

	result, resolveResult := Pending[bool]()
	go func() {
		timer := time.NewTimer(searchDebounce)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-m.baseCtx.Done():
			resolveResult(false, nil)
			return
		}
		if !current() {
			resolveResult(false, nil)
			return
		}

		merged := domain.NewSearchResult(query)

		if m.cache != nil && m.cache.Capabilities().Has(adapter.CanSearch) {
			if local, err := m.cache.Search(m.baseCtx, query); err == nil {
				merged.Update(local)
				if current() {
					onResult(merged)
				}
			} else {
				m.logger.Warn("cache search failed", "query", query, "error", err)
			}
		}

		if err := m.groundUsable(adapter.CanSearch); err != nil {
			resolveResult(current(), nil)
			return
		}

		// The server fetch runs on the metadata pool so stacked-up searches
		// stay bounded; only the debounce lives on this goroutine.
		remote, err := Async(m.pool, func() (*domain.SearchResult, error) {
			return m.ground.Search(m.baseCtx, query)
		}).Get()
		if err != nil {
			m.logger.Warn("server search failed", "query", query, "error", err)
			resolveResult(current(), nil)
			return
		}
		if m.cache != nil {
			if err := m.cache.IngestNewData(domain.KeySearchResults, query, remote); err != nil {
				m.logger.Error("ingest failed", "key", domain.KeySearchResults, "error", err)
			}
		}
		if !current() {
			resolveResult(false, nil)
			return
		}
		merged.Update(remote)
		onResult(merged)
		resolveResult(true, nil)
	}()
	return result
}
