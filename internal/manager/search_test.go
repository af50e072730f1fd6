package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-player/cadenza/internal/adapter"
	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/internal/domain"
)

// ignoreResults is a no-op progressive callback.
func ignoreResults(*domain.SearchResult) {}

// songIDs snapshots the song IDs in a result at callback time. The merged
// result is mutated between rounds, so callbacks must not hold on to it.
func songIDs(r *domain.SearchResult) []string {
	var ids []string
	for _, s := range r.Songs() {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestSearchMergesCacheAndServerResults(t *testing.T) {
	ground := newStubGround(adapter.CanSearch)
	ground.searchFn = func(ctx context.Context, query string) (*domain.SearchResult, error) {
		r := domain.NewSearchResult(query)
		r.Add(nil, nil, []*domain.Song{{ID: "s2", Title: "Helter Skelter"}}, nil)
		return r, nil
	}
	mgr, cache := newTestManager(t, ground, config.DownloadsConfig{ConcurrentLimit: 2})

	require.NoError(t, cache.IngestNewData(domain.KeySong, "s1", &domain.Song{ID: "s1", Title: "Help"}))

	var mu sync.Mutex
	var rounds [][]string
	ok, err := mgr.Search("hel", func(r *domain.SearchResult) {
		mu.Lock()
		rounds = append(rounds, songIDs(r))
		mu.Unlock()
	}).Get()
	require.NoError(t, err)
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, rounds, 2, "cache results first, then the server merge")
	assert.Equal(t, []string{"s1"}, rounds[0])
	assert.ElementsMatch(t, []string{"s1", "s2"}, rounds[1])
}

func TestSearchServerFailureKeepsCacheResults(t *testing.T) {
	ground := newStubGround(adapter.CanSearch)
	ground.searchFn = func(ctx context.Context, query string) (*domain.SearchResult, error) {
		return nil, domain.ErrServerUnreachable
	}
	mgr, cache := newTestManager(t, ground, config.DownloadsConfig{ConcurrentLimit: 2})

	require.NoError(t, cache.IngestNewData(domain.KeySong, "s1", &domain.Song{ID: "s1", Title: "Help"}))

	var mu sync.Mutex
	var got [][]string
	ok, err := mgr.Search("help", func(r *domain.SearchResult) {
		mu.Lock()
		got = append(got, songIDs(r))
		mu.Unlock()
	}).Get()
	require.NoError(t, err)
	assert.True(t, ok, "a server failure must not fail the search")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"s1"}, got[0])
}

func TestSearchIngestsServerResults(t *testing.T) {
	ground := newStubGround(adapter.CanSearch)
	ground.searchFn = func(ctx context.Context, query string) (*domain.SearchResult, error) {
		r := domain.NewSearchResult(query)
		r.Add(nil, nil, []*domain.Song{{ID: "s9", Title: "Come Together"}}, nil)
		return r, nil
	}
	mgr, cache := newTestManager(t, ground, config.DownloadsConfig{ConcurrentLimit: 2})

	_, err := mgr.Search("together", ignoreResults).Get()
	require.NoError(t, err)

	// The server hit landed in the entity cache.
	local, err := cache.Search(context.Background(), "together")
	require.NoError(t, err)
	assert.Len(t, local.Songs(), 1)
}

func TestSearchSupersededByNewerQuery(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ground := newStubGround(adapter.CanSearch)
	ground.searchFn = func(ctx context.Context, query string) (*domain.SearchResult, error) {
		if query == "slow" {
			close(started)
			<-release
		}
		r := domain.NewSearchResult(query)
		r.Add(nil, nil, []*domain.Song{{ID: "s-" + query, Title: query}}, nil)
		return r, nil
	}
	mgr, _ := newTestManager(t, ground, config.DownloadsConfig{ConcurrentLimit: 2})

	var mu sync.Mutex
	var firstRounds [][]string
	first := mgr.Search("slow", func(r *domain.SearchResult) {
		mu.Lock()
		firstRounds = append(firstRounds, songIDs(r))
		mu.Unlock()
	})

	// Supersede the first search while its server request is in flight.
	<-started
	second := mgr.Search("fresh", ignoreResults)
	close(release)

	ok, err := first.Get()
	require.NoError(t, err)
	assert.False(t, ok, "a superseded search must not report success")

	mu.Lock()
	for _, round := range firstRounds {
		assert.NotContains(t, round, "s-slow", "superseded server results must not reach the callback")
	}
	mu.Unlock()

	ok, err = second.Get()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSearchServerFetchRunsOnWorkerPool(t *testing.T) {
	ground := newStubGround(adapter.CanSearch)
	ground.searchFn = func(ctx context.Context, query string) (*domain.SearchResult, error) {
		r := domain.NewSearchResult(query)
		r.Add(nil, nil, []*domain.Song{{ID: "s2", Title: "Helter Skelter"}}, nil)
		return r, nil
	}
	mgr, cache := newTestManager(t, ground, config.DownloadsConfig{ConcurrentLimit: 2})

	require.NoError(t, cache.IngestNewData(domain.KeySong, "s1", &domain.Song{ID: "s1", Title: "Help"}))

	// The server fetch dispatches through the metadata pool; with the pool
	// gone it fails like any other server error and the cache results stand.
	mgr.pool.Shutdown()

	var mu sync.Mutex
	var got [][]string
	ok, err := mgr.Search("help", func(r *domain.SearchResult) {
		mu.Lock()
		got = append(got, songIDs(r))
		mu.Unlock()
	}).Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, ground.callCount("Search"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"s1"}, got[0])
}

func TestSearchEmptyQueryResolvesImmediately(t *testing.T) {
	ground := newStubGround(adapter.CanSearch)
	mgr, _ := newTestManager(t, ground, config.DownloadsConfig{ConcurrentLimit: 2})

	start := time.Now()
	ok, err := mgr.Search("   ", ignoreResults).Get()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), searchDebounce, "empty queries skip the debounce")
	assert.Equal(t, 0, ground.callCount("Search"))
}
