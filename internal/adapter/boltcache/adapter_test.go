package boltcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cadenza-player/cadenza/internal/adapter"
	"github.com/cadenza-player/cadenza/internal/domain"
	"github.com/cadenza-player/cadenza/internal/log"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(t.TempDir(), log.Null())
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown() })
	return a
}

// bufferFile creates a throwaway file standing in for a completed download.
func bufferFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffer")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testSong(id string) *domain.Song {
	return &domain.Song{
		ID:         id,
		Title:      "Tomorrow Never Knows",
		Track:      14,
		Year:       1966,
		Duration:   177 * time.Second,
		Path:       "Beatles/Revolver/14 - Tomorrow Never Knows.mp3",
		CoverArtID: "ca-revolver",
		Album:      &domain.Album{ID: "al-revolver", Name: "Revolver"},
		Artist:     &domain.Artist{ID: "ar-beatles", Name: "The Beatles"},
		Genre:      &domain.Genre{Name: "Rock"},
	}
}

func TestIngestThenGetSong(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", testSong("s1")))

	song, err := a.GetSong(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Tomorrow Never Knows", song.Title)
	require.NotNil(t, song.Album)
	assert.Equal(t, "Revolver", song.Album.Name)
	require.NotNil(t, song.Artist)
	assert.Equal(t, "The Beatles", song.Artist.Name)
}

func TestGetSongMissWhenAbsent(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.GetSong(context.Background(), "nope")
	miss := domain.AsCacheMiss(err)
	require.NotNil(t, miss)
	assert.Nil(t, miss.PartialData)
}

func TestEmbeddedEntityIsPartialNotValid(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	// Ingesting a song stores its embedded album, but only the song's own
	// validity row is marked.
	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", testSong("s1")))

	_, err := a.GetAlbum(ctx, "al-revolver")
	miss := domain.AsCacheMiss(err)
	require.NotNil(t, miss)
	partial, ok := miss.PartialData.(*domain.Album)
	require.True(t, ok)
	assert.Equal(t, "Revolver", partial.Name)
}

func TestAlbumHydratesSongs(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	album := &domain.Album{
		ID:   "al1",
		Name: "Revolver",
		Songs: []*domain.Song{
			{ID: "s1", Title: "Taxman", Track: 1},
			{ID: "s2", Title: "Eleanor Rigby", Track: 2},
		},
	}
	require.NoError(t, a.IngestNewData(domain.KeyAlbum, "al1", album))

	got, err := a.GetAlbum(ctx, "al1")
	require.NoError(t, err)
	require.Len(t, got.Songs, 2)
	assert.Equal(t, "Taxman", got.Songs[0].Title)
	assert.Equal(t, "Eleanor Rigby", got.Songs[1].Title)
}

func TestMergeKeepsExistingFields(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", testSong("s1")))
	// A sparser source for the same song (a playlist entry, say) must not
	// erase what the richer fetch provided.
	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", &domain.Song{
		ID:    "s1",
		Title: "Tomorrow Never Knows (Remastered)",
	}))

	song, err := a.GetSong(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Tomorrow Never Knows (Remastered)", song.Title)
	assert.Equal(t, 14, song.Track)
	assert.Equal(t, 1966, song.Year)
	assert.Equal(t, "ca-revolver", song.CoverArtID)
}

func TestSurrogateIDForNamelessArtist(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	song := &domain.Song{
		ID:     "s1",
		Title:  "Unknown",
		Artist: &domain.Artist{Name: "Tape Deck Mystery"},
	}
	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", song))

	got, err := a.GetSong(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Artist)
	assert.True(t, strings.HasPrefix(got.Artist.ID, "invalid:"))
	assert.Equal(t, "Tape Deck Mystery", got.Artist.Name)
}

func TestSurrogatesExcludedFromSearch(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", &domain.Song{
		ID:     "s1",
		Title:  "Song",
		Artist: &domain.Artist{Name: "Mystery"},
	}))

	result, err := a.Search(ctx, "mystery")
	require.NoError(t, err)
	assert.Empty(t, result.Artists())
}

func TestListReadValidityGating(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	artists := []*domain.Artist{
		{ID: "ar1", Name: "Can"},
		{ID: "ar2", Name: "Neu!"},
	}
	require.NoError(t, a.IngestNewData(domain.KeyArtists, "", artists))

	got, err := a.GetArtists(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, a.InvalidateData(domain.KeyArtists, ""))

	_, err = a.GetArtists(ctx)
	miss := domain.AsCacheMiss(err)
	require.NotNil(t, miss)
	partial, ok := miss.PartialData.([]*domain.Artist)
	require.True(t, ok, "stale list must surface as partial data")
	assert.Len(t, partial, 2)
}

func TestAlbumQueryResultRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	query := domain.AlbumQuery{Type: domain.AlbumQueryGenre, Genre: "Krautrock"}
	albums := []*domain.Album{{ID: "al1", Name: "Tago Mago"}}
	require.NoError(t, a.IngestNewData(domain.KeyAlbumsQueryResult, query.StrHash(), albums))

	got, err := a.GetAlbums(ctx, query)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Tago Mago", got[0].Name)

	// A different query has its own validity row.
	other := domain.AlbumQuery{Type: domain.AlbumQueryGenre, Genre: "Jazz"}
	_, err = a.GetAlbums(ctx, other)
	require.NotNil(t, domain.AsCacheMiss(err))
}

func TestSongFileIngestAndStatuses(t *testing.T) {
	a := newTestAdapter(t)

	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", testSong("s1")))
	require.NoError(t, a.IngestNewData(domain.KeySongFile, "s1", adapter.FileIngest{
		BufferPath: bufferFile(t, "not really audio"),
		Path:       "Beatles/Revolver/14 - Tomorrow Never Knows.mp3",
	}))

	statuses := a.GetCachedStatuses([]string{"s1", "s2"})
	assert.Equal(t, domain.Cached, statuses["s1"])
	assert.Equal(t, domain.NotCached, statuses["s2"])

	path, err := a.GetSongFileURI("s1", []string{"file"})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, filepath.Join("Beatles", "Revolver"))

	// Pinning upgrades the status.
	require.NoError(t, a.IngestNewData(domain.KeySongFilePermanent, "s1", nil))
	statuses = a.GetCachedStatuses([]string{"s1"})
	assert.Equal(t, domain.PermanentlyCached, statuses["s1"])

	// Invalidation leaves the file but flags it stale.
	require.NoError(t, a.InvalidateData(domain.KeySongFile, "s1"))
	statuses = a.GetCachedStatuses([]string{"s1"})
	assert.Equal(t, domain.CachedStale, statuses["s1"])
	assert.FileExists(t, path)
}

func TestSongFileURIRequiresFileScheme(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.GetSongFileURI("s1", []string{"http"})
	assert.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestInvalidateAlbumCascadesToCoverArt(t *testing.T) {
	a := newTestAdapter(t)

	album := &domain.Album{ID: "al1", Name: "Revolver", CoverArtID: "ca1"}
	require.NoError(t, a.IngestNewData(domain.KeyAlbum, "al1", album))
	require.NoError(t, a.IngestNewData(domain.KeyCoverArtFile, "ca1", adapter.FileIngest{
		BufferPath: bufferFile(t, "jpeg bytes"),
	}))

	_, err := a.GetCoverArtURI("ca1", []string{"file"}, 0)
	require.NoError(t, err)

	require.NoError(t, a.InvalidateData(domain.KeyAlbum, "al1"))

	_, err = a.GetAlbum(context.Background(), "al1")
	require.NotNil(t, domain.AsCacheMiss(err))
	_, err = a.GetCoverArtURI("ca1", []string{"file"}, 0)
	require.NotNil(t, domain.AsCacheMiss(err))
}

func TestInvalidateArtistCascadesTransitively(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	artist := &domain.Artist{
		ID:            "ar1",
		Name:          "The Beatles",
		ArtistImageID: "img1",
		Albums:        []*domain.Album{{ID: "al1", Name: "Revolver", CoverArtID: "ca1"}},
	}
	require.NoError(t, a.IngestNewData(domain.KeyArtist, "ar1", artist))
	require.NoError(t, a.IngestNewData(domain.KeyAlbum, "al1", &domain.Album{ID: "al1", Name: "Revolver", CoverArtID: "ca1"}))
	require.NoError(t, a.IngestNewData(domain.KeyCoverArtFile, "ca1", adapter.FileIngest{BufferPath: bufferFile(t, "a")}))
	require.NoError(t, a.IngestNewData(domain.KeyCoverArtFile, "img1", adapter.FileIngest{BufferPath: bufferFile(t, "b")}))

	require.NoError(t, a.InvalidateData(domain.KeyArtist, "ar1"))

	_, err := a.GetArtist(ctx, "ar1")
	require.NotNil(t, domain.AsCacheMiss(err))
	_, err = a.GetAlbum(ctx, "al1")
	require.NotNil(t, domain.AsCacheMiss(err), "albums of an invalidated artist must go stale")
	_, err = a.GetCoverArtURI("ca1", []string{"file"}, 0)
	require.NotNil(t, domain.AsCacheMiss(err), "album cover art must go stale transitively")
	_, err = a.GetCoverArtURI("img1", []string{"file"}, 0)
	require.NotNil(t, domain.AsCacheMiss(err))
}

func TestDeleteSongFileRemovesFile(t *testing.T) {
	a := newTestAdapter(t)

	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", testSong("s1")))
	require.NoError(t, a.IngestNewData(domain.KeySongFile, "s1", adapter.FileIngest{
		BufferPath: bufferFile(t, "bytes"),
	}))
	path, err := a.GetSongFileURI("s1", []string{"file"})
	require.NoError(t, err)

	require.NoError(t, a.DeleteData(domain.KeySongFile, "s1"))

	assert.NoFileExists(t, path)
	statuses := a.GetCachedStatuses([]string{"s1"})
	assert.Equal(t, domain.NotCached, statuses["s1"])
	// Metadata survives file deletion.
	_, err = a.GetSong(context.Background(), "s1")
	assert.NoError(t, err)
}

func TestDeleteAllSongsKeepsMetadata(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", testSong("s1")))
	require.NoError(t, a.IngestNewData(domain.KeySongFile, "s1", adapter.FileIngest{
		BufferPath: bufferFile(t, "bytes"),
	}))

	require.NoError(t, a.DeleteData(domain.KeyAllSongs, ""))

	statuses := a.GetCachedStatuses([]string{"s1"})
	assert.Equal(t, domain.NotCached, statuses["s1"])
	_, err := a.GetSong(ctx, "s1")
	assert.NoError(t, err)

	// The file row survives as stale rather than disappearing.
	err = a.store.db.View(func(tx *bolt.Tx) error {
		row, ok := getRow(tx, domain.KeySongFile, "s1")
		require.True(t, ok, "the song file row must survive clearing all songs")
		assert.False(t, row.Valid)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteEverything(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", testSong("s1")))
	require.NoError(t, a.IngestNewData(domain.KeySongFile, "s1", adapter.FileIngest{
		BufferPath: bufferFile(t, "bytes"),
	}))

	require.NoError(t, a.DeleteData(domain.KeyEverything, ""))

	_, err := a.GetSong(ctx, "s1")
	miss := domain.AsCacheMiss(err)
	require.NotNil(t, miss)
	assert.Nil(t, miss.PartialData)
	statuses := a.GetCachedStatuses([]string{"s1"})
	assert.Equal(t, domain.NotCached, statuses["s1"])
}

func TestCacheSearchFindsIngestedEntities(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.IngestNewData(domain.KeyArtists, "", []*domain.Artist{
		{ID: "ar1", Name: "Led Zeppelin"},
	}))
	require.NoError(t, a.IngestNewData(domain.KeySong, "s1", &domain.Song{ID: "s1", Title: "Kashmir"}))

	result, err := a.Search(ctx, "kashmir")
	require.NoError(t, err)
	require.Len(t, result.Songs(), 1)
	assert.Equal(t, "s1", result.Songs()[0].ID)

	result, err = a.Search(ctx, "zeppelin")
	require.NoError(t, err)
	require.Len(t, result.Artists(), 1)
}

func TestMutationsNotSupported(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.CreatePlaylist(ctx, "mix", nil)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
	err = a.ScrobbleSong(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotSupported)
	_, err = a.GetPlayQueue(ctx)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestPlaylistDetailsRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	playlist := &domain.Playlist{
		ID:    "pl1",
		Name:  "Road Trip",
		Songs: []*domain.Song{{ID: "s1", Title: "Kashmir"}},
	}
	require.NoError(t, a.IngestNewData(domain.KeyPlaylistDetails, "pl1", playlist))

	got, err := a.GetPlaylistDetails(ctx, "pl1")
	require.NoError(t, err)
	require.Len(t, got.Songs, 1)
	assert.Equal(t, "Kashmir", got.Songs[0].Title)

	// Deleting the playlist drops the entity entirely.
	require.NoError(t, a.DeleteData(domain.KeyPlaylistDetails, "pl1"))
	_, err = a.GetPlaylistDetails(ctx, "pl1")
	miss := domain.AsCacheMiss(err)
	require.NotNil(t, miss)
	assert.Nil(t, miss.PartialData)
}
