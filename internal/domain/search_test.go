package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchResultMergesByID(t *testing.T) {
	r := NewSearchResult("abbey")

	r.Add(nil, []*Album{{ID: "al1", Name: "Abbey Road"}}, nil, nil)
	r.Add(nil, []*Album{{ID: "al1", Name: "Abbey Road", Year: 1969}}, nil, nil)

	albums := r.Albums()
	require.Len(t, albums, 1)
	assert.Equal(t, 1969, albums[0].Year, "later source must replace the earlier entry")
}

func TestSearchResultUpdateIncomingWins(t *testing.T) {
	first := NewSearchResult("help")
	first.Add(nil, nil, []*Song{{ID: "s1", Title: "Help"}}, nil)

	second := NewSearchResult("help")
	second.Add(nil, nil, []*Song{{ID: "s1", Title: "Help!", Track: 1}}, nil)

	first.Update(second)

	songs := first.Songs()
	require.Len(t, songs, 1)
	assert.Equal(t, "Help!", songs[0].Title)
}

func TestSearchResultRankingOrder(t *testing.T) {
	r := NewSearchResult("road")
	r.Add(nil, []*Album{
		{ID: "contains", Name: "Abbey Road"},
		{ID: "exact", Name: "Road"},
		{ID: "prefix", Name: "Road to Nowhere"},
	}, nil, nil)

	albums := r.Albums()
	require.Len(t, albums, 3)
	assert.Equal(t, "exact", albums[0].ID)
	assert.Equal(t, "prefix", albums[1].ID)
	assert.Equal(t, "contains", albums[2].ID)
}

func TestSearchResultDropsNonMatches(t *testing.T) {
	r := NewSearchResult("zeppelin")
	r.Add([]*Artist{
		{ID: "a1", Name: "Led Zeppelin"},
		{ID: "a2", Name: "The Beatles"},
	}, nil, nil, nil)

	artists := r.Artists()
	require.Len(t, artists, 1)
	assert.Equal(t, "a1", artists[0].ID)
}

func TestSearchResultArtistKeyFallsBackToName(t *testing.T) {
	r := NewSearchResult("nico")
	r.Add([]*Artist{{Name: "Nico"}}, nil, nil, nil)
	r.Add([]*Artist{{Name: "Nico"}}, nil, nil, nil)

	assert.Len(t, r.Artists(), 1, "ID-less artists with the same name must not duplicate")
}

func TestSearchResultEmpty(t *testing.T) {
	r := NewSearchResult("x")
	assert.True(t, r.Empty())

	r.Add(nil, nil, []*Song{{ID: "s1", Title: "X"}}, nil)
	assert.False(t, r.Empty())
}

func TestAlbumQueryStrHash(t *testing.T) {
	byGenreRock := AlbumQuery{Type: AlbumQueryGenre, Genre: "Rock"}
	byGenreJazz := AlbumQuery{Type: AlbumQueryGenre, Genre: "Jazz"}
	byYear := AlbumQuery{Type: AlbumQueryYearRange, YearRange: [2]int{1960, 1970}}

	assert.Equal(t, byGenreRock.StrHash(), AlbumQuery{Type: AlbumQueryGenre, Genre: "Rock"}.StrHash())
	assert.NotEqual(t, byGenreRock.StrHash(), byGenreJazz.StrHash())
	assert.NotEqual(t, byGenreRock.StrHash(), byYear.StrHash())
	assert.NotEqual(t, byYear.StrHash(), AlbumQuery{Type: AlbumQueryYearRange, YearRange: [2]int{1960, 1971}}.StrHash())
}

func TestDownloadProgressFraction(t *testing.T) {
	assert.Equal(t, float64(-1), DownloadProgress{TotalBytes: 0}.Fraction())
	assert.InDelta(t, 0.5, DownloadProgress{CurrentBytes: 50, TotalBytes: 100}.Fraction(), 1e-9)
}
