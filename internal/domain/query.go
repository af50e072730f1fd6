package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// AlbumQueryType selects how an album listing is filtered and ordered.
type AlbumQueryType int

const (
	AlbumQueryRandom AlbumQueryType = iota
	AlbumQueryNewest
	AlbumQueryFrequent
	AlbumQueryRecent
	AlbumQueryStarred
	AlbumQueryAlphabeticalByName
	AlbumQueryAlphabeticalByArtist
	AlbumQueryYearRange
	AlbumQueryGenre
)

// AlbumQuery is a request for a list of albums. YearRange is only meaningful
// for AlbumQueryYearRange, Genre only for AlbumQueryGenre.
type AlbumQuery struct {
	Type      AlbumQueryType
	YearRange [2]int
	Genre     string
}

// StrHash returns a deterministic hash of the query, used as the cache
// parameter for the query's result set.
func (q AlbumQuery) StrHash() string {
	var material string
	switch q.Type {
	case AlbumQueryYearRange:
		material = fmt.Sprintf("%d:%d-%d", q.Type, q.YearRange[0], q.YearRange[1])
	case AlbumQueryGenre:
		material = fmt.Sprintf("%d:%s", q.Type, q.Genre)
	default:
		material = fmt.Sprintf("%d", q.Type)
	}
	sum := sha1.Sum([]byte(material))
	return hex.EncodeToString(sum[:])
}
