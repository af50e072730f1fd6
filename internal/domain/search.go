package domain

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxSearchResults caps each ranked result list.
const maxSearchResults = 20

// SearchResult accumulates results from multiple sources (cache, then one or
// more ground-truth responses) for a single query. Entities are keyed by ID so
// that later, fresher sources replace earlier entries instead of duplicating
// them.
type SearchResult struct {
	query string

	artists   map[string]*Artist
	albums    map[string]*Album
	songs     map[string]*Song
	playlists map[string]*Playlist
}

// NewSearchResult creates an empty result set for the given query.
func NewSearchResult(query string) *SearchResult {
	return &SearchResult{
		query:     query,
		artists:   make(map[string]*Artist),
		albums:    make(map[string]*Album),
		songs:     make(map[string]*Song),
		playlists: make(map[string]*Playlist),
	}
}

// Query returns the query this result set was built for.
func (r *SearchResult) Query() string { return r.query }

// Add merges entities into the result set. Incoming entities win on ID
// collision: they come from a fresher source than whatever is already held.
func (r *SearchResult) Add(artists []*Artist, albums []*Album, songs []*Song, playlists []*Playlist) {
	for _, a := range artists {
		if a != nil {
			r.artists[artistKey(a)] = a
		}
	}
	for _, a := range albums {
		if a != nil && a.ID != "" {
			r.albums[a.ID] = a
		}
	}
	for _, s := range songs {
		if s != nil && s.ID != "" {
			r.songs[s.ID] = s
		}
	}
	for _, p := range playlists {
		if p != nil && p.ID != "" {
			r.playlists[p.ID] = p
		}
	}
}

// Update merges another result set into this one. The incoming set wins on
// collisions.
func (r *SearchResult) Update(other *SearchResult) {
	if other == nil {
		return
	}
	for k, v := range other.artists {
		r.artists[k] = v
	}
	for k, v := range other.albums {
		r.albums[k] = v
	}
	for k, v := range other.songs {
		r.songs[k] = v
	}
	for k, v := range other.playlists {
		r.playlists[k] = v
	}
}

// Empty reports whether the result set holds nothing at all.
func (r *SearchResult) Empty() bool {
	return len(r.artists) == 0 && len(r.albums) == 0 && len(r.songs) == 0 && len(r.playlists) == 0
}

// Artists returns the matching artists ranked best-first.
func (r *SearchResult) Artists() []*Artist {
	return rank(r.query, r.artists, func(a *Artist) string { return a.Name })
}

// Albums returns the matching albums ranked best-first.
func (r *SearchResult) Albums() []*Album {
	return rank(r.query, r.albums, func(a *Album) string { return a.Name })
}

// Songs returns the matching songs ranked best-first.
func (r *SearchResult) Songs() []*Song {
	return rank(r.query, r.songs, func(s *Song) string { return s.Title })
}

// Playlists returns the matching playlists ranked best-first.
func (r *SearchResult) Playlists() []*Playlist {
	return rank(r.query, r.playlists, func(p *Playlist) string { return p.Name })
}

// artistKey keys an artist by ID, falling back to name for artists the server
// never assigned an ID.
func artistKey(a *Artist) string {
	if a.ID != "" {
		return a.ID
	}
	return "name:" + a.Name
}

// rank fuzzy-filters the entities against the query and sorts by match score,
// truncating to maxSearchResults. Entities whose title does not fuzzy-match at
// all are dropped.
func rank[T any](query string, entities map[string]*T, title func(*T) string) []*T {
	query = strings.ToLower(query)

	type ranked struct {
		entity *T
		score  int
	}

	matches := make([]ranked, 0, len(entities))
	for _, e := range entities {
		t := strings.ToLower(title(e))
		if !fuzzy.MatchFold(query, t) {
			continue
		}
		matches = append(matches, ranked{entity: e, score: matchScore(t, query)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score < matches[j].score
	})

	if len(matches) > maxSearchResults {
		matches = matches[:maxSearchResults]
	}

	results := make([]*T, len(matches))
	for i, m := range matches {
		results[i] = m.entity
	}
	return results
}

// matchScore scores a title against a query. Lower is better.
func matchScore(title, query string) int {
	if title == query {
		return 0
	}
	if strings.HasPrefix(title, query) {
		return 10
	}
	if strings.Contains(title, query) {
		return 50
	}
	return 100 + fuzzy.LevenshteinDistance(query, title)
}
