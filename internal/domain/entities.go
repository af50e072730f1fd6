package domain

import (
	"fmt"
	"time"
)

// Genre is a music genre as reported by an adapter. Genres are identified by
// name; servers do not assign them IDs.
type Genre struct {
	Name       string
	SongCount  int
	AlbumCount int
}

// Artist represents an artist. The ID may be empty: some servers report an
// artist name on a song or album without an artist entry of its own. Adapters
// that cache such artists synthesize a surrogate ID.
type Artist struct {
	ID            string
	Name          string
	AlbumCount    int
	ArtistImageID string // cover-art identifier for the artist image
	Starred       *time.Time
	Biography     string
	MusicBrainzID string

	// Albums is populated on a full artist fetch, nil on embedded references.
	Albums         []*Album
	SimilarArtists []*Artist
}

// Album represents an album. As with Artist, the ID may be empty when the
// album is only known from a song's tag data.
type Album struct {
	ID         string
	Name       string
	CoverArtID string
	SongCount  int
	Duration   time.Duration
	Created    *time.Time
	PlayCount  int
	Starred    *time.Time
	Year       int

	Artist *Artist
	Genre  *Genre

	// Songs is populated on a full album fetch, nil on embedded references.
	Songs []*Song
}

// Song represents a single playable track.
type Song struct {
	ID         string
	Title      string
	Track      int
	DiscNumber int
	Year       int
	Duration   time.Duration
	ParentID   string // containing directory, when the server exposes one
	Path       string // server-relative file path
	Size       int64  // file size in bytes, 0 if unknown
	CoverArtID string
	UserRating int
	Starred    *time.Time

	Album  *Album
	Artist *Artist
	Genre  *Genre
}

// FormattedDuration returns the duration as "m:ss" or "h:mm:ss".
func (s Song) FormattedDuration() string {
	total := int(s.Duration.Seconds())
	h, m, sec := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// Playlist represents a user playlist.
type Playlist struct {
	ID         string
	Name       string
	SongCount  int
	Duration   time.Duration
	Created    *time.Time
	Changed    *time.Time
	Comment    string
	Owner      string
	Public     bool
	CoverArtID string

	// Songs is populated on a details fetch, nil in playlist listings.
	Songs []*Song
}

// Directory is a node in the server's browse tree. Children holds
// subdirectories and songs in server order.
type Directory struct {
	ID       string
	Name     string
	ParentID string
	Children []DirectoryEntry
}

// DirectoryEntry is one child of a Directory: exactly one of Directory or
// Song is set.
type DirectoryEntry struct {
	Directory *Directory `json:",omitempty"`
	Song      *Song      `json:",omitempty"`
}

// Name returns the display name of the entry regardless of its kind.
func (e DirectoryEntry) Name() string {
	if e.Directory != nil {
		return e.Directory.Name
	}
	if e.Song != nil {
		return e.Song.Title
	}
	return ""
}

// PlayQueue is the server-saved play queue state for the current user.
type PlayQueue struct {
	Songs        []*Song
	CurrentIndex int
	Position     time.Duration
	Username     string
	Changed      *time.Time
	ChangedBy    string
}
