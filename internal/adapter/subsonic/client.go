// Package subsonic implements the ground-truth adapter for Subsonic and
// OpenSubsonic compatible servers.
package subsonic

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const apiVersion = "1.15.0"
const clientName = "cadenza"

// apiError is a failure reported inside an otherwise well-formed response
// envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// client speaks the Subsonic REST API over JSON.
type client struct {
	base     *url.URL
	username string
	password string
	saltAuth bool

	http *http.Client

	mu        sync.Mutex
	reachable bool
	pingedAt  time.Time
}

// pingCacheTTL bounds how often Ping actually hits the server.
const pingCacheTTL = 15 * time.Second

func newClient(rawURL, username, password string, saltAuth, verifyCert bool) (*client, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if !verifyCert {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &client{
		base:     base,
		username: username,
		password: password,
		saltAuth: saltAuth,
		http:     httpClient,
	}, nil
}

// requestURL builds a fully authenticated URL for the given REST view. The
// result is usable directly as a stream or download URI.
func (c *client) requestURL(view string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("v", apiVersion)
	params.Set("c", clientName)
	params.Set("f", "json")
	params.Set("u", c.username)
	if c.saltAuth {
		salt := randomSalt()
		hash := md5.Sum([]byte(c.password + salt))
		params.Set("t", hex.EncodeToString(hash[:]))
		params.Set("s", salt)
	} else {
		params.Set("p", c.password)
	}

	u := c.base.JoinPath("rest", view)
	u.RawQuery = params.Encode()
	return u.String()
}

func randomSalt() string {
	buf := make([]byte, 10)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// getJSON performs a GET against the given view and decodes the response
// envelope, surfacing server-reported errors.
func (c *client) getJSON(ctx context.Context, view string, params url.Values) (*responseBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(view, params), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.setReachable(false)
		return nil, fmt.Errorf("request %s: %w", view, err)
	}
	defer resp.Body.Close()
	c.setReachable(true)

	var envelope struct {
		SubsonicResponse *responseBody `json:"subsonic-response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", view, err)
	}
	if envelope.SubsonicResponse == nil {
		return nil, fmt.Errorf("response %s: missing subsonic-response", view)
	}
	if envelope.SubsonicResponse.Error != nil {
		return nil, envelope.SubsonicResponse.Error
	}
	return envelope.SubsonicResponse, nil
}

func (c *client) setReachable(ok bool) {
	c.mu.Lock()
	c.reachable = ok
	c.pingedAt = time.Now()
	c.mu.Unlock()
}

// ping reports whether the server currently answers. Results are cached
// briefly so status polling does not hammer the server.
func (c *client) ping(ctx context.Context) bool {
	c.mu.Lock()
	if time.Since(c.pingedAt) < pingCacheTTL {
		ok := c.reachable
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	_, err := c.getJSON(ctx, "ping", nil)
	return err == nil
}

// responseBody is the interior of the Subsonic response envelope, restricted
// to the views this client calls.
type responseBody struct {
	Status  string `json:"status"`
	Version string `json:"version"`

	Error *apiError `json:"error,omitempty"`

	Artists       *artistsIndex  `json:"artists"`
	Artist        *artistRef     `json:"artist"`
	Album         *albumRef      `json:"album"`
	Song          *childRef      `json:"song"`
	Directory     *directoryRef  `json:"directory"`
	Genres        *genreList     `json:"genres"`
	Playlists     *playlistList  `json:"playlists"`
	Playlist      *playlistRef   `json:"playlist"`
	AlbumList2    *albumList     `json:"albumList2"`
	SearchResult3 *searchResult3 `json:"searchResult3"`
	PlayQueue     *playQueueRef  `json:"playQueue"`
	ArtistInfo2   *artistInfo    `json:"artistInfo2"`
}

type artistsIndex struct {
	IgnoredArticles string `json:"ignoredArticles"`
	Index           []struct {
		Name   string      `json:"name"`
		Artist []artistRef `json:"artist"`
	} `json:"index"`
}

type artistRef struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	CoverArt       string      `json:"coverArt"`
	ArtistImageURL string      `json:"artistImageUrl"`
	AlbumCount     int         `json:"albumCount"`
	Starred        *time.Time  `json:"starred"`
	Album          []albumRef  `json:"album"`
	SimilarArtist  []artistRef `json:"similarArtist"`
}

type artistInfo struct {
	Biography      string      `json:"biography"`
	MusicBrainzID  string      `json:"musicBrainzId"`
	SmallImageURL  string      `json:"smallImageUrl"`
	MediumImageURL string      `json:"mediumImageUrl"`
	LargeImageURL  string      `json:"largeImageUrl"`
	SimilarArtist  []artistRef `json:"similarArtist"`
}

type albumRef struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Artist    string     `json:"artist"`
	ArtistID  string     `json:"artistId"`
	CoverArt  string     `json:"coverArt"`
	SongCount int        `json:"songCount"`
	Duration  int        `json:"duration"`
	PlayCount int        `json:"playCount"`
	Created   *time.Time `json:"created"`
	Starred   *time.Time `json:"starred"`
	Year      int        `json:"year"`
	Genre     string     `json:"genre"`
	Song      []childRef `json:"song"`
}

type albumList struct {
	Album []albumRef `json:"album"`
}

// childRef is the Subsonic "Child" object: a song, or a directory entry when
// IsDir is set.
type childRef struct {
	ID         string     `json:"id"`
	Parent     string     `json:"parent"`
	IsDir      bool       `json:"isDir"`
	Title      string     `json:"title"`
	Album      string     `json:"album"`
	AlbumID    string     `json:"albumId"`
	Artist     string     `json:"artist"`
	ArtistID   string     `json:"artistId"`
	Track      int        `json:"track"`
	DiscNumber int        `json:"discNumber"`
	Year       int        `json:"year"`
	Genre      string     `json:"genre"`
	CoverArt   string     `json:"coverArt"`
	Size       int64      `json:"size"`
	Duration   int        `json:"duration"`
	Path       string     `json:"path"`
	UserRating int        `json:"userRating"`
	Starred    *time.Time `json:"starred"`
}

type directoryRef struct {
	ID     string     `json:"id"`
	Parent string     `json:"parent"`
	Name   string     `json:"name"`
	Child  []childRef `json:"child"`
}

type genreList struct {
	Genre []genreRef `json:"genre"`
}

type genreRef struct {
	Value      string `json:"value"`
	SongCount  int    `json:"songCount"`
	AlbumCount int    `json:"albumCount"`
}

type playlistList struct {
	Playlist []playlistRef `json:"playlist"`
}

type playlistRef struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Comment   string     `json:"comment"`
	Owner     string     `json:"owner"`
	Public    bool       `json:"public"`
	SongCount int        `json:"songCount"`
	Duration  int        `json:"duration"`
	Created   *time.Time `json:"created"`
	Changed   *time.Time `json:"changed"`
	CoverArt  string     `json:"coverArt"`
	Entry     []childRef `json:"entry"`
}

type searchResult3 struct {
	Artist []artistRef `json:"artist"`
	Album  []albumRef  `json:"album"`
	Song   []childRef  `json:"song"`
}

type playQueueRef struct {
	Current   string     `json:"current"`
	Position  int64      `json:"position"`
	Username  string     `json:"username"`
	Changed   *time.Time `json:"changed"`
	ChangedBy string     `json:"changedBy"`
	Entry     []childRef `json:"entry"`
}
