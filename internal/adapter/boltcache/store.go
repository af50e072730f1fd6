// Package boltcache implements the local caching adapter on top of BoltDB
// plus on-disk blob directories for song files and cover art.
package boltcache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cadenza-player/cadenza/internal/domain"
)

// Bucket names
var (
	bucketCacheInfo   = []byte("cache_info")
	bucketSongs       = []byte("songs")
	bucketAlbums      = []byte("albums")
	bucketArtists     = []byte("artists")
	bucketPlaylists   = []byte("playlists")
	bucketDirectories = []byte("directories")
	bucketGenres      = []byte("genres")
	bucketMisc        = []byte("misc")
)

var allBuckets = [][]byte{
	bucketCacheInfo, bucketSongs, bucketAlbums, bucketArtists,
	bucketPlaylists, bucketDirectories, bucketGenres, bucketMisc,
}

var nowFunc = time.Now

// cacheRow tracks the validity of one (key, param) cache item.
type cacheRow struct {
	Valid    bool      `json:"valid"`
	CachedAt time.Time `json:"cached_at"`
	// FilePath is set for file-backed items (song files, cover art).
	FilePath string `json:"file_path,omitempty"`
	// Permanent marks a song file exempt from cache eviction.
	Permanent bool `json:"permanent,omitempty"`
}

// Store is the persistence core of the caching adapter: a BoltDB database for
// metadata and validity rows, and blob directories for downloaded files.
type Store struct {
	db       *bolt.DB
	musicDir string
	coverDir string

	// Serializes multi-bucket write transactions so ingest, invalidate, and
	// delete interleave atomically.
	writeMu sync.Mutex
}

// OpenStore opens (creating if necessary) the cache database and blob
// directories under dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	musicDir := filepath.Join(dir, "music")
	coverDir := filepath.Join(dir, "cover_art")
	for _, d := range []string{musicDir, coverDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create blob directory: %w", err)
		}
	}

	dbPath := filepath.Join(dir, "cache.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, musicDir: musicDir, coverDir: coverDir}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rowKey builds the cache_info key for a (key, param) item.
func rowKey(key domain.CachedDataKey, param string) []byte {
	return []byte(string(key) + "\x00" + param)
}

func getRow(tx *bolt.Tx, key domain.CachedDataKey, param string) (cacheRow, bool) {
	v := tx.Bucket(bucketCacheInfo).Get(rowKey(key, param))
	if v == nil {
		return cacheRow{}, false
	}
	var row cacheRow
	if err := json.Unmarshal(v, &row); err != nil {
		return cacheRow{}, false
	}
	return row, true
}

func putRow(tx *bolt.Tx, key domain.CachedDataKey, param string, row cacheRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCacheInfo).Put(rowKey(key, param), data)
}

func deleteRow(tx *bolt.Tx, key domain.CachedDataKey, param string) error {
	return tx.Bucket(bucketCacheInfo).Delete(rowKey(key, param))
}

// markValid records a fresh (key, param) item, preserving file metadata from
// any existing row.
func markValid(tx *bolt.Tx, key domain.CachedDataKey, param string) error {
	row, _ := getRow(tx, key, param)
	row.Valid = true
	row.CachedAt = nowFunc()
	return putRow(tx, key, param, row)
}

// markInvalid flips an existing row stale. Missing rows stay missing.
func markInvalid(tx *bolt.Tx, key domain.CachedDataKey, param string) error {
	row, ok := getRow(tx, key, param)
	if !ok {
		return nil
	}
	row.Valid = false
	return putRow(tx, key, param, row)
}

func getJSON(tx *bolt.Tx, bucket []byte, key string, dest any) bool {
	v := tx.Bucket(bucket).Get([]byte(key))
	if v == nil {
		return false
	}
	return json.Unmarshal(v, dest) == nil
}

func putJSON(tx *bolt.Tx, bucket []byte, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

// surrogateID synthesizes a stable ID for artists and albums the server
// reported without one, so they can still be cached and referenced.
func surrogateID(name string) string {
	sum := sha1.Sum([]byte(name))
	return "invalid:" + hex.EncodeToString(sum[:])
}

// isSurrogate reports whether an ID was synthesized by surrogateID.
func isSurrogate(id string) bool {
	return len(id) > 8 && id[:8] == "invalid:"
}
