package boltcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/cadenza-player/cadenza/internal/domain"
)

type cascadeTarget struct {
	key   domain.CachedDataKey
	param string
}

// cascades maps each data key to a resolver producing the items whose
// validity depends on it. Resolvers read the stored entity, so an
// invalidation reaches exactly the cover art and albums the entity actually
// references.
var cascades = map[domain.CachedDataKey]func(tx *bolt.Tx, param string) []cascadeTarget{
	domain.KeyAlbum: func(tx *bolt.Tx, param string) []cascadeTarget {
		var album domain.Album
		if !getJSON(tx, bucketAlbums, param, &album) || album.CoverArtID == "" {
			return nil
		}
		return []cascadeTarget{{domain.KeyCoverArtFile, album.CoverArtID}}
	},
	domain.KeyArtist: func(tx *bolt.Tx, param string) []cascadeTarget {
		var artist domain.Artist
		if !getJSON(tx, bucketArtists, param, &artist) {
			return nil
		}
		var targets []cascadeTarget
		if artist.ArtistImageID != "" {
			targets = append(targets, cascadeTarget{domain.KeyCoverArtFile, artist.ArtistImageID})
		}
		for _, album := range artist.Albums {
			if album.ID != "" {
				targets = append(targets, cascadeTarget{domain.KeyAlbum, album.ID})
			}
		}
		return targets
	},
	domain.KeyPlaylistDetails: func(tx *bolt.Tx, param string) []cascadeTarget {
		var playlist domain.Playlist
		if !getJSON(tx, bucketPlaylists, param, &playlist) || playlist.CoverArtID == "" {
			return nil
		}
		return []cascadeTarget{{domain.KeyCoverArtFile, playlist.CoverArtID}}
	},
	domain.KeySongFile: func(tx *bolt.Tx, param string) []cascadeTarget {
		var song domain.Song
		if !getJSON(tx, bucketSongs, param, &song) || song.CoverArtID == "" {
			return nil
		}
		return []cascadeTarget{{domain.KeyCoverArtFile, song.CoverArtID}}
	},
}

// InvalidateData marks the (key, param) item stale and cascades to dependent
// items. Data and files stay in place; subsequent reads surface them as
// partial data on a cache miss.
func (a *Adapter) InvalidateData(key domain.CachedDataKey, param string) error {
	a.store.writeMu.Lock()
	defer a.store.writeMu.Unlock()

	return a.store.db.Update(func(tx *bolt.Tx) error {
		visited := make(map[cascadeTarget]bool)
		return invalidate(tx, cascadeTarget{key, param}, visited)
	})
}

func invalidate(tx *bolt.Tx, target cascadeTarget, visited map[cascadeTarget]bool) error {
	if visited[target] {
		return nil
	}
	visited[target] = true

	if err := markInvalid(tx, target.key, target.param); err != nil {
		return err
	}
	resolver := cascades[target.key]
	if resolver == nil {
		return nil
	}
	for _, dependent := range resolver(tx, target.param) {
		if err := invalidate(tx, dependent, visited); err != nil {
			return err
		}
	}
	return nil
}

// DeleteData removes the (key, param) item and its backing files. Dependent
// items are invalidated, not deleted: losing a song file does not justify
// dropping its cover art outright.
func (a *Adapter) DeleteData(key domain.CachedDataKey, param string) error {
	a.store.writeMu.Lock()
	defer a.store.writeMu.Unlock()

	switch key {
	case domain.KeyAllSongs:
		return a.deleteAllSongs()
	case domain.KeyEverything:
		return a.deleteEverything()
	}

	return a.store.db.Update(func(tx *bolt.Tx) error {
		visited := map[cascadeTarget]bool{{key, param}: true}
		if resolver := cascades[key]; resolver != nil {
			for _, dependent := range resolver(tx, param) {
				if err := invalidate(tx, dependent, visited); err != nil {
					return err
				}
			}
		}

		switch key {
		case domain.KeySongFile, domain.KeyCoverArtFile:
			if row, ok := getRow(tx, key, param); ok && row.FilePath != "" {
				if err := os.Remove(row.FilePath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove cached file: %w", err)
				}
			}
		case domain.KeyPlaylistDetails:
			if err := tx.Bucket(bucketPlaylists).Delete([]byte(param)); err != nil {
				return err
			}
		}
		return deleteRow(tx, key, param)
	})
}

// deleteAllSongs wipes the music and cover art blob directories and marks
// every file-backed row stale, leaving metadata and the rows themselves
// intact.
func (a *Adapter) deleteAllSongs() error {
	for _, dir := range []string{a.store.musicDir, a.store.coverDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear blob directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to recreate blob directory: %w", err)
		}
	}
	return a.store.db.Update(func(tx *bolt.Tx) error {
		for _, key := range []domain.CachedDataKey{domain.KeySongFile, domain.KeyCoverArtFile} {
			if err := invalidateRowsWithKey(tx, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// deleteEverything clears the blob directories and truncates every bucket.
func (a *Adapter) deleteEverything() error {
	for _, dir := range []string{a.store.musicDir, a.store.coverDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear blob directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to recreate blob directory: %w", err)
		}
	}
	return a.store.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

// invalidateRowsWithKey flips every row under the key stale. Keys are
// collected before writing so the cursor never walks its own mutations.
func invalidateRowsWithKey(tx *bolt.Tx, key domain.CachedDataKey) error {
	b := tx.Bucket(bucketCacheInfo)
	c := b.Cursor()
	prefix := []byte(string(key) + "\x00")
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		var row cacheRow
		if err := json.Unmarshal(b.Get(k), &row); err != nil {
			continue
		}
		row.Valid = false
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := b.Put(k, data); err != nil {
			return err
		}
	}
	return nil
}
