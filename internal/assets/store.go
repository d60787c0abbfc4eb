// Package assets maintains the on-disk card image cache. Images are
// addressed by card ID and face, sharded into subdirectories, and written
// atomically so a crash never leaves a partial image at its final path.
package assets

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"ttsdeck/internal/deck"
)

var (
	ErrAssetNotFound = errors.New("asset not cached")
	ErrFileSystem    = errors.New("filesystem error")
)

// Store is the content store underneath the cache. All methods are safe
// for concurrent use; distinct refs never contend.
type Store struct {
	root string
}

// AssetInfo describes one cached image file.
type AssetInfo struct {
	Ref  deck.AssetRef
	Path string
	Size int64
	Hash string
}

// StoreStats summarizes the whole cache directory.
type StoreStats struct {
	Files int
	Bytes int64
}

// NewStore creates a store rooted at dir, creating it when missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating asset root %s: %v", ErrFileSystem, dir, err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// Path returns the final path for a ref. Files shard on the first four
// hex digits of the card ID to keep directories small.
func (s *Store) Path(ref deck.AssetRef) string {
	hexID := hex.EncodeToString(ref.CardID[:])
	return filepath.Join(s.root, hexID[0:2], hexID[2:4],
		fmt.Sprintf("%s_%d.jpg", ref.CardID, ref.Face))
}

// Stat reports whether the ref is cached, with its file info.
func (s *Store) Stat(ref deck.AssetRef) (AssetInfo, error) {
	path := s.Path(ref)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return AssetInfo{}, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
	}
	if err != nil {
		return AssetInfo{}, fmt.Errorf("%w: stat %s: %v", ErrFileSystem, path, err)
	}
	return AssetInfo{Ref: ref, Path: path, Size: fi.Size()}, nil
}

// Read returns the cached image bytes for a ref.
func (s *Store) Read(ref deck.AssetRef) ([]byte, error) {
	data, err := os.ReadFile(s.Path(ref))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFileSystem, s.Path(ref), err)
	}
	return data, nil
}

// Write stores image bytes for a ref. The data lands in a temporary file
// in the same directory and is renamed into place, so readers only ever
// see complete images.
func (s *Store) Write(ref deck.AssetRef, data []byte) (AssetInfo, error) {
	finalPath := s.Path(ref)
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return AssetInfo{}, fmt.Errorf("%w: creating shard directory %s: %v", ErrFileSystem, dir, err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return AssetInfo{}, fmt.Errorf("%w: creating temporary file for %s: %v", ErrFileSystem, ref, err)
	}
	tempPath := tempFile.Name()
	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return AssetInfo{}, fmt.Errorf("%w: writing temporary file %s: %v", ErrFileSystem, tempPath, err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return AssetInfo{}, fmt.Errorf("%w: closing temporary file %s: %v", ErrFileSystem, tempPath, err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return AssetInfo{}, fmt.Errorf("%w: renaming %s to %s: %v", ErrFileSystem, tempPath, finalPath, err)
	}

	sum := blake3.Sum256(data)
	info := AssetInfo{
		Ref:  ref,
		Path: finalPath,
		Size: int64(len(data)),
		Hash: hex.EncodeToString(sum[:]),
	}
	log.Debugf("Cached asset %s (%d bytes, blake3 %s)", ref, info.Size, info.Hash[:12])
	return info, nil
}

// Remove evicts one ref from the cache. Missing files are not an error.
func (s *Store) Remove(ref deck.AssetRef) error {
	err := os.Remove(s.Path(ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", ErrFileSystem, s.Path(ref), err)
	}
	return nil
}

// Stats walks the cache and totals its files and bytes.
func (s *Store) Stats() (StoreStats, error) {
	var stats StoreStats
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += fi.Size()
		return nil
	})
	if err != nil {
		return StoreStats{}, fmt.Errorf("%w: walking asset store: %v", ErrFileSystem, err)
	}
	return stats, nil
}

// Purge removes every cached image. Eviction is the only way images leave
// the cache; nothing expires them implicitly.
func (s *Store) Purge() (StoreStats, error) {
	stats, err := s.Stats()
	if err != nil {
		return StoreStats{}, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return StoreStats{}, fmt.Errorf("%w: reading asset root: %v", ErrFileSystem, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return StoreStats{}, fmt.Errorf("%w: purging %s: %v", ErrFileSystem, entry.Name(), err)
		}
	}
	log.Infof("Purged %d cached assets (%d bytes)", stats.Files, stats.Bytes)
	return stats, nil
}
