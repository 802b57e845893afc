package stash

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultMaxKeys caps a listing page when the caller does not ask for a
// specific page size.
const DefaultMaxKeys = 50000

// ObjectEntry is a single listing result. Size and ModTime are populated only
// when the listing runs with stat enabled; terse listings carry the key alone.
type ObjectEntry struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ListOptions is the request-scoped listing cursor. Marker is an exclusive
// lower bound; Terse skips the per-key stat call.
type ListOptions struct {
	Prefix  string
	Marker  string
	MaxKeys int
	Terse   bool
}

// ListResult is one page of keys. NextMarker is the last collected key, or
// the supplied marker when the page came back empty.
type ListResult struct {
	Entries    []ObjectEntry
	NextMarker string
	Truncated  bool
}

// KeyLister reconstructs ordered key listings from the unordered filesystem
// walk of a bucket directory.
type KeyLister struct {
	resolver *PathResolver
}

// NewKeyLister returns a lister that shares the store's resolver.
func NewKeyLister(resolver *PathResolver) *KeyLister {
	return &KeyLister{resolver: resolver}
}

// bucketKeys walks the bucket directory and returns every logical key in
// lexicographic order.
func (l *KeyLister) bucketKeys(bucketDir string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(bucketDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if key := l.resolver.StripShardPrefix(path, bucketDir); key != "" {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bucket directory: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// List returns one page of keys for the bucket. Two binary searches position
// the scan over the sorted key set: first strictly past the marker, then
// forward (never backward) to the first key that could match the prefix. The
// scan stops at the first key outside the prefix, or with Truncated set once
// MaxKeys keys have been collected.
func (l *KeyLister) List(bucket string, opts ListOptions) (ListResult, error) {
	bucketDir, err := l.resolver.BucketDir(bucket)
	if err != nil {
		return ListResult{}, err
	}

	info, err := os.Stat(bucketDir)
	if err != nil {
		if os.IsNotExist(err) {
			return ListResult{}, fmt.Errorf("bucket %q: %w", bucket, ErrBucketNotFound)
		}
		return ListResult{}, fmt.Errorf("stat bucket directory: %w", err)
	}
	if !info.IsDir() {
		return ListResult{}, fmt.Errorf("bucket %q: %w", bucket, ErrBucketNotFound)
	}

	keys, err := l.bucketKeys(bucketDir)
	if err != nil {
		return ListResult{}, err
	}

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	start := 0
	if opts.Marker != "" {
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > opts.Marker })
	}
	if opts.Prefix != "" {
		start += sort.SearchStrings(keys[start:], opts.Prefix)
	}

	result := ListResult{NextMarker: opts.Marker}
	for i := start; i < len(keys); i++ {
		key := keys[i]
		if !strings.HasPrefix(key, opts.Prefix) {
			break
		}
		if len(result.Entries) >= maxKeys {
			result.Truncated = true
			break
		}

		entry := ObjectEntry{Key: key}
		if !opts.Terse {
			path, err := l.resolver.Resolve(bucket, key)
			if err != nil {
				return ListResult{}, err
			}
			fi, err := os.Stat(path)
			if err != nil {
				return ListResult{}, fmt.Errorf("stat object %q: %w", key, err)
			}
			entry.Size = fi.Size()
			entry.ModTime = fi.ModTime().UTC()
		}

		result.Entries = append(result.Entries, entry)
		result.NextMarker = key
	}

	return result, nil
}
