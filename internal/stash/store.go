package stash

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BucketInfo describes one bucket for service-level listings. Created is the
// bucket directory's modification time.
type BucketInfo struct {
	Name    string
	Created time.Time
}

// ObjectInfo carries the filesystem-derived metadata for a stored object.
// The ETag is the MD5 digest of the file contents.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
	ETag    string
}

// Store ties the path resolver, key lister, and upload registry to a single
// storage root. Buckets are the root's immediate subdirectories; objects are
// plain files below them. There is no sidecar metadata anywhere: everything
// reported about an object comes from filesystem attributes at read time.
type Store struct {
	root     string
	resolver *PathResolver
	lister   *KeyLister
	uploads  *UploadRegistry
}

// NewStore creates the storage root if needed and returns a store over it.
func NewStore(root string, shardDepth int) (*Store, error) {
	if root == "" {
		return nil, errors.New("storage root must not be empty")
	}
	if shardDepth < 0 || shardDepth > MaxShardDepth {
		return nil, fmt.Errorf("shard depth must be between 0 and %d, got %d", MaxShardDepth, shardDepth)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	resolver := NewPathResolver(abs, shardDepth)
	return &Store{
		root:     abs,
		resolver: resolver,
		lister:   NewKeyLister(resolver),
		uploads:  NewUploadRegistry(),
	}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// ResolvePath maps a bucket/key pair to its absolute on-disk path.
func (s *Store) ResolvePath(bucket, key string) (string, error) {
	return s.resolver.Resolve(bucket, key)
}

// ListKeys returns one page of the bucket's keys.
func (s *Store) ListKeys(bucket string, opts ListOptions) (ListResult, error) {
	return s.lister.List(bucket, opts)
}

// ActiveUploads returns the number of live multipart upload sessions.
func (s *Store) ActiveUploads() int {
	return s.uploads.Active()
}

// CreateBucket makes the bucket's directory under the storage root.
func (s *Store) CreateBucket(bucket string) error {
	dir, err := s.resolver.BucketDir(bucket)
	if err != nil {
		return err
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("bucket %q: %w", bucket, ErrBucketExists)
		}
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return nil
}

// DeleteBucket removes a bucket that holds no objects. Empty leftover shard
// directories do not count as content and never block deletion.
func (s *Store) DeleteBucket(bucket string) error {
	dir, err := s.resolver.BucketDir(bucket)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("bucket %q: %w", bucket, ErrBucketNotFound)
		}
		return fmt.Errorf("stat bucket directory: %w", err)
	}

	res, err := s.lister.List(bucket, ListOptions{MaxKeys: 1, Terse: true})
	if err != nil {
		return err
	}
	if len(res.Entries) > 0 {
		return fmt.Errorf("bucket %q: %w", bucket, ErrBucketNotEmpty)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete bucket %q: %w", bucket, err)
	}
	return nil
}

// BucketExists reports whether the bucket's directory exists.
func (s *Store) BucketExists(bucket string) (bool, error) {
	dir, err := s.resolver.BucketDir(bucket)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat bucket directory: %w", err)
	}
	return info.IsDir(), nil
}

// ListBuckets returns every bucket sorted by name.
func (s *Store) ListBuckets() ([]BucketInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	var buckets []BucketInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat bucket %q: %w", e.Name(), err)
		}
		buckets = append(buckets, BucketInfo{Name: e.Name(), Created: info.ModTime().UTC()})
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

// PutObject writes the payload at the key's resolved path, creating shard
// directories as needed, and returns the payload's MD5 checksum. The bucket
// must already exist.
func (s *Store) PutObject(bucket, key string, data []byte) (string, error) {
	path, err := s.prepareWrite(bucket, key)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return md5Hex(data), nil
}

// prepareWrite resolves an object write destination: the bucket must exist,
// the key must not collide with a directory, and any missing shard
// directories are created. MkdirAll tolerates concurrent creation of the
// same intermediate directory.
func (s *Store) prepareWrite(bucket, key string) (string, error) {
	exists, err := s.BucketExists(bucket)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("bucket %q: %w", bucket, ErrBucketNotFound)
	}

	path, err := s.resolver.Resolve(bucket, key)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return "", fmt.Errorf("key %q resolves to a directory: %w", key, ErrInvalidPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create object directories: %w", err)
	}
	return path, nil
}

// StatObject returns the object's filesystem-derived metadata.
func (s *Store) StatObject(bucket, key string) (ObjectInfo, error) {
	path, err := s.resolver.Resolve(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return statObject(path, bucket, key)
}

// GetObject opens the object for streaming reads; the caller closes the
// returned reader.
func (s *Store) GetObject(bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	path, err := s.resolver.Resolve(bucket, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	info, err := statObject(path, bucket, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, fmt.Errorf("object %s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, ObjectInfo{}, fmt.Errorf("open object: %w", err)
	}
	return f, info, nil
}

func statObject(path, bucket, key string) (ObjectInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, fmt.Errorf("object %s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	if fi.IsDir() {
		return ObjectInfo{}, fmt.Errorf("object %s/%s: %w", bucket, key, ErrObjectNotFound)
	}

	etag, err := md5File(path)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: fi.Size(), ModTime: fi.ModTime().UTC(), ETag: etag}, nil
}

// DeleteObject unlinks the object, then prunes any directories the removal
// left empty, stopping at the bucket directory.
func (s *Store) DeleteObject(bucket, key string) error {
	bucketDir, err := s.resolver.BucketDir(bucket)
	if err != nil {
		return err
	}
	path, err := s.resolver.Resolve(bucket, key)
	if err != nil {
		return err
	}

	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("object %s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return fmt.Errorf("stat object: %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("object %s/%s: %w", bucket, key, ErrObjectNotFound)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	removeEmptyParents(filepath.Dir(path), bucketDir)
	return nil
}

// removeEmptyParents removes directories from dir up toward stop, exclusive.
// Remove fails on the first non-empty directory, which ends the walk.
func removeEmptyParents(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop+string(os.PathSeparator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// BeginUpload resolves the upload destination, creates its shard directories,
// and opens a new session. The destination file exists (truncated) from this
// point on; parts stream into it via WritePart.
func (s *Store) BeginUpload(bucket, key string) (string, error) {
	path, err := s.prepareWrite(bucket, key)
	if err != nil {
		return "", err
	}

	session, err := s.uploads.Begin(path)
	if err != nil {
		return "", err
	}
	return session.ID(), nil
}

// WritePart routes one part payload to its live session.
func (s *Store) WritePart(uploadID string, partNumber int, data []byte) (string, error) {
	session, err := s.uploads.Lookup(uploadID)
	if err != nil {
		return "", err
	}
	return session.WritePart(partNumber, data)
}

// CompleteUpload finishes the upload and reports every part's checksum in
// part order.
func (s *Store) CompleteUpload(uploadID string) ([]Part, error) {
	session, err := s.uploads.Lookup(uploadID)
	if err != nil {
		return nil, err
	}
	return session.Complete()
}

// AbortUpload discards the upload and deletes its partially written file.
func (s *Store) AbortUpload(uploadID string) error {
	session, err := s.uploads.Lookup(uploadID)
	if err != nil {
		return err
	}
	return session.Abort()
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// md5File hashes a file's contents without holding them in memory.
func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
