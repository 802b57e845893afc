package stash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaolacci/murmur3"
)

// MaxShardDepth bounds the shard depth: the deepest level consumes 2*depth
// characters of the 32-character shard digest.
const MaxShardDepth = 8

// PathResolver maps bucket/key pairs onto the sharded on-disk layout and
// back. Both directions are pure functions; root is absolute and shardDepth
// is fixed for the lifetime of the store.
type PathResolver struct {
	root  string
	depth int
}

// NewPathResolver returns a resolver rooted at the absolute directory root.
func NewPathResolver(root string, shardDepth int) *PathResolver {
	return &PathResolver{root: root, depth: shardDepth}
}

// ShardDepth returns the configured number of shard directory levels.
func (p *PathResolver) ShardDepth() int {
	return p.depth
}

// BucketDir returns the directory holding the bucket's objects. Names that do
// not resolve to a direct child of the storage root (empty names, separators,
// dot segments) are rejected before any filesystem access.
func (p *PathResolver) BucketDir(bucket string) (string, error) {
	dir := filepath.Join(p.root, bucket)
	if dir == p.root || filepath.Dir(dir) != p.root {
		return "", fmt.Errorf("bucket %q: %w", bucket, ErrInvalidPath)
	}
	return dir, nil
}

// shardDigest returns the 32-character hex digest that spreads keys across
// shard directories. Distribution is all that matters here; integrity tokens
// (ETags) are computed separately with MD5.
func shardDigest(key string) string {
	h1, h2 := murmur3.Sum128([]byte(key))

	var sum [16]byte
	binary.BigEndian.PutUint64(sum[:8], h1)
	binary.BigEndian.PutUint64(sum[8:], h2)
	return hex.EncodeToString(sum[:])
}

// Resolve returns the absolute path for an object. With a shard depth of d,
// level i (0-indexed) is named by the first 2*(i+1) characters of the key's
// shard digest; the full key, slashes included, becomes the path below the
// shard directories. Keys that would land outside the bucket directory fail
// with ErrInvalidPath before any filesystem operation.
func (p *PathResolver) Resolve(bucket, key string) (string, error) {
	bucketDir, err := p.BucketDir(bucket)
	if err != nil {
		return "", err
	}

	if filepath.IsAbs(key) {
		return "", fmt.Errorf("key %q: %w", key, ErrInvalidPath)
	}

	parts := make([]string, 0, p.depth+2)
	parts = append(parts, bucketDir)
	if p.depth > 0 {
		digest := shardDigest(key)
		for i := 0; i < p.depth; i++ {
			parts = append(parts, digest[:2*(i+1)])
		}
	}
	parts = append(parts, key)

	path := filepath.Join(parts...)
	if !strings.HasPrefix(path, bucketDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("key %q: %w", key, ErrInvalidPath)
	}
	return path, nil
}

// StripShardPrefix recovers the logical key from a path discovered while
// walking bucketDir. The shard prefix has a fixed width for a given depth:
// level i contributes 2*(i+1) digest characters plus one separator, so the
// key is whatever follows. Paths too short to carry a key yield "".
func (p *PathResolver) StripShardPrefix(path, bucketDir string) string {
	skip := len(bucketDir) + 1
	for i := 0; i < p.depth; i++ {
		skip += 2*(i+1) + 1
	}

	if len(path) <= skip {
		return ""
	}
	return filepath.ToSlash(path[skip:])
}
