package stash

import "errors"

// Structured failures surfaced to callers. Anything not in this list is a
// plain I/O error and is wrapped and propagated as-is; mapping either kind to
// a transport response is the HTTP layer's job.
var (
	ErrInvalidPath      = errors.New("path escapes bucket directory")
	ErrBucketNotFound   = errors.New("bucket does not exist")
	ErrBucketExists     = errors.New("bucket already exists")
	ErrBucketNotEmpty   = errors.New("bucket is not empty")
	ErrObjectNotFound   = errors.New("object does not exist")
	ErrNoSuchUpload     = errors.New("no such upload")
	ErrDuplicatePart    = errors.New("part number already uploaded")
	ErrIncompleteUpload = errors.New("upload has a part sequence gap")
)
