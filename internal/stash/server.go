package stash

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"stash/internal/metrics"
)

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// maxPartNumber is the largest part number accepted for a multipart upload,
// matching the S3 protocol limit.
const maxPartNumber = 10000

// iso8601TimeFormat renders timestamps inside XML listing documents.
const iso8601TimeFormat = "2006-01-02T15:04:05.000Z"

type Config struct {
	DataDir    string
	ShardDepth int
	Region     string
	Metrics    *metrics.Metrics
}

// Server provides a minimal S3-compatible HTTP API over a local directory
// tree. All object state lives in the filesystem; the server itself only
// holds the live multipart upload sessions.
type Server struct {
	cfg     Config
	store   *Store
	metrics *metrics.Metrics
}

// NewServer prepares the storage root and returns a new Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	store, err := NewStore(cfg.DataDir, cfg.ShardDepth)
	if err != nil {
		return nil, err
	}

	cfg.Metrics.WatchActiveUploads(func() float64 {
		return float64(store.ActiveUploads())
	})

	return &Server{cfg: cfg, store: store, metrics: cfg.Metrics}, nil
}

// Store returns the server's storage layer.
func (s *Server) Store() *Store {
	return s.store
}

// writeNotImplemented is a helper for stubbing unsupported S3 operations.
func (s *Server) writeNotImplemented(w http.ResponseWriter, r *http.Request, op string) {
	message := op + " is not implemented."
	writeS3Error(w, "NotImplemented", message, r.URL.Path, http.StatusNotImplemented)
}

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

// writeStoreError maps a storage-layer error onto the S3 error document that
// describes it. Errors outside the structured set are logged under op with
// the given attributes and reported as InternalError.
func writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error, logAttrs ...any) {
	switch {
	case errors.Is(err, ErrBucketNotFound):
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
	case errors.Is(err, ErrBucketExists):
		writeS3Error(w, "BucketAlreadyExists", "The requested bucket name is not available. The bucket namespace is shared by all users of the system. Please select a different name and try again.", r.URL.Path, http.StatusConflict)
	case errors.Is(err, ErrBucketNotEmpty):
		writeS3Error(w, "BucketNotEmpty", "The bucket you tried to delete is not empty.", r.URL.Path, http.StatusConflict)
	case errors.Is(err, ErrObjectNotFound):
		writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
	case errors.Is(err, ErrInvalidPath):
		writeS3Error(w, "AccessDenied", "The requested path resolves outside the bucket.", r.URL.Path, http.StatusForbidden)
	case errors.Is(err, ErrNoSuchUpload):
		writeS3Error(w, "NoSuchUpload", "The specified multipart upload does not exist.", r.URL.Path, http.StatusNotFound)
	case errors.Is(err, ErrDuplicatePart):
		writeS3Error(w, "DuplicatePart", "The specified part number was already uploaded.", r.URL.Path, http.StatusBadRequest)
	case errors.Is(err, ErrIncompleteUpload):
		writeS3Error(w, "InvalidPart", "One or more of the specified parts could not be found.", r.URL.Path, http.StatusBadRequest)
	default:
		slog.Error(op, append(logAttrs, "err", err)...)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
	}
}

// isValidBucketName implements the standard S3 bucket naming rules for
// "virtual hosted-style" buckets.
func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}

	// Must consist only of lowercase letters, digits, dots, or hyphens,
	// and must start and end with a letter or digit.
	if !bucketNamePattern.MatchString(name) {
		return false
	}

	// Disallow patterns like "..", ".-", "-.".
	if strings.Contains(name, "..") {
		return false
	}

	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}

	// Bucket name must not be formatted as an IPv4 address.
	ip := net.ParseIP(name)
	return ip == nil
}

// isValidObjectKey enforces basic S3 object key constraints: non-empty,
// at most 1024 bytes, and no control characters.
func isValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > 1024 {
		return false
	}

	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}

// validateBucketNameOrError writes an S3 InvalidBucketName error and returns
// false if the provided name does not meet S3 bucket naming rules.
func validateBucketNameOrError(w http.ResponseWriter, r *http.Request, bucket string) bool {
	if !isValidBucketName(bucket) {
		writeS3Error(w, "InvalidBucketName", "The specified bucket is not valid.", r.URL.Path, http.StatusBadRequest)
		return false
	}
	return true
}

// validateObjectKeyOrError writes an S3-style error for invalid object keys.
func validateObjectKeyOrError(w http.ResponseWriter, r *http.Request, key string) bool {
	if !isValidObjectKey(key) {
		writeS3Error(w, "InvalidObjectName", "The specified key is not valid.", r.URL.Path, http.StatusBadRequest)
		return false
	}
	return true
}

// writeXMLResponse encodes v as XML and writes it to w with a 200 OK status.
func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	return xml.NewEncoder(w).Encode(v)
}

// createETag formats a hash hex string as an ETag value.
func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// queryValue returns the first non-empty value among the given parameter
// spellings. Client tooling is inconsistent about the casing of the
// multipart query parameters, so both historical spellings are accepted.
func queryValue(q url.Values, names ...string) string {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// readPayload reads the request body, transparently decoding AWS Signature
// Version 4 streaming (aws-chunked) bodies into their raw payload bytes.
func readPayload(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	contentSHA := r.Header.Get("X-Amz-Content-Sha256")
	if !strings.HasPrefix(strings.ToUpper(contentSHA), "STREAMING-") {
		return io.ReadAll(r.Body)
	}

	var buf bytes.Buffer
	if decodedLenStr := r.Header.Get("X-Amz-Decoded-Content-Length"); decodedLenStr != "" {
		if decodedLen, err := strconv.ParseInt(decodedLenStr, 10, 64); err == nil && decodedLen > 0 {
			buf.Grow(int(decodedLen))
		}
	}

	if err := decodeStreamingPayload(&buf, r.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeStreamingPayload decodes an AWS Signature Version 4 streaming
// (chunked) payload into w. Chunk signatures are not verified; only the
// framing is interpreted.
func decodeStreamingPayload(w io.Writer, body io.Reader) error {
	br := bufio.NewReader(body)

	for {
		// Each chunk begins with: <size-hex>[;extensions]\r\n
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("unexpected EOF while reading chunk header")
			}
			return fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			// Skip empty lines if any.
			continue
		}

		// Strip any chunk extensions (e.g. ";chunk-signature=...").
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		sizeHex := strings.TrimSpace(line)
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return fmt.Errorf("parse chunk size %q: %w", sizeHex, err)
		}

		if size == 0 {
			// Final chunk. Consume any trailer lines up to the terminating
			// blank line, tolerating EOF from clients that omit it.
			for {
				trailer, err := br.ReadString('\n')
				if err != nil || strings.TrimRight(trailer, "\r\n") == "" {
					break
				}
			}
			return nil
		}

		remaining := size
		buf := make([]byte, 32*1024)
		for remaining > 0 {
			toRead := min(remaining, int64(len(buf)))
			n, err := io.ReadFull(br, buf[:toRead])
			if err != nil {
				return fmt.Errorf("read chunk body: %w", err)
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("write chunk: %w", err)
			}
			remaining -= int64(n)
		}

		// Consume the trailing CRLF after the chunk body.
		if b, err := br.ReadByte(); err != nil || b != '\r' {
			if err == nil {
				return fmt.Errorf("expected CR after chunk, got %q", b)
			}
			return fmt.Errorf("read CR after chunk: %w", err)
		}
		if b, err := br.ReadByte(); err != nil || b != '\n' {
			if err == nil {
				return fmt.Errorf("expected LF after chunk, got %q", b)
			}
			return fmt.Errorf("read LF after chunk: %w", err)
		}
	}
}

// ------ Dispatchers for bucket-level HTTP handlers ------

// handleBucketPut dispatches PUT /bucket[?subresource] between CreateBucket
// and various bucket configuration APIs.
func (s *Server) handleBucketPut(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "PutBucketTagging")
	case q.Has("versioning"):
		s.writeNotImplemented(w, r, "PutBucketVersioning")
	case q.Has("encryption"):
		s.writeNotImplemented(w, r, "PutBucketEncryption")
	case q.Has("cors"):
		s.writeNotImplemented(w, r, "PutBucketCors")
	case q.Has("lifecycle"):
		s.writeNotImplemented(w, r, "PutBucketLifecycleConfiguration")
	case q.Has("notification"):
		s.writeNotImplemented(w, r, "PutBucketNotificationConfiguration")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "PutBucketPolicy")
	case q.Has("replication"):
		s.writeNotImplemented(w, r, "PutBucketReplication")
	default:
		s.handleCreateBucket(w, r, bucket)
	}
}

// handleBucketPost implements POST /bucket[?subresource], such as DeleteObjects.
func (s *Server) handleBucketPost(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("delete"):
		s.writeNotImplemented(w, r, "DeleteObjects")
	default:
		s.writeNotImplemented(w, r, "BucketPost")
	}
}

// handleBucketGet dispatches GET /bucket[?subresource] between ListObjects
// and bucket-level read APIs.
func (s *Server) handleBucketGet(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("location"):
		s.handleGetBucketLocation(w, r, bucket)
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "GetBucketTagging")
	case q.Has("versioning"):
		s.writeNotImplemented(w, r, "GetBucketVersioning")
	case q.Has("encryption"):
		s.writeNotImplemented(w, r, "GetBucketEncryption")
	case q.Has("cors"):
		s.writeNotImplemented(w, r, "GetBucketCors")
	case q.Has("lifecycle"):
		s.writeNotImplemented(w, r, "GetBucketLifecycleConfiguration")
	case q.Has("notification"):
		s.writeNotImplemented(w, r, "GetBucketNotificationConfiguration")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "GetBucketPolicy")
	case q.Has("replication"):
		s.writeNotImplemented(w, r, "GetBucketReplication")
	case q.Get("list-type") == "2":
		s.handleListObjectsV2(w, r, bucket)
	case q.Has("versions"):
		s.writeNotImplemented(w, r, "ListObjectVersions")
	case q.Has("uploads"):
		s.writeNotImplemented(w, r, "ListMultipartUploads")
	default:
		s.handleListObjects(w, r, bucket)
	}
}

// handleBucketDelete implements DELETE /bucket[?subresource].
func (s *Server) handleBucketDelete(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "DeleteBucketTagging")
	case q.Has("encryption"):
		s.writeNotImplemented(w, r, "DeleteBucketEncryption")
	case q.Has("cors"):
		s.writeNotImplemented(w, r, "DeleteBucketCors")
	case q.Has("lifecycle"):
		s.writeNotImplemented(w, r, "DeleteBucketLifecycle")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "DeleteBucketPolicy")
	case q.Has("replication"):
		s.writeNotImplemented(w, r, "DeleteBucketReplication")
	default:
		// Primary bucket deletion (no subresources).
		s.handleDeleteBucket(w, r, bucket)
	}
}

// handleBucketHead implements HEAD /bucket.
func (s *Server) handleBucketHead(w http.ResponseWriter, r *http.Request, bucket string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}

	// Ensure bucket exists.
	if exists, err := s.store.BucketExists(bucket); err != nil {
		writeStoreError(w, r, "Bucket head", err, "bucket", bucket)
		return
	} else if !exists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}

	// S3-compatible HEAD bucket: 200 with no body.
	w.WriteHeader(http.StatusOK)
}

// ------ Dispatchers for object-level HTTP handlers ------

// handleObjectPost implements POST /bucket/key[?subresource] operations such
// as CreateMultipartUpload and CompleteMultipartUpload.
func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()

	if q.Has("uploads") {
		s.handleInitiateUpload(w, r, bucket, key)
		return
	}

	if uploadID := queryValue(q, "uploadId", "UploadId"); uploadID != "" {
		s.handleCompleteUpload(w, r, bucket, key, uploadID)
		return
	}

	switch {
	case q.Has("restore"):
		s.writeNotImplemented(w, r, "RestoreObject")
	case q.Has("select"):
		s.writeNotImplemented(w, r, "SelectObjectContent")
	default:
		s.writeNotImplemented(w, r, "ObjectPost")
	}
}

// handleObjectGet implements GET /bucket/key to retrieve an object.
func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "GetObjectTagging")
	case q.Has("attributes"):
		s.writeNotImplemented(w, r, "GetObjectAttributes")
	case queryValue(q, "uploadId", "UploadId") != "":
		s.writeNotImplemented(w, r, "ListParts")
	default:
		s.handleGetObject(w, r, bucket, key)
	}
}

// handleObjectDelete implements DELETE /bucket/key to delete an object or
// abort a multipart upload.
func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()

	if q.Has("tagging") {
		s.writeNotImplemented(w, r, "DeleteObjectTagging")
		return
	}

	if uploadID := queryValue(q, "uploadId", "UploadId"); uploadID != "" {
		s.handleAbortUpload(w, r, uploadID)
		return
	}

	s.handleDeleteObject(w, r, bucket, key)
}

// handleObjectPut implements PUT /bucket/key to store an object or upload a
// part of a multipart upload.
func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	q := r.URL.Query()

	if uploadID := queryValue(q, "uploadId", "UploadId"); uploadID != "" {
		if r.Header.Get("x-amz-copy-source") != "" {
			s.writeNotImplemented(w, r, "UploadPartCopy")
			return
		}

		partRaw := queryValue(q, "partNumber", "PartNumber")
		if partRaw == "" {
			writeS3Error(w, "InvalidArgument", "A part number is required to upload a part.", r.URL.Path, http.StatusBadRequest)
			return
		}

		s.handleUploadPart(w, r, uploadID, partRaw)
		return
	}

	if q.Has("tagging") {
		s.writeNotImplemented(w, r, "PutObjectTagging")
		return
	}

	if r.Header.Get("x-amz-copy-source") != "" {
		s.writeNotImplemented(w, r, "CopyObject")
		return
	}

	s.handlePutObject(w, r, bucket, key)
}

// handleObjectHead implements HEAD /bucket/key, returning metadata headers
// compatible with S3 but without a response body.
func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if !validateBucketNameOrError(w, r, bucket) {
		return
	}
	if !validateObjectKeyOrError(w, r, key) {
		return
	}

	info, err := s.store.StatObject(bucket, key)
	if err != nil {
		writeStoreError(w, r, "Object head", err, "bucket", bucket, "key", key)
		return
	}

	writeObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
}

// writeObjectHeaders sets the standard S3 metadata headers for an object.
// Content types are not tracked anywhere, so every object reports the
// generic binary type.
func writeObjectHeaders(w http.ResponseWriter, info ObjectInfo) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Last-Modified", info.ModTime.Format(http.TimeFormat))
	w.Header().Set("ETag", createETag(info.ETag))
	w.Header().Set("Accept-Ranges", "bytes")
}

// ------ Individual API HTTP handlers ------

// handleListBuckets implements GET / to list all buckets.
func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.ListBuckets()
	if err != nil {
		slog.Error("List buckets", "err", err)
		writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
		return
	}

	entries := make([]BucketSummary, 0, len(buckets))
	for _, b := range buckets {
		entries = append(entries, BucketSummary{
			Name:         b.Name,
			CreationDate: b.Created.Format(iso8601TimeFormat),
		})
	}

	resp := ListAllMyBucketsResult{
		XMLNS: s3XMLNamespace,
		Owner: Owner{
			ID:          "stash",
			DisplayName: "stash",
		},
		Buckets: entries,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list buckets XML", "err", err)
	}
}

// handleCreateBucket implements PUT /bucket to create a new bucket.
func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	if err := s.store.CreateBucket(bucket); err != nil {
		writeStoreError(w, r, "Create bucket", err, "bucket", bucket)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleDeleteBucket implements DELETE /bucket for the primary bucket
// deletion operation (without subresources). The bucket must hold no
// objects; leftover empty shard directories do not count.
func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	if err := s.store.DeleteBucket(bucket); err != nil {
		writeStoreError(w, r, "Delete bucket", err, "bucket", bucket)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetBucketLocation implements GET /bucket?location
func (s *Server) handleGetBucketLocation(w http.ResponseWriter, r *http.Request, bucket string) {

	// Ensure bucket exists.
	if exists, err := s.store.BucketExists(bucket); err != nil {
		writeStoreError(w, r, "Get bucket location", err, "bucket", bucket)
		return
	} else if !exists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}

	resp := LocationConstraint{
		XMLNS:  s3XMLNamespace,
		Region: s.cfg.Region,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode bucket location XML", "bucket", bucket, "err", err)
	}
}

// listQuery extracts the listing parameters shared by both ListObjects
// versions. Unparsable values fall back to their defaults.
func listQuery(q url.Values) (prefix string, maxKeys int, terse bool) {
	prefix = q.Get("prefix")

	maxKeys = DefaultMaxKeys
	if raw := q.Get("max-keys"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			maxKeys = v
		}
	}

	if raw := q.Get("terse"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v != 0 {
			terse = true
		}
	}

	return prefix, maxKeys, terse
}

// objectSummary renders one listing entry. Terse listings carry the key
// alone; stat-backed listings add size and modification time.
func objectSummary(e ObjectEntry, terse bool) ObjectSummary {
	if terse {
		return ObjectSummary{Key: e.Key}
	}

	size := e.Size
	return ObjectSummary{
		Key:          e.Key,
		LastModified: e.ModTime.Format(iso8601TimeFormat),
		Size:         &size,
		StorageClass: "STANDARD",
	}
}

// handleListObjects implements S3 ListObjects (v1) for a single bucket:
// GET /bucket[?prefix=&marker=&max-keys=&terse=]. The response's Marker
// carries the advanced cursor, so clients can feed it straight back in.
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	prefix, maxKeys, terse := listQuery(q)
	marker := q.Get("marker")

	res, err := s.store.ListKeys(bucket, ListOptions{
		Prefix:  prefix,
		Marker:  marker,
		MaxKeys: maxKeys,
		Terse:   terse,
	})
	if err != nil {
		writeStoreError(w, r, "List objects", err, "bucket", bucket)
		return
	}

	contents := make([]ObjectSummary, 0, len(res.Entries))
	for _, e := range res.Entries {
		contents = append(contents, objectSummary(e, terse))
	}

	resp := ListBucketResult{
		XMLNS:       s3XMLNamespace,
		Name:        bucket,
		Prefix:      prefix,
		Marker:      res.NextMarker,
		MaxKeys:     maxKeys,
		IsTruncated: res.Truncated,
		Contents:    contents,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects XML", "bucket", bucket, "err", err)
	}
}

// handleListObjectsV2 implements S3 ListObjectsV2:
// GET /bucket?list-type=2[&prefix=&max-keys=&continuation-token=&start-after=].
// Both cursor parameters map onto the same exclusive lower bound; the
// continuation token wins when both are present.
func (s *Server) handleListObjectsV2(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	prefix, maxKeys, terse := listQuery(q)

	continuationToken := q.Get("continuation-token")
	startAfter := ""
	if continuationToken == "" {
		startAfter = q.Get("start-after")
	}

	marker := continuationToken
	if marker == "" {
		marker = startAfter
	}

	res, err := s.store.ListKeys(bucket, ListOptions{
		Prefix:  prefix,
		Marker:  marker,
		MaxKeys: maxKeys,
		Terse:   terse,
	})
	if err != nil {
		writeStoreError(w, r, "List objects v2", err, "bucket", bucket)
		return
	}

	contents := make([]ObjectSummary, 0, len(res.Entries))
	for _, e := range res.Entries {
		contents = append(contents, objectSummary(e, terse))
	}

	nextContinuationToken := ""
	if res.Truncated {
		nextContinuationToken = res.NextMarker
	}

	resp := ListBucketResultV2{
		XMLNS:                 s3XMLNamespace,
		Name:                  bucket,
		Prefix:                prefix,
		StartAfter:            startAfter,
		ContinuationToken:     continuationToken,
		NextContinuationToken: nextContinuationToken,
		KeyCount:              len(contents),
		MaxKeys:               maxKeys,
		IsTruncated:           res.Truncated,
		Contents:              contents,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects v2 XML", "bucket", bucket, "err", err)
	}
}

// handlePutObject stores a complete object payload at the key's resolved
// path. The bucket must already exist; there is no auto-creation.
func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	data, err := readPayload(r)
	if err != nil {
		slog.Error("Read object payload", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, "InvalidRequest", "Failed to read request body", r.URL.Path, http.StatusBadRequest)
		return
	}

	etag, err := s.store.PutObject(bucket, key, data)
	if err != nil {
		writeStoreError(w, r, "Put object", err, "bucket", bucket, "key", key)
		return
	}

	w.Header().Set("ETag", createETag(etag))
	w.WriteHeader(http.StatusOK)
}

// handleGetObject streams an object's bytes with its metadata headers.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	rc, info, err := s.store.GetObject(bucket, key)
	if err != nil {
		writeStoreError(w, r, "Get object", err, "bucket", bucket, "key", key)
		return
	}
	defer rc.Close()

	writeObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("Stream object", "bucket", bucket, "key", key, "err", err)
	}
}

// handleDeleteObject unlinks an object and prunes any shard directories the
// removal left empty.
func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if err := s.store.DeleteObject(bucket, key); err != nil {
		writeStoreError(w, r, "Delete object", err, "bucket", bucket, "key", key)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ------ Multipart upload HTTP handlers ------

// handleInitiateUpload implements POST /bucket/key?uploads to start a
// multipart upload. The destination file exists (empty) from this point on.
func (s *Server) handleInitiateUpload(w http.ResponseWriter, r *http.Request, bucket string, key string) {
	uploadID, err := s.store.BeginUpload(bucket, key)
	if err != nil {
		writeStoreError(w, r, "Initiate multipart upload", err, "bucket", bucket, "key", key)
		return
	}

	s.metrics.UploadBegun()

	resp := InitiateMultipartUploadResult{
		XMLNS:    s3XMLNamespace,
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode initiate multipart upload XML", "bucket", bucket, "key", key, "err", err)
	}
}

// handleUploadPart implements PUT /bucket/key?uploadId=ID&partNumber=N. The
// upload session is addressed purely by its identifier; the path components
// play no role in routing the part.
func (s *Server) handleUploadPart(w http.ResponseWriter, r *http.Request, uploadID string, partRaw string) {
	partNumber, err := strconv.Atoi(partRaw)
	if err != nil || partNumber < 1 || partNumber > maxPartNumber {
		message := fmt.Sprintf("Part number must be an integer between 1 and %d.", maxPartNumber)
		writeS3Error(w, "InvalidArgument", message, r.URL.Path, http.StatusBadRequest)
		return
	}

	data, err := readPayload(r)
	if err != nil {
		slog.Error("Read part payload", "upload", uploadID, "part", partNumber, "err", err)
		writeS3Error(w, "InvalidRequest", "Failed to read request body", r.URL.Path, http.StatusBadRequest)
		return
	}

	checksum, err := s.store.WritePart(uploadID, partNumber, data)
	if err != nil {
		writeStoreError(w, r, "Upload part", err, "upload", uploadID, "part", partNumber)
		return
	}

	s.metrics.PartReceived(len(data))

	w.Header().Set("ETag", createETag(checksum))
	w.WriteHeader(http.StatusOK)
}

// handleCompleteUpload implements POST /bucket/key?uploadId=ID. Assembly
// order comes from the part numbers recorded as parts arrived, so the
// client's part manifest in the request body is drained and ignored.
func (s *Server) handleCompleteUpload(w http.ResponseWriter, r *http.Request, bucket string, key string, uploadID string) {
	_, _ = io.Copy(io.Discard, r.Body)
	defer r.Body.Close()

	parts, err := s.store.CompleteUpload(uploadID)
	if err != nil {
		writeStoreError(w, r, "Complete multipart upload", err, "upload", uploadID)
		return
	}

	s.metrics.UploadCompleted()

	resp := CompleteMultipartUploadResult{
		XMLNS:    s3XMLNamespace,
		Location: completedLocation(r, bucket, key),
		Bucket:   bucket,
		Key:      key,
		ETag:     createETag(multipartETag(parts)),
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode complete multipart upload XML", "upload", uploadID, "err", err)
	}
}

// handleAbortUpload implements DELETE /bucket/key?uploadId=ID to discard an
// upload and its partially written file.
func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request, uploadID string) {
	if err := s.store.AbortUpload(uploadID); err != nil {
		writeStoreError(w, r, "Abort multipart upload", err, "upload", uploadID)
		return
	}

	s.metrics.UploadAborted()

	w.WriteHeader(http.StatusNoContent)
}

// multipartETag derives the composite ETag for a completed multipart upload:
// the MD5 of the concatenated binary part digests, suffixed with the part
// count.
func multipartETag(parts []Part) string {
	h := md5.New()
	for _, p := range parts {
		digest, _ := hex.DecodeString(p.Checksum)
		h.Write(digest)
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(h.Sum(nil)), len(parts))
}

// completedLocation builds the Location element for a completed upload from
// the request's own host, matching how the client addressed the server.
func completedLocation(r *http.Request, bucket string, key string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, r.Host, bucket, key)
}
