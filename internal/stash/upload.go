package stash

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Part pairs a part number with the checksum recorded when the part was
// buffered. Complete reports one of these per part, in part order.
type Part struct {
	Number   int
	Checksum string
}

// partBuffer holds one received part. The bytes are released as soon as the
// part is flushed to the destination file; the checksum stays behind for the
// completion report.
type partBuffer struct {
	data     []byte
	checksum string
}

type sessionState int

const (
	sessionReceiving sessionState = iota
	sessionCompleted
	sessionAborted
)

// UploadSession reassembles one multipart upload. Parts may arrive in any
// order from concurrent writers, but bytes reach the destination file
// strictly in part order: after every write the file holds the concatenation
// of parts 1..k for the largest contiguous k received so far. All session
// state is guarded by mu; the registry's lock is only ever taken for the
// brief map mutation inside remove.
type UploadSession struct {
	id       string
	path     string
	registry *UploadRegistry

	mu    sync.Mutex
	file  *os.File
	next  int // next part number to flush
	parts map[int]*partBuffer
	state sessionState
}

// ID returns the opaque identifier the session is registered under.
func (s *UploadSession) ID() string {
	return s.id
}

// Path returns the destination path the session writes to.
func (s *UploadSession) Path() string {
	return s.path
}

// WritePart buffers data under partNumber, computing its checksum, then
// flushes whatever contiguous run of parts became available. A part number
// that was already buffered or flushed fails with ErrDuplicatePart; the
// session takes ownership of data on success.
func (s *UploadSession) WritePart(partNumber int, data []byte) (string, error) {
	if partNumber < 1 {
		return "", fmt.Errorf("part number must be positive, got %d", partNumber)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionReceiving {
		return "", fmt.Errorf("upload %s: %w", s.id, ErrNoSuchUpload)
	}
	if _, exists := s.parts[partNumber]; exists {
		return "", fmt.Errorf("upload %s part %d: %w", s.id, partNumber, ErrDuplicatePart)
	}

	checksum := md5Hex(data)
	s.parts[partNumber] = &partBuffer{data: data, checksum: checksum}

	if err := s.flushLocked(); err != nil {
		return "", err
	}
	return checksum, nil
}

// flushLocked appends every contiguous buffered part to the destination file,
// releasing each part's bytes as they land. Caller holds mu.
func (s *UploadSession) flushLocked() error {
	for {
		buf, ok := s.parts[s.next]
		if !ok {
			return nil
		}
		if _, err := s.file.Write(buf.data); err != nil {
			return fmt.Errorf("flush part %d of upload %s: %w", s.next, s.id, err)
		}
		buf.data = nil
		s.next++
	}
}

// Complete performs a final ordered flush, closes the destination file, and
// deregisters the session, reporting every part's checksum in part order. If
// a part sequence gap remains after the flush, Complete fails with
// ErrIncompleteUpload naming the first missing part and the session stays
// live, so the caller can supply the missing part or abort.
func (s *UploadSession) Complete() ([]Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionReceiving {
		return nil, fmt.Errorf("upload %s: %w", s.id, ErrNoSuchUpload)
	}

	if err := s.flushLocked(); err != nil {
		return nil, err
	}

	// Every received part is retained in the map (flushed ones without
	// bytes), so any count beyond the flushed prefix means a gap.
	if len(s.parts) != s.next-1 {
		return nil, fmt.Errorf("upload %s: part %d was never uploaded: %w", s.id, s.next, ErrIncompleteUpload)
	}

	if err := s.file.Close(); err != nil {
		return nil, fmt.Errorf("close upload %s: %w", s.id, err)
	}

	s.state = sessionCompleted
	s.registry.remove(s.id)

	parts := make([]Part, 0, len(s.parts))
	for n := 1; n < s.next; n++ {
		parts = append(parts, Part{Number: n, Checksum: s.parts[n].checksum})
	}
	return parts, nil
}

// Abort discards the upload: the destination file is closed and deleted and
// the session is deregistered. Safe to call before any part has arrived.
func (s *UploadSession) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionReceiving {
		return fmt.Errorf("upload %s: %w", s.id, ErrNoSuchUpload)
	}

	if err := s.file.Close(); err != nil {
		slog.Debug("Close aborted upload file", "upload", s.id, "path", s.path, "err", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove aborted upload %s: %w", s.id, err)
	}

	s.state = sessionAborted
	s.registry.remove(s.id)
	return nil
}

// UploadRegistry tracks live multipart uploads by their opaque identifier.
// The registry lock guards only the id-to-session map; each session
// serializes its own state.
type UploadRegistry struct {
	mu       sync.Mutex
	sessions map[string]*UploadSession
}

// NewUploadRegistry returns an empty registry.
func NewUploadRegistry() *UploadRegistry {
	return &UploadRegistry{sessions: make(map[string]*UploadSession)}
}

// Begin opens (and truncates) the destination file, registers a new session
// under a fresh identifier, and returns the session. The file handle exists
// from this moment, before any part arrives.
func (r *UploadRegistry) Begin(destPath string) (*UploadSession, error) {
	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open upload destination: %w", err)
	}

	u := uuid.New()
	session := &UploadSession{
		id:       hex.EncodeToString(u[:]),
		path:     destPath,
		registry: r,
		file:     f,
		next:     1,
		parts:    make(map[int]*partBuffer),
		state:    sessionReceiving,
	}

	r.mu.Lock()
	r.sessions[session.id] = session
	r.mu.Unlock()

	return session, nil
}

// Lookup returns the live session for id. The returned session is shared
// with concurrent requests, never copied.
func (r *UploadRegistry) Lookup(id string) (*UploadSession, error) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("upload %s: %w", id, ErrNoSuchUpload)
	}
	return session, nil
}

// remove drops id from the registry. An id that is already gone is a no-op:
// completion and abort can race, and the loser just finds the entry removed.
func (r *UploadRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Active returns the number of registered sessions.
func (r *UploadRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
