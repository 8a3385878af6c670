// Package upload reassembles chunked recording uploads on scratch storage.
//
// A session is a directory keyed by upload id holding numbered chunk files
// plus the declared total. Chunks may arrive in any order and concurrently;
// Complete consumes the session exactly once.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUploadNotFound is returned for unknown or already-consumed upload ids.
	ErrUploadNotFound = errors.New("upload session not found")
	// ErrChunkIndexOutOfRange is returned when a chunk index is negative or >= total.
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")
	// ErrInvalidChunkCount is returned when a session is initialized with a non-positive total.
	ErrInvalidChunkCount = errors.New("total chunks must be at least 1")
)

// IncompleteUploadError reports the chunk indices still missing at assemble
// time. No partial output is produced when it is returned.
type IncompleteUploadError struct {
	UploadID string
	Missing  []int
}

func (e *IncompleteUploadError) Error() string {
	shown := e.Missing
	suffix := ""
	if len(shown) > 10 {
		shown = shown[:10]
		suffix = ", ..."
	}
	parts := make([]string, len(shown))
	for i, idx := range shown {
		parts[i] = strconv.Itoa(idx)
	}
	return fmt.Sprintf("upload %s incomplete: %d chunk(s) missing (indices %s%s)",
		e.UploadID, len(e.Missing), strings.Join(parts, ", "), suffix)
}

const (
	sessionsSubdir = "sessions"
	chunkPrefix    = "chunk-"
	totalFile      = "total"
)

// Assembler owns scratch storage for upload sessions and finished files.
type Assembler struct {
	baseDir string
	logger  *zap.Logger
}

// NewAssembler creates an assembler rooted at baseDir (os.TempDir() if empty).
func NewAssembler(baseDir string, logger *zap.Logger) (*Assembler, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "orbit-recordings")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(baseDir, sessionsSubdir), 0o750); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Assembler{baseDir: baseDir, logger: logger}, nil
}

func (a *Assembler) sessionDir(uploadID string) string {
	// Base on the file name only; an upload id containing separators must not
	// escape the sessions directory.
	return filepath.Join(a.baseDir, sessionsSubdir, filepath.Base(uploadID))
}

// Init creates a new upload session expecting totalChunks chunks and returns
// its upload id.
func (a *Assembler) Init(totalChunks int) (string, error) {
	if totalChunks < 1 {
		return "", ErrInvalidChunkCount
	}
	uploadID := uuid.New().String()
	dir := a.sessionDir(uploadID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, totalFile), []byte(strconv.Itoa(totalChunks)), 0o640); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write session meta: %w", err)
	}
	a.logger.Debug("upload session created", zap.String("upload_id", uploadID), zap.Int("total_chunks", totalChunks))
	return uploadID, nil
}

// totalChunks reads the declared chunk count for a session.
func (a *Assembler) totalChunks(uploadID string) (int, error) {
	raw, err := os.ReadFile(filepath.Join(a.sessionDir(uploadID), totalFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrUploadNotFound
		}
		return 0, fmt.Errorf("read session meta: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("corrupt session meta for %s", uploadID)
	}
	return n, nil
}

// PutChunk stores one chunk. Safe to call concurrently for different indices;
// re-uploading an index replaces the prior content (write to a temp file,
// then rename over the final name).
func (a *Assembler) PutChunk(uploadID string, index int, r io.Reader) (int64, error) {
	total, err := a.totalChunks(uploadID)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= total {
		return 0, fmt.Errorf("%w: index %d, total %d", ErrChunkIndexOutOfRange, index, total)
	}

	dir := a.sessionDir(uploadID)
	tmp, err := os.CreateTemp(dir, chunkPrefix+strconv.Itoa(index)+".part-")
	if err != nil {
		return 0, fmt.Errorf("create chunk temp: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, chunkPrefix+strconv.Itoa(index))); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("commit chunk %d: %w", index, err)
	}
	return n, nil
}

// Complete concatenates chunks 0..N-1 in index order into a single file in
// the scratch root and discards the session directory. Chunk order is by
// numeric index, never by directory listing, so chunk-2 precedes chunk-10.
// Memory use is bounded: chunks are streamed with io.Copy, one at a time.
//
// Returns ErrUploadNotFound on a second call for the same id and an
// IncompleteUploadError (with no partial output) when chunks are missing.
func (a *Assembler) Complete(uploadID, fileName string) (string, error) {
	total, err := a.totalChunks(uploadID)
	if err != nil {
		return "", err
	}
	dir := a.sessionDir(uploadID)

	var missing []int
	for i := 0; i < total; i++ {
		if _, err := os.Stat(filepath.Join(dir, chunkPrefix+strconv.Itoa(i))); err != nil {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		return "", &IncompleteUploadError{UploadID: uploadID, Missing: missing}
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = ".webm"
	}
	finalPath := filepath.Join(a.baseDir, filepath.Base(uploadID)+ext)

	out, err := os.CreateTemp(a.baseDir, "assemble-*")
	if err != nil {
		return "", fmt.Errorf("create output temp: %w", err)
	}
	for i := 0; i < total; i++ {
		if err := appendChunk(out, filepath.Join(dir, chunkPrefix+strconv.Itoa(i))); err != nil {
			out.Close()
			_ = os.Remove(out.Name())
			return "", fmt.Errorf("assemble chunk %d: %w", i, err)
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(out.Name(), finalPath); err != nil {
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("commit output: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		a.logger.Warn("remove upload session dir", zap.String("upload_id", uploadID), zap.Error(err))
	}
	a.logger.Debug("upload assembled", zap.String("upload_id", uploadID), zap.Int("chunks", total), zap.String("path", finalPath))
	return finalPath, nil
}

// Abort discards an upload session and its chunks. Unknown ids are a no-op.
func (a *Assembler) Abort(uploadID string) error {
	return os.RemoveAll(a.sessionDir(uploadID))
}

// SaveStream writes a whole (non-chunked) upload to scratch storage and
// returns its path and size. The caller owns the file from then on.
func (a *Assembler) SaveStream(r io.Reader, fileName string) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = ".webm"
	}
	tmp, err := os.CreateTemp(a.baseDir, "direct-*")
	if err != nil {
		return "", 0, fmt.Errorf("create scratch file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write scratch file: %w", err)
	}
	finalPath := filepath.Join(a.baseDir, uuid.New().String()+ext)
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("commit scratch file: %w", err)
	}
	return finalPath, n, nil
}

func appendChunk(out *os.File, chunkPath string) error {
	f, err := os.Open(chunkPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}
