package upload

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	a, err := NewAssembler(t.TempDir(), nil)
	require.NoError(t, err)
	return a
}

func chunkPayload(i int) []byte {
	// Variable-length payloads so misordered concatenation cannot cancel out.
	return bytes.Repeat([]byte(fmt.Sprintf("chunk-%d|", i)), i%7+1)
}

func TestComplete_ReassemblesInIndexOrder(t *testing.T) {
	a := newTestAssembler(t)

	// 12 chunks: enough that lexical ordering (chunk-10 before chunk-2)
	// would produce a different file than numeric ordering.
	const total = 12
	uploadID, err := a.Init(total)
	require.NoError(t, err)

	order := rand.New(rand.NewSource(42)).Perm(total)
	for _, i := range order {
		_, err := a.PutChunk(uploadID, i, bytes.NewReader(chunkPayload(i)))
		require.NoError(t, err)
	}

	finalPath, err := a.Complete(uploadID, "session.webm")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(finalPath, ".webm"))

	var want bytes.Buffer
	for i := 0; i < total; i++ {
		want.Write(chunkPayload(i))
	}
	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)

	// Session directory is consumed.
	_, err = os.Stat(a.sessionDir(uploadID))
	require.True(t, os.IsNotExist(err))
}

func TestComplete_LargeChunkCount(t *testing.T) {
	a := newTestAssembler(t)

	const total = 1000
	uploadID, err := a.Init(total)
	require.NoError(t, err)

	order := rand.New(rand.NewSource(7)).Perm(total)
	for _, i := range order {
		_, err := a.PutChunk(uploadID, i, bytes.NewReader(chunkPayload(i)))
		require.NoError(t, err)
	}

	finalPath, err := a.Complete(uploadID, "long-session.webm")
	require.NoError(t, err)

	var want bytes.Buffer
	for i := 0; i < total; i++ {
		want.Write(chunkPayload(i))
	}
	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)
}

func TestComplete_SingleChunk(t *testing.T) {
	a := newTestAssembler(t)

	uploadID, err := a.Init(1)
	require.NoError(t, err)
	_, err = a.PutChunk(uploadID, 0, strings.NewReader("only"))
	require.NoError(t, err)

	finalPath, err := a.Complete(uploadID, "clip.mp4")
	require.NoError(t, err)
	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, "only", string(got))
}

func TestComplete_MissingChunksFailsWithoutOutput(t *testing.T) {
	a := newTestAssembler(t)

	uploadID, err := a.Init(5)
	require.NoError(t, err)
	for _, i := range []int{0, 2, 4} {
		_, err := a.PutChunk(uploadID, i, bytes.NewReader(chunkPayload(i)))
		require.NoError(t, err)
	}

	_, err = a.Complete(uploadID, "session.webm")
	var incomplete *IncompleteUploadError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, []int{1, 3}, incomplete.Missing)

	// No final or partial output was produced.
	_, statErr := os.Stat(filepath.Join(a.baseDir, uploadID+".webm"))
	require.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(a.baseDir)
	require.NoError(t, err)
	for _, e := range entries {
		require.True(t, e.IsDir(), "unexpected file in scratch root: %s", e.Name())
	}

	// Session survives so the client can resend the missing indices.
	for _, i := range []int{1, 3} {
		_, err := a.PutChunk(uploadID, i, bytes.NewReader(chunkPayload(i)))
		require.NoError(t, err)
	}
	_, err = a.Complete(uploadID, "session.webm")
	require.NoError(t, err)
}

func TestPutChunk_OverwriteReplacesIndex(t *testing.T) {
	a := newTestAssembler(t)

	uploadID, err := a.Init(3)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := a.PutChunk(uploadID, i, bytes.NewReader(chunkPayload(i)))
		require.NoError(t, err)
	}
	// Re-upload index 1 with different bytes.
	_, err = a.PutChunk(uploadID, 1, strings.NewReader("replacement"))
	require.NoError(t, err)

	finalPath, err := a.Complete(uploadID, "session.webm")
	require.NoError(t, err)

	var want bytes.Buffer
	want.Write(chunkPayload(0))
	want.WriteString("replacement")
	want.Write(chunkPayload(2))
	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)
}

func TestPutChunk_ConcurrentIndices(t *testing.T) {
	a := newTestAssembler(t)

	const total = 64
	uploadID, err := a.Init(total)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = a.PutChunk(uploadID, i, bytes.NewReader(chunkPayload(i)))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "chunk %d", i)
	}

	finalPath, err := a.Complete(uploadID, "session.webm")
	require.NoError(t, err)
	var want bytes.Buffer
	for i := 0; i < total; i++ {
		want.Write(chunkPayload(i))
	}
	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)
}

func TestComplete_SecondCallFailsCleanly(t *testing.T) {
	a := newTestAssembler(t)

	uploadID, err := a.Init(2)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := a.PutChunk(uploadID, i, bytes.NewReader(chunkPayload(i)))
		require.NoError(t, err)
	}

	finalPath, err := a.Complete(uploadID, "session.webm")
	require.NoError(t, err)

	_, err = a.Complete(uploadID, "session.webm")
	require.ErrorIs(t, err, ErrUploadNotFound)

	// The already-assembled file is untouched.
	var want bytes.Buffer
	want.Write(chunkPayload(0))
	want.Write(chunkPayload(1))
	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)
}

func TestPutChunk_Validation(t *testing.T) {
	a := newTestAssembler(t)

	_, err := a.Init(0)
	require.ErrorIs(t, err, ErrInvalidChunkCount)

	_, err = a.PutChunk("no-such-upload", 0, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrUploadNotFound)

	uploadID, err := a.Init(2)
	require.NoError(t, err)
	_, err = a.PutChunk(uploadID, -1, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrChunkIndexOutOfRange)
	_, err = a.PutChunk(uploadID, 2, strings.NewReader("x"))
	require.ErrorIs(t, err, ErrChunkIndexOutOfRange)
}

func TestAbort_DiscardsSession(t *testing.T) {
	a := newTestAssembler(t)

	uploadID, err := a.Init(2)
	require.NoError(t, err)
	_, err = a.PutChunk(uploadID, 0, strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, a.Abort(uploadID))
	_, err = a.Complete(uploadID, "session.webm")
	require.ErrorIs(t, err, ErrUploadNotFound)

	// Aborting twice is a no-op.
	require.NoError(t, a.Abort(uploadID))
}

func TestSaveStream_WritesScratchFile(t *testing.T) {
	a := newTestAssembler(t)

	path, n, err := a.SaveStream(strings.NewReader("direct upload body"), "meeting.mp4")
	require.NoError(t, err)
	require.Equal(t, int64(len("direct upload body")), n)
	require.True(t, strings.HasSuffix(path, ".mp4"))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "direct upload body", string(got))
}

func TestIncompleteUploadError_Message(t *testing.T) {
	err := &IncompleteUploadError{UploadID: "u1", Missing: []int{1, 3, 5}}
	require.Contains(t, err.Error(), "3 chunk(s) missing")
	require.Contains(t, err.Error(), "1, 3, 5")
	require.False(t, errors.Is(err, ErrUploadNotFound))
}
