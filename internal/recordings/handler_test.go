package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/orbit-meet/backend/internal/middleware"
	"github.com/orbit-meet/backend/internal/models"
	"github.com/orbit-meet/backend/internal/upload"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type handlerFixture struct {
	*serviceFixture
	handler   *Handler
	assembler *upload.Assembler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	fx := newServiceFixture(t)
	a, err := upload.NewAssembler(t.TempDir(), nil)
	require.NoError(t, err)
	return &handlerFixture{
		serviceFixture: fx,
		handler:        NewHandler(fx.svc, nil, a, 0, nil),
		assembler:      a,
	}
}

func uploadRequest(t *testing.T, recID, userID uuid.UUID, body io.Reader, contentType string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/recordings/"+recID.String()+"/upload", body)
	c.Request.Header.Set("Content-Type", contentType)
	c.Params = gin.Params{{Key: "id", Value: recID.String()}}
	c.Set(middleware.ContextUserID, userID)
	return c, w
}

func completeBody(t *testing.T, uploadID string) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(gin.H{"upload_id": uploadID, "file_name": "session.webm"})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func chunkForm(t *testing.T, uploadID string, index int, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("upload_id", uploadID))
	require.NoError(t, mw.WriteField("chunk_index", strconv.Itoa(index)))
	fw, err := mw.CreateFormFile("chunk", "part")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadComplete_RejectedCallerCannotConsumeSession(t *testing.T) {
	fx := newHandlerFixture(t)
	ctx := context.Background()
	roomID, owner, stranger := uuid.New(), uuid.New(), uuid.New()

	rec, err := fx.svc.Start(ctx, startParams(roomID, owner))
	require.NoError(t, err)
	_, err = fx.svc.Stop(ctx, rec.ID, owner, 0)
	require.NoError(t, err)

	uploadID, err := fx.assembler.Init(2)
	require.NoError(t, err)
	_, err = fx.assembler.PutChunk(uploadID, 0, bytes.NewReader([]byte("first|")))
	require.NoError(t, err)
	_, err = fx.assembler.PutChunk(uploadID, 1, bytes.NewReader([]byte("second")))
	require.NoError(t, err)

	// A stranger's complete call is rejected before the assembler is touched.
	c, w := uploadRequest(t, rec.ID, stranger, completeBody(t, uploadID), "application/json")
	fx.handler.UploadComplete(c)
	require.Equal(t, http.StatusForbidden, w.Code)

	// The session survived; the owner's complete still succeeds.
	c, w = uploadRequest(t, rec.ID, owner, completeBody(t, uploadID), "application/json")
	fx.handler.UploadComplete(c)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := fx.store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.RecordingStatusCompleted, stored.Status)
	require.Equal(t, []byte("first|second"), fx.blob.objects[stored.StorageKey])
}

func TestUploadComplete_TerminalJobKeepsSession(t *testing.T) {
	fx := newHandlerFixture(t)
	ctx := context.Background()
	roomID, owner := uuid.New(), uuid.New()

	rec, err := fx.svc.Start(ctx, startParams(roomID, owner))
	require.NoError(t, err)

	uploadID, err := fx.assembler.Init(1)
	require.NoError(t, err)
	_, err = fx.assembler.PutChunk(uploadID, 0, bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	// Operator force-fails the job between init and complete.
	require.NoError(t, fx.svc.Fail(ctx, rec.ID, "manually cleaned up"))

	c, w := uploadRequest(t, rec.ID, owner, completeBody(t, uploadID), "application/json")
	fx.handler.UploadComplete(c)
	require.Equal(t, http.StatusConflict, w.Code)

	// The session was not consumed by the rejected request.
	_, err = fx.assembler.PutChunk(uploadID, 0, bytes.NewReader([]byte("data")))
	require.NoError(t, err)
}

func TestUploadChunk_RequiresOwner(t *testing.T) {
	fx := newHandlerFixture(t)
	ctx := context.Background()
	roomID, owner, participant := uuid.New(), uuid.New(), uuid.New()

	rec, err := fx.svc.Start(ctx, startParams(roomID, owner, participant))
	require.NoError(t, err)

	uploadID, err := fx.assembler.Init(2)
	require.NoError(t, err)
	_, err = fx.assembler.PutChunk(uploadID, 0, bytes.NewReader([]byte("owner-part|")))
	require.NoError(t, err)

	// A participant may view the recording but not write chunks into it.
	body, contentType := chunkForm(t, uploadID, 1, []byte("injected"))
	c, w := uploadRequest(t, rec.ID, participant, body, contentType)
	fx.handler.UploadChunk(c)
	require.Equal(t, http.StatusForbidden, w.Code)

	// The rejected chunk was never stored.
	_, err = fx.assembler.Complete(uploadID, "session.webm")
	var incomplete *upload.IncompleteUploadError
	require.ErrorAs(t, err, &incomplete)
	require.Equal(t, []int{1}, incomplete.Missing)

	body, contentType = chunkForm(t, uploadID, 1, []byte("owner-rest"))
	c, w = uploadRequest(t, rec.ID, owner, body, contentType)
	fx.handler.UploadChunk(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestUploadInit_RejectsNonOwner(t *testing.T) {
	fx := newHandlerFixture(t)
	ctx := context.Background()
	roomID, owner, stranger := uuid.New(), uuid.New(), uuid.New()

	rec, err := fx.svc.Start(ctx, startParams(roomID, owner))
	require.NoError(t, err)

	body, err := json.Marshal(gin.H{"total_chunks": 4})
	require.NoError(t, err)
	c, w := uploadRequest(t, rec.ID, stranger, bytes.NewReader(body), "application/json")
	fx.handler.UploadInit(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}
