package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/api/handlers"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/api/routes"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/auth"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/ledger"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/queue"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/seal"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

const jwtSecret = "handlers-test-secret-0123456789abcdef"

type MockService struct {
	mock.Mock
}

func (m *MockService) RegisterImage(ctx context.Context, req seal.RegisterRequest) (*models.RegistrationResult, error) {
	args := m.Called(ctx, req.RefID, req.Owner, req.Filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RegistrationResult), args.Error(1)
}

func (m *MockService) RegisterVideo(ctx context.Context, req seal.RegisterRequest) (*models.RegistrationResult, error) {
	args := m.Called(ctx, req.RefID, req.Owner, req.Filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RegistrationResult), args.Error(1)
}

func (m *MockService) VerifyImage(ctx context.Context, req seal.VerifyRequest) (*models.VerifyResult, error) {
	args := m.Called(ctx, req.RefID, req.OriginalFilename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerifyResult), args.Error(1)
}

func (m *MockService) VerifyVideo(ctx context.Context, req seal.VerifyRequest) (*models.VerifyResult, error) {
	args := m.Called(ctx, req.RefID, req.OriginalFilename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerifyResult), args.Error(1)
}

func (m *MockService) ReconstructVideo(ctx context.Context, refID string) (string, error) {
	args := m.Called(ctx, refID)
	return args.String(0), args.Error(1)
}

func (m *MockService) ValidateLedger(ctx context.Context) (*worm.Report, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*worm.Report), args.Error(1)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(task.Type(), task.Payload())
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

type server struct {
	e       *echo.Echo
	svc     *MockService
	queue   *MockQueue
	ledger  *ledger.Ledger
	outputs string
	uploads string
	token   string
}

func newServer(t *testing.T) *server {
	t.Helper()
	dir := t.TempDir()
	s := &server{
		e:       echo.New(),
		svc:     new(MockService),
		queue:   new(MockQueue),
		ledger:  ledger.New(ledger.NewFileStore(filepath.Join(dir, "ledger.json")), zap.NewNop()),
		outputs: filepath.Join(dir, "outputs"),
		uploads: filepath.Join(dir, "uploads"),
	}
	h := handlers.NewHandlers(s.svc, s.ledger, s.queue, nil, handlers.Options{
		OutputsDir:     s.outputs,
		UploadDir:      s.uploads,
		MaxUploadBytes: 1 << 20,
		JWTSecret:      jwtSecret,
		JWTExpiration:  time.Hour,
	}, zap.NewNop())
	routes.Register(s.e, h, handlers.Health("test", nil), jwtSecret, auth.NewKeyring(nil))

	token, err := auth.IssueJWT(jwtSecret, "alice", time.Hour)
	require.NoError(t, err)
	s.token = token
	return s
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("media", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (s *server) upload(t *testing.T, path, filename string, fields map[string]string) *httptest.ResponseRecorder {
	body, ctype := multipartBody(t, filename, []byte("media-bytes"), fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set(echo.HeaderContentType, ctype)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *server) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func uploadsLeft(t *testing.T, dir string) int {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

// ── Media ─────────────────────────────────────────────────────────────────────

func TestRegisterMedia_Image(t *testing.T) {
	s := newServer(t)
	s.svc.On("RegisterImage", mock.Anything, "IMG-1", "alice", "photo.png").
		Return(&models.RegistrationResult{Status: models.StatusRegistered, RefID: "IMG-1"}, nil)

	rec := s.upload(t, "/api/v1/media/register", "photo.png", map[string]string{"ref_id": "IMG-1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	var res models.RegistrationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.StatusRegistered, res.Status)
	assert.Zero(t, uploadsLeft(t, s.uploads), "upload is removed after the request")
	s.svc.AssertExpectations(t)
}

func TestRegisterMedia_GIFAsVideo(t *testing.T) {
	s := newServer(t)
	s.svc.On("RegisterVideo", mock.Anything, "VID-1", "alice", "clip.gif").
		Return(&models.RegistrationResult{Status: models.StatusRegistered}, nil)

	rec := s.upload(t, "/api/v1/media/register", "clip.gif", map[string]string{"ref_id": "VID-1", "media_type": "video"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	s.svc.AssertExpectations(t)
}

func TestRegisterMedia_Duplicate(t *testing.T) {
	s := newServer(t)
	s.svc.On("RegisterImage", mock.Anything, "IMG-2", "alice", "photo.png").
		Return(nil, &seal.DuplicateError{Kind: registry.ErrDuplicateMedia, Existing: "IMG-1"})

	rec := s.upload(t, "/api/v1/media/register", "photo.png", map[string]string{"ref_id": "IMG-2"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	var res models.RegistrationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.StatusDuplicate, res.Status)
	assert.Equal(t, "IMG-1", res.ExistingRef)
}

func TestRegisterMedia_Rejected(t *testing.T) {
	s := newServer(t)

	rec := s.upload(t, "/api/v1/media/register", "", map[string]string{"ref_id": "IMG-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing file")

	rec = s.upload(t, "/api/v1/media/register", "notes.txt", map[string]string{"ref_id": "IMG-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unsupported extension")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/media/register", nil)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	s.svc.AssertNotCalled(t, "RegisterImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyMedia(t *testing.T) {
	s := newServer(t)
	s.svc.On("VerifyImage", mock.Anything, "", "edited.jpg").Return(&models.VerifyResult{
		Status:  models.VerifyTampered,
		Details: models.VerifyDetails{
			MatchedID:      "IMG-1",
			TamperScore:    25,
			TamperedBlocks: []int{0},
			CanReconstruct: true,
			ForensicPath:   "/srv/chainverify/outputs/forensic_ab12cd34.png",
			CleanPath:      "/srv/chainverify/outputs/clean_ab12cd34.png",
		},
	}, nil)

	rec := s.upload(t, "/api/v1/media/verify", "edited.jpg", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var res models.VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.VerifyTampered, res.Status)
	assert.Equal(t, []int{0}, res.Details.TamperedBlocks)
	assert.Equal(t, "/outputs/forensic_ab12cd34.png", res.Details.ForensicPath)
	assert.Equal(t, "/outputs/clean_ab12cd34.png", res.Details.CleanPath)
	assert.NotContains(t, rec.Body.String(), "/srv/chainverify")
}

func TestVerifyMediaAsync(t *testing.T) {
	s := newServer(t)
	s.queue.On("EnqueueContext", queue.TypeMediaVerify, mock.Anything).
		Return(&asynq.TaskInfo{ID: "task-1", Queue: queue.QueueCritical}, nil)

	rec := s.upload(t, "/api/v1/media/verify/async", "clip.mp4", map[string]string{"ref_id": "VID-1"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"task_id":"task-1"`)
	assert.Equal(t, 1, uploadsLeft(t, s.uploads), "the worker owns the upload")

	payload := s.queue.Calls[0].Arguments.Get(1).([]byte)
	var p queue.MediaVerifyPayload
	require.NoError(t, json.Unmarshal(payload, &p))
	assert.Equal(t, "video", p.MediaType)
	assert.Equal(t, "clip.mp4", p.OriginalFilename)
}

func TestReconstructVideo(t *testing.T) {
	s := newServer(t)
	s.svc.On("ReconstructVideo", mock.Anything, "VID-1").Return("/data/outputs/reconstructed_VID-1_ab12cd34.mp4", nil)
	s.svc.On("ReconstructVideo", mock.Anything, "none").Return("", seal.ErrReconstructionUnavailable)

	rec := s.do(t, http.MethodPost, "/api/v1/media/reconstruct", `{"ref_id":"VID-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","reconstructed_url":"/outputs/reconstructed_VID-1_ab12cd34.mp4"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/media/reconstruct", `{"ref_id":"none"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/media/reconstruct", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ── Ledger ────────────────────────────────────────────────────────────────────

func TestGetLedger(t *testing.T) {
	s := newServer(t)
	_, err := s.ledger.Append(context.Background(), ledger.Fields{ReferenceID: "IMG-1", MediaType: "image", Filename: "a.png", Owner: "alice", Fingerprint: "ab"})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/ledger", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]worm.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc, 2)
	assert.Equal(t, "GENESIS", doc["0"].Filename)
	assert.Equal(t, "IMG-1", doc["1"].ReferenceID)
}

func TestValidateLedger(t *testing.T) {
	s := newServer(t)
	s.svc.On("ValidateLedger", mock.Anything).Return(&worm.Report{OK: true, Total: 4, BrokenAt: -1}, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/ledger/validate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestStreamLedger(t *testing.T) {
	s := newServer(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ledger/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; append until the
	// first entry arrives.
	got := make(chan worm.Entry, 1)
	go func() {
		var e worm.Entry
		if err := conn.ReadJSON(&e); err == nil {
			got <- e
		}
	}()
	deadline := time.After(5 * time.Second)
	for {
		_, err := s.ledger.Append(context.Background(), ledger.Fields{ReferenceID: "IMG-1", MediaType: "image", Filename: "a.png", Owner: "alice", Fingerprint: "ab"})
		require.NoError(t, err)
		select {
		case e := <-got:
			assert.Equal(t, "IMG-1", e.ReferenceID)
			assert.Positive(t, e.Index)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no ledger entry received")
		}
	}
}

// ── Outputs, tokens, health ───────────────────────────────────────────────────

func TestGetOutput(t *testing.T) {
	s := newServer(t)
	require.NoError(t, os.MkdirAll(s.outputs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.outputs, "forensic_ab12cd34.png"), []byte("png"), 0o644))

	rec := s.do(t, http.MethodGet, "/outputs/forensic_ab12cd34.png", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment")
	assert.Equal(t, "png", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/outputs/missing.png", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/outputs/.hidden", "").Code)
}

func TestIssueToken(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	claims, err := auth.VerifyJWT(jwtSecret, body.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Owner)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	e.GET("/health", handlers.Health("1.2.3", func(context.Context) map[string]error {
		return map[string]error{"blocks": nil, "postgres": errors.New("connection refused")}
	}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)
}
