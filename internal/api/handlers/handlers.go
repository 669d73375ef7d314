package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/api/middleware"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/auth"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/queue"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/seal"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

// Service is the part of *seal.Service the handlers drive.
type Service interface {
	RegisterImage(ctx context.Context, req seal.RegisterRequest) (*models.RegistrationResult, error)
	RegisterVideo(ctx context.Context, req seal.RegisterRequest) (*models.RegistrationResult, error)
	VerifyImage(ctx context.Context, req seal.VerifyRequest) (*models.VerifyResult, error)
	VerifyVideo(ctx context.Context, req seal.VerifyRequest) (*models.VerifyResult, error)
	ReconstructVideo(ctx context.Context, refID string) (string, error)
	ValidateLedger(ctx context.Context) (*worm.Report, error)
}

// LedgerReader is the part of *ledger.Ledger the handlers read.
type LedgerReader interface {
	Entries(ctx context.Context) ([]worm.Entry, error)
	Subscribe() (<-chan worm.Entry, func())
}

// Queue is the part of *asynq.Client the handlers use.
type Queue interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the part of *asynq.Inspector the handlers use.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

type Options struct {
	OutputsDir     string
	UploadDir      string
	MaxUploadBytes int64
	JWTSecret      string
	JWTExpiration  time.Duration
}

type Handlers struct {
	svc       Service
	ledger    LedgerReader
	queue     Queue
	inspector TaskInspector
	opts      Options
	log       *zap.Logger
}

// NewHandlers wires the handlers. queue and inspector may be nil, in which
// case the async endpoints answer 503.
func NewHandlers(svc Service, ledger LedgerReader, q Queue, inspector TaskInspector, opts Options, log *zap.Logger) *Handlers {
	return &Handlers{
		svc:       svc,
		ledger:    ledger,
		queue:     q,
		inspector: inspector,
		opts:      opts,
		log:       log,
	}
}

// ── Error helpers ─────────────────────────────────────────────────────────────

type errResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	ReqID   string `json:"request_id,omitempty"`
}

func apiErr(c echo.Context, code int, msg string) error {
	reqID, _ := c.Get(middleware.ContextKeyRequestID).(string)
	return c.JSON(code, errResponse{Code: code, Message: msg, ReqID: reqID})
}

// mustOwner extracts the authenticated owner from the Echo context. The
// returned error is an *echo.HTTPError, so handlers can return it as is.
func mustOwner(c echo.Context) (string, error) {
	v, ok := c.Get(middleware.ContextKeyOwner).(string)
	if !ok || v == "" {
		return "", echo.NewHTTPError(http.StatusInternalServerError, "auth context missing")
	}
	return v, nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrDuplicateReference), errors.Is(err, registry.ErrDuplicateMedia):
		return http.StatusConflict
	case errors.Is(err, seal.ErrValidation), errors.Is(err, fingerprint.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, seal.ErrReconstructionUnavailable), errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ── Uploads ───────────────────────────────────────────────────────────────────

type upload struct {
	Path     string
	Filename string
	Type     models.MediaType
}

// saveUpload copies the multipart "media" field into UploadDir. The media
// type comes from the media_type form value or, failing that, from the
// file extension.
func (h *Handlers) saveUpload(c echo.Context) (*upload, error) {
	fh, err := c.FormFile("media")
	if err != nil {
		return nil, fmt.Errorf("%w: media file is required", seal.ErrValidation)
	}
	if h.opts.MaxUploadBytes > 0 && fh.Size > h.opts.MaxUploadBytes {
		return nil, fmt.Errorf("%w: media exceeds %d bytes", seal.ErrValidation, h.opts.MaxUploadBytes)
	}

	up := &upload{Filename: filepath.Base(fh.Filename)}
	switch mt := models.MediaType(c.FormValue("media_type")); mt {
	case models.MediaImage, models.MediaVideo:
		up.Type = mt
	case "":
		detected, ok := models.DetectMediaType(up.Filename)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported file type %q", seal.ErrValidation, filepath.Ext(up.Filename))
		}
		up.Type = detected
	default:
		return nil, fmt.Errorf("%w: unknown media_type %q", seal.ErrValidation, mt)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("handlers: open upload: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(h.opts.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("handlers: mkdir: %w", err)
	}
	dst, err := os.CreateTemp(h.opts.UploadDir, "upload-*"+filepath.Ext(up.Filename))
	if err != nil {
		return nil, fmt.Errorf("handlers: create upload: %w", err)
	}
	up.Path = dst.Name()
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(up.Path)
		return nil, fmt.Errorf("handlers: write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(up.Path)
		return nil, fmt.Errorf("handlers: close upload: %w", err)
	}
	return up, nil
}

func (h *Handlers) discard(up *upload) {
	if err := os.Remove(up.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.log.Warn("remove upload", zap.String("path", up.Path), zap.Error(err))
	}
}

// ── Media Handlers ────────────────────────────────────────────────────────────

func (h *Handlers) RegisterMedia(c echo.Context) error {
	owner, err := mustOwner(c)
	if err != nil {
		return err
	}
	up, err := h.saveUpload(c)
	if err != nil {
		return c.JSON(statusFor(err), seal.RegistrationFailure(err))
	}
	defer h.discard(up)

	req := seal.RegisterRequest{
		RefID:    c.FormValue("ref_id"),
		Path:     up.Path,
		Owner:    owner,
		Filename: up.Filename,
	}
	var res *models.RegistrationResult
	if up.Type == models.MediaVideo {
		res, err = h.svc.RegisterVideo(c.Request().Context(), req)
	} else {
		res, err = h.svc.RegisterImage(c.Request().Context(), req)
	}
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.log.Error("register media", zap.String("ref_id", req.RefID), zap.Error(err))
		}
		return c.JSON(code, seal.RegistrationFailure(err))
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handlers) VerifyMedia(c echo.Context) error {
	up, err := h.saveUpload(c)
	if err != nil {
		return c.JSON(statusFor(err), seal.VerificationFailure(err))
	}
	defer h.discard(up)

	req := seal.VerifyRequest{
		RefID:            c.FormValue("ref_id"),
		Path:             up.Path,
		OriginalFilename: up.Filename,
	}
	var res *models.VerifyResult
	if up.Type == models.MediaVideo {
		res, err = h.svc.VerifyVideo(c.Request().Context(), req)
	} else {
		res, err = h.svc.VerifyImage(c.Request().Context(), req)
	}
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.log.Error("verify media", zap.String("ref_id", req.RefID), zap.Error(err))
		}
		return c.JSON(code, seal.VerificationFailure(err))
	}
	return c.JSON(http.StatusOK, res.Published())
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
	Status string `json:"status"`
}

// VerifyMediaAsync queues the verification. The upload stays on disk until
// the worker has processed it.
func (h *Handlers) VerifyMediaAsync(c echo.Context) error {
	if h.queue == nil {
		return apiErr(c, http.StatusServiceUnavailable, "task queue is not configured")
	}
	up, err := h.saveUpload(c)
	if err != nil {
		return c.JSON(statusFor(err), seal.VerificationFailure(err))
	}

	task, err := queue.NewMediaVerifyTask(queue.MediaVerifyPayload{
		RefID:            c.FormValue("ref_id"),
		Path:             up.Path,
		OriginalFilename: up.Filename,
		MediaType:        string(up.Type),
	})
	if err != nil {
		h.discard(up)
		return apiErr(c, http.StatusInternalServerError, "failed to create task")
	}
	info, err := h.queue.EnqueueContext(c.Request().Context(), task)
	if err != nil {
		h.discard(up)
		h.log.Error("enqueue verify task", zap.Error(err))
		return apiErr(c, http.StatusServiceUnavailable, "failed to enqueue task")
	}
	return c.JSON(http.StatusAccepted, taskResponse{TaskID: info.ID, Queue: info.Queue, Status: "queued"})
}

type reconstructRequest struct {
	RefID string `json:"ref_id" form:"ref_id"`
	Async bool   `json:"async"  form:"async"`
}

type reconstructResponse struct {
	Status           string `json:"status"`
	ReconstructedURL string `json:"reconstructed_url"`
}

func (h *Handlers) ReconstructVideo(c echo.Context) error {
	var req reconstructRequest
	if err := c.Bind(&req); err != nil {
		return apiErr(c, http.StatusBadRequest, "invalid request body")
	}
	if req.RefID == "" {
		return apiErr(c, http.StatusBadRequest, "ref_id is required")
	}

	if req.Async {
		if h.queue == nil {
			return apiErr(c, http.StatusServiceUnavailable, "task queue is not configured")
		}
		task, err := queue.NewVideoReconstructTask(queue.VideoReconstructPayload{RefID: req.RefID})
		if err != nil {
			return apiErr(c, http.StatusInternalServerError, "failed to create task")
		}
		info, err := h.queue.EnqueueContext(c.Request().Context(), task)
		if err != nil {
			h.log.Error("enqueue reconstruct task", zap.String("ref_id", req.RefID), zap.Error(err))
			return apiErr(c, http.StatusServiceUnavailable, "failed to enqueue task")
		}
		return c.JSON(http.StatusAccepted, taskResponse{TaskID: info.ID, Queue: info.Queue, Status: "queued"})
	}

	out, err := h.svc.ReconstructVideo(c.Request().Context(), req.RefID)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.log.Error("reconstruct video", zap.String("ref_id", req.RefID), zap.Error(err))
			return apiErr(c, code, "reconstruction failed")
		}
		return apiErr(c, code, err.Error())
	}
	return c.JSON(http.StatusOK, reconstructResponse{
		Status:           "success",
		ReconstructedURL: models.OutputURL(out),
	})
}

// ── Task Handlers ─────────────────────────────────────────────────────────────

type taskInfoResponse struct {
	TaskID string      `json:"task_id"`
	Type   string      `json:"type"`
	State  string      `json:"state"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

func (h *Handlers) GetTask(c echo.Context) error {
	if h.inspector == nil {
		return apiErr(c, http.StatusServiceUnavailable, "task queue is not configured")
	}
	info, err := h.inspector.GetTaskInfo(c.Param("queue"), c.Param("task_id"))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return apiErr(c, http.StatusNotFound, "task not found")
		}
		return apiErr(c, http.StatusInternalServerError, "failed to read task")
	}
	resp := taskInfoResponse{
		TaskID: info.ID,
		Type:   info.Type,
		State:  info.State.String(),
		Error:  info.LastErr,
	}
	if len(info.Result) > 0 {
		resp.Result = json.RawMessage(info.Result)
	}
	return c.JSON(http.StatusOK, resp)
}

// ── Ledger Handlers ───────────────────────────────────────────────────────────

// GetLedger returns the ledger as the "index" → entry document.
func (h *Handlers) GetLedger(c echo.Context) error {
	entries, err := h.ledger.Entries(c.Request().Context())
	if err != nil {
		h.log.Error("read ledger", zap.Error(err))
		return apiErr(c, http.StatusInternalServerError, "failed to read ledger")
	}
	doc := make(map[string]worm.Entry, len(entries))
	for _, e := range entries {
		doc[strconv.FormatInt(e.Index, 10)] = e
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handlers) ValidateLedger(c echo.Context) error {
	report, err := h.svc.ValidateLedger(c.Request().Context())
	if err != nil {
		h.log.Error("validate ledger", zap.Error(err))
		return apiErr(c, http.StatusInternalServerError, "failed to validate ledger")
	}
	return c.JSON(http.StatusOK, report)
}

// ── Outputs ───────────────────────────────────────────────────────────────────

// GetOutput serves a forensic, clean or reconstructed artifact by name.
func (h *Handlers) GetOutput(c echo.Context) error {
	name := c.Param("name")
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || name[0] == '.' {
		return apiErr(c, http.StatusBadRequest, "invalid file name")
	}
	path := filepath.Join(h.opts.OutputsDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return apiErr(c, http.StatusNotFound, "file not found")
	}
	return c.Attachment(path, name)
}

// ── Tokens ────────────────────────────────────────────────────────────────────

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken exchanges the caller's credential for a short-lived JWT.
func (h *Handlers) IssueToken(c echo.Context) error {
	owner, err := mustOwner(c)
	if err != nil {
		return err
	}
	ttl := h.opts.JWTExpiration
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := auth.IssueJWT(h.opts.JWTSecret, owner, ttl)
	if err != nil {
		return apiErr(c, http.StatusServiceUnavailable, "token issuing is not configured")
	}
	return c.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: time.Now().Add(ttl).UTC()})
}
