// Package worker holds the asynq task processors and the ledger audit
// scheduler run by cmd/worker.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/queue"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/seal"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

// ReconstructResult is the stored result of a TypeVideoReconstruct task.
type ReconstructResult struct {
	Status           string `json:"status"`
	ReconstructedURL string `json:"reconstructed_url,omitempty"`
	Error            string `json:"error,omitempty"`
}

// writeResult stores v as the task result. Tasks built outside a server
// (tests, direct calls) have no result writer.
func writeResult(t *asynq.Task, v interface{}) error {
	w := t.ResultWriter()
	if w == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, seal.ErrValidation) ||
		errors.Is(err, seal.ErrReconstructionUnavailable) ||
		errors.Is(err, fingerprint.ErrDecode)
}

type MediaVerifyProcessor struct {
	verifier Verifier
	log      *zap.Logger
}

func NewMediaVerifyProcessor(v Verifier, log *zap.Logger) *MediaVerifyProcessor {
	return &MediaVerifyProcessor{verifier: v, log: log}
}

func (p *MediaVerifyProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseMediaVerifyPayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	req := seal.VerifyRequest{RefID: payload.RefID, Path: payload.Path, OriginalFilename: payload.OriginalFilename}
	var res *models.VerifyResult
	switch models.MediaType(payload.MediaType) {
	case models.MediaImage:
		res, err = p.verifier.VerifyImage(ctx, req)
	case models.MediaVideo:
		res, err = p.verifier.VerifyVideo(ctx, req)
	default:
		err = fmt.Errorf("%w: unsupported media type %q", seal.ErrValidation, payload.MediaType)
	}

	if err != nil && !permanent(err) {
		// Keep the upload for the retry.
		return fmt.Errorf("verify %s: %w", payload.Path, err)
	}
	p.cleanup(payload.Path)

	if err != nil {
		p.log.Warn("verification rejected", zap.String("ref_id", payload.RefID), zap.Error(err))
		res = seal.VerificationFailure(err)
	} else {
		p.log.Info("verification complete",
			zap.String("ref_id", res.Details.MatchedID),
			zap.String("status", string(res.Status)),
			zap.Float64("tamper_score", res.Details.TamperScore))
	}
	return writeResult(t, res.Published())
}

func (p *MediaVerifyProcessor) cleanup(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.log.Warn("remove upload", zap.String("path", path), zap.Error(err))
	}
}

type VideoReconstructProcessor struct {
	reconstructor Reconstructor
	log           *zap.Logger
}

func NewVideoReconstructProcessor(r Reconstructor, log *zap.Logger) *VideoReconstructProcessor {
	return &VideoReconstructProcessor{reconstructor: r, log: log}
}

func (p *VideoReconstructProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseVideoReconstructPayload(t)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	out, err := p.reconstructor.ReconstructVideo(ctx, payload.RefID)
	if err != nil {
		if !permanent(err) {
			return fmt.Errorf("reconstruct %s: %w", payload.RefID, err)
		}
		p.log.Warn("reconstruction unavailable", zap.String("ref_id", payload.RefID), zap.Error(err))
		return writeResult(t, ReconstructResult{Status: "error", Error: err.Error()})
	}
	return writeResult(t, ReconstructResult{Status: "success", ReconstructedURL: models.OutputURL(out)})
}

type LedgerAuditProcessor struct {
	auditor LedgerAuditor
	log     *zap.Logger
}

func NewLedgerAuditProcessor(a LedgerAuditor, log *zap.Logger) *LedgerAuditProcessor {
	return &LedgerAuditProcessor{auditor: a, log: log}
}

// ProcessTask validates the whole chain. A broken chain is a result, not a
// task failure; the service has already raised the alert.
func (p *LedgerAuditProcessor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	report, err := p.auditor.ValidateLedger(ctx)
	if err != nil {
		return fmt.Errorf("validate ledger: %w", err)
	}
	if report.OK {
		p.log.Info("ledger audit passed", zap.Int("entries", report.Total))
	} else {
		p.log.Error("ledger audit failed",
			zap.Int64("broken_at", report.BrokenAt),
			zap.Strings("errors", report.Errors))
	}
	return writeResult(t, report)
}

// AuditScheduler enqueues one ledger audit per interval. The task id is
// derived from the interval window so several worker replicas never queue
// the same audit twice.
type AuditScheduler struct {
	queue    Enqueuer
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time
}

func NewAuditScheduler(q Enqueuer, log *zap.Logger, interval time.Duration) *AuditScheduler {
	return &AuditScheduler{queue: q, log: log, interval: interval, now: time.Now}
}

func (s *AuditScheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("scheduler: ledger audit disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.schedule(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.schedule(ctx)
		}
	}
}

func (s *AuditScheduler) schedule(ctx context.Context) {
	window := s.now().UTC().Truncate(s.interval)
	task, err := queue.NewLedgerAuditTask(queue.LedgerAuditPayload{RequestedAt: window})
	if err != nil {
		s.log.Error("scheduler: create ledger audit task", zap.Error(err))
		return
	}
	taskID := fmt.Sprintf("ledger-audit-%d", window.Unix())
	if _, err := s.queue.EnqueueContext(ctx, task, asynq.TaskID(taskID)); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			// Already queued for this window.
			return
		}
		s.log.Error("scheduler: enqueue ledger audit", zap.Error(err))
	}
}
