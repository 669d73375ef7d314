package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeMediaVerify      = "media:verify"
	TypeVideoReconstruct = "video:reconstruct"
	TypeLedgerAudit      = "ledger:audit"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"

	// ResultRetention is how long completed task results stay readable
	// through the inspector.
	ResultRetention = 24 * time.Hour
)

// MediaVerifyPayload is the task payload for TypeMediaVerify. Path points
// at an upload the worker can read; the worker removes it when done.
type MediaVerifyPayload struct {
	RefID            string `json:"ref_id,omitempty"`
	Path             string `json:"path"`
	OriginalFilename string `json:"original_filename,omitempty"`
	MediaType        string `json:"media_type"`
}

// VideoReconstructPayload is the task payload for TypeVideoReconstruct.
type VideoReconstructPayload struct {
	RefID string `json:"ref_id"`
}

// LedgerAuditPayload is the task payload for TypeLedgerAudit.
type LedgerAuditPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

func NewMediaVerifyTask(p MediaVerifyPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal MediaVerify: %w", err)
	}
	return asynq.NewTask(TypeMediaVerify, b, asynq.Queue(QueueCritical), asynq.Retention(ResultRetention)), nil
}

func NewVideoReconstructTask(p VideoReconstructPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal VideoReconstruct: %w", err)
	}
	return asynq.NewTask(TypeVideoReconstruct, b, asynq.Queue(QueueDefault), asynq.Retention(ResultRetention)), nil
}

func NewLedgerAuditTask(p LedgerAuditPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal LedgerAudit: %w", err)
	}
	return asynq.NewTask(TypeLedgerAudit, b, asynq.Queue(QueueLow), asynq.Retention(ResultRetention)), nil
}

func ParseMediaVerifyPayload(t *asynq.Task) (MediaVerifyPayload, error) {
	var p MediaVerifyPayload
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}

func ParseVideoReconstructPayload(t *asynq.Task) (VideoReconstructPayload, error) {
	var p VideoReconstructPayload
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}

func ParseLedgerAuditPayload(t *asynq.Task) (LedgerAuditPayload, error) {
	var p LedgerAuditPayload
	err := json.Unmarshal(t.Payload(), &p)
	return p, err
}
