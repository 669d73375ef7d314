package worker

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/seal"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

// Interfaces for dependency injection to allow testing. *seal.Service
// satisfies all three service interfaces.

type Verifier interface {
	VerifyImage(ctx context.Context, req seal.VerifyRequest) (*models.VerifyResult, error)
	VerifyVideo(ctx context.Context, req seal.VerifyRequest) (*models.VerifyResult, error)
}

type Reconstructor interface {
	ReconstructVideo(ctx context.Context, refID string) (string, error)
}

type LedgerAuditor interface {
	ValidateLedger(ctx context.Context) (*worm.Report, error)
}

// Enqueuer is the part of *asynq.Client the scheduler uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
