// Package seal wires the fingerprint, registry, block store, ledger and
// recovery components into the register / verify / reconstruct operations.
package seal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/ledger"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/notifications"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/recovery"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/storage"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/video"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

var (
	ErrValidation                = errors.New("seal: invalid request")
	ErrReconstructionUnavailable = errors.New("seal: reconstruction unavailable")
	ErrForensics                 = errors.New("seal: forensic analysis failed")
)

// DuplicateError reports a registration rejected because its reference id
// or its content is already registered. It unwraps to the registry sentinel.
type DuplicateError struct {
	Kind     error
	Existing string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%v (existing reference %s)", e.Kind, e.Existing)
}

func (e *DuplicateError) Unwrap() error { return e.Kind }

type Options struct {
	Algorithm      fingerprint.Algorithm
	BlockSize      int
	SampleInterval int
	FPS            int
	OutputsDir     string
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Registry  registry.Store
	Ledger    *ledger.Ledger
	Blocks    storage.Backend
	Extractor *video.Extractor
	Assembler *video.Assembler
	Notifier  notifications.Notifier
	Log       *zap.Logger
}

type Service struct {
	registry  registry.Store
	ledger    *ledger.Ledger
	blocks    storage.Backend
	extractor *video.Extractor
	assembler *video.Assembler
	notifier  notifications.Notifier
	log       *zap.Logger
	opts      Options
	now       func() time.Time
}

func New(d Deps, opts Options) *Service {
	if opts.BlockSize <= 0 {
		opts.BlockSize = fingerprint.DefaultBlockSize
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = video.DefaultSampleInterval
	}
	if opts.FPS <= 0 {
		opts.FPS = video.DefaultFPS
	}
	opts.Algorithm = opts.Algorithm.OrDefault()

	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = &notifications.ConsoleNotifier{Log: log}
	}
	return &Service{
		registry:  d.Registry,
		ledger:    d.Ledger,
		blocks:    d.Blocks,
		extractor: d.Extractor,
		assembler: d.Assembler,
		notifier:  notifier,
		log:       log,
		opts:      opts,
		now:       time.Now,
	}
}

func (s *Service) recoveryEngine(rec *models.Record) *recovery.Engine {
	return &recovery.Engine{
		Blocks:    s.blocks,
		BlockSize: blockSize(rec, s.opts.BlockSize),
		Algorithm: rec.Algorithm.OrDefault(),
		Log:       s.log,
	}
}

func blockSize(rec *models.Record, fallback int) int {
	if rec.BlockSize > 0 {
		return rec.BlockSize
	}
	return fallback
}

// roundScore keeps two decimals, the precision reported to callers.
func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// RegistrationFailure converts a registration error into the result handed
// to collaborators.
func RegistrationFailure(err error) *models.RegistrationResult {
	res := &models.RegistrationResult{Status: models.StatusError, Message: err.Error()}
	var dup *DuplicateError
	if errors.As(err, &dup) {
		res.Status = models.StatusDuplicate
		res.ExistingRef = dup.Existing
	}
	return res
}

// VerificationFailure converts a verification error into an ERROR result.
func VerificationFailure(err error) *models.VerifyResult {
	return &models.VerifyResult{Status: models.VerifyError, Message: err.Error()}
}
