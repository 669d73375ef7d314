package seal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/notifications"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/video"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

// ReconstructVideo re-assembles the frames sampled at registration into a
// playable file under the outputs directory and returns its path.
func (s *Service) ReconstructVideo(ctx context.Context, refID string) (string, error) {
	refID = strings.TrimSpace(refID)
	if refID == "" {
		return "", fmt.Errorf("%w: reference id is required", ErrValidation)
	}
	if !s.extractor.HasFrames(refID) {
		return "", fmt.Errorf("%w: no frames stored for %q", ErrReconstructionUnavailable, refID)
	}
	dir, err := s.extractor.Dir(refID)
	if err != nil {
		return "", err
	}

	ext := ".mp4"
	rec, err := s.registry.Lookup(ctx, refID)
	switch {
	case err == nil:
		s.checkFrames(rec.ReferenceID, dir, rec.Frames, rec.Algorithm)
		if video.IsGIF(rec.Filename) {
			ext = ".gif"
		}
	case errors.Is(err, registry.ErrNotFound):
		s.log.Warn("reconstructing frames with no registry record", zap.String("ref_id", refID))
	default:
		return "", fmt.Errorf("seal: lookup %s: %w", refID, err)
	}

	out := filepath.Join(s.opts.OutputsDir,
		fmt.Sprintf("reconstructed_%s_%s%s", url.PathEscape(refID), uuid.NewString()[:8], ext))
	if err := s.assembler.Assemble(ctx, dir, out, s.opts.FPS); err != nil {
		if errors.Is(err, video.ErrNoFrames) {
			return "", fmt.Errorf("%w: %w", ErrReconstructionUnavailable, err)
		}
		return "", fmt.Errorf("seal: assemble: %w", err)
	}
	s.log.Info("video reconstructed", zap.String("ref_id", refID), zap.String("output", out))
	return out, nil
}

// checkFrames logs every stored frame file whose digest no longer matches
// the record. Reconstruction proceeds with whatever is on disk.
func (s *Service) checkFrames(refID, dir string, digests []string, alg fingerprint.Algorithm) {
	frames, err := video.FrameFiles(dir)
	if err != nil {
		return
	}
	if len(frames) != len(digests) {
		s.log.Warn("stored frame count differs from record",
			zap.String("ref_id", refID), zap.Int("stored", len(frames)), zap.Int("registered", len(digests)))
	}
	for _, f := range frames {
		if f.Index >= len(digests) {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			s.log.Warn("read stored frame", zap.String("ref_id", refID), zap.Error(err))
			continue
		}
		if err := alg.OrDefault().Verify(data, digests[f.Index]); err != nil {
			s.log.Warn("stored frame altered since registration",
				zap.String("ref_id", refID), zap.Int("frame", f.Index), zap.Error(err))
		}
	}
}

// ValidateLedger recomputes the whole chain and alerts when it is broken.
func (s *Service) ValidateLedger(ctx context.Context) (*worm.Report, error) {
	report, err := s.ledger.Validate(ctx)
	if err != nil {
		return nil, err
	}
	if !report.OK {
		msg := fmt.Sprintf("ledger chain broken at index %d (%d problems)", report.BrokenAt, len(report.Errors))
		if err := s.notifier.SendAlert(ctx, "ledger", notifications.SeverityCritical, msg); err != nil {
			s.log.Warn("ledger alert not delivered", zap.Error(err))
		}
	}
	return &report, nil
}
