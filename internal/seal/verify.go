package seal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/notifications"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/recovery"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/video"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/compare"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

type VerifyRequest struct {
	// RefID is optional; without it the record is found by digest.
	RefID            string
	Path             string
	OriginalFilename string
}

func (r VerifyRequest) validate() error {
	if r.Path == "" {
		return fmt.Errorf("%w: media payload is required", ErrValidation)
	}
	return nil
}

func (s *Service) videoExtractor(interval int, alg fingerprint.Algorithm) *video.Extractor {
	ex := *s.extractor
	if interval > 0 {
		ex.Interval = interval
	}
	ex.Algorithm = alg.OrDefault()
	return &ex
}

// match finds the record an incoming file claims to be: by reference id
// first, then by whole-file digest. It also returns the incoming digest
// computed with the matched record's algorithm.
func (s *Service) match(ctx context.Context, req VerifyRequest) (*models.Record, string, error) {
	var rec *models.Record
	if req.RefID != "" {
		r, err := s.registry.Lookup(ctx, req.RefID)
		switch {
		case err == nil:
			rec = r
		case !errors.Is(err, registry.ErrNotFound):
			return nil, "", fmt.Errorf("seal: lookup %s: %w", req.RefID, err)
		}
	}

	sha, err := s.opts.Algorithm.DigestFile(req.Path)
	if err != nil {
		return nil, "", err
	}
	if rec == nil {
		r, err := s.registry.FindByDigest(ctx, sha)
		switch {
		case err == nil:
			rec = r
		case !errors.Is(err, registry.ErrNotFound):
			return nil, "", fmt.Errorf("seal: find by digest: %w", err)
		}
	}
	if rec != nil && rec.Algorithm.OrDefault() != s.opts.Algorithm {
		if sha, err = rec.Algorithm.OrDefault().DigestFile(req.Path); err != nil {
			return nil, "", err
		}
	}
	return rec, sha, nil
}

func unregistered(req VerifyRequest, sha string) *models.VerifyResult {
	msg := "no record found for this file"
	if req.RefID != "" {
		msg = fmt.Sprintf("no record found for id %q or this file", req.RefID)
	}
	return &models.VerifyResult{
		Status:  models.VerifyUnregistered,
		Message: msg,
		Details: models.VerifyDetails{SHA: sha, IncomingName: req.OriginalFilename},
	}
}

func matched(rec *models.Record, req VerifyRequest, sha string) models.VerifyDetails {
	return models.VerifyDetails{
		SHA:             sha,
		ExpectedSHA:     rec.SHA,
		MatchedID:       rec.ReferenceID,
		MatchedFilename: rec.Filename,
		IncomingName:    req.OriginalFilename,
		Owner:           rec.Owner,
		MediaType:       rec.MediaType,
	}
}

// VerifyImage checks an image against its registered record and, when the
// content differs, localises the tampered blocks and renders the forensic
// and clean views.
func (s *Service) VerifyImage(ctx context.Context, req VerifyRequest) (*models.VerifyResult, error) {
	req.RefID = strings.TrimSpace(req.RefID)
	if err := req.validate(); err != nil {
		return nil, err
	}
	rec, sha, err := s.match(ctx, req)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return unregistered(req, sha), nil
	}

	details := matched(rec, req, sha)
	if sha == rec.SHA {
		return &models.VerifyResult{Status: models.VerifyAuthentic, Message: "integrity intact", Details: details}, nil
	}

	res := &models.VerifyResult{Status: models.VerifyTampered, Details: details}
	res.Details.TamperScore = 100

	switch {
	case rec.MediaType != models.MediaImage:
		res.Message = fmt.Sprintf("file differs from the registered %s", rec.MediaType)
	case len(rec.Blocks) == 0:
		res.Message = "file differs and the record holds no block digests"
	default:
		res = s.localise(ctx, rec, req, res)
	}

	if res.Status == models.VerifyTampered {
		s.alert(ctx, res)
	}
	return res, nil
}

// localise compares block digests and runs recovery. Failures past the
// digest mismatch only degrade the result.
func (s *Service) localise(ctx context.Context, rec *models.Record, req VerifyRequest, res *models.VerifyResult) *models.VerifyResult {
	img, err := fingerprint.LoadImage(req.Path)
	if err != nil {
		s.forensicsFailed(rec, err)
		res.Message = "file differs from the registered image and cannot be decoded"
		return res
	}
	gray := fingerprint.Grayscale(img)
	blocks, err := fingerprint.SliceImage(gray, blockSize(rec, s.opts.BlockSize))
	if err != nil {
		s.forensicsFailed(rec, err)
		res.Message = "file differs from the registered image"
		return res
	}
	current, positions := rec.Algorithm.OrDefault().DigestBlocks(blocks)
	cmp := compare.Compare(current, rec.Blocks)

	if cmp.Clean() {
		res.Status = models.VerifyAuthentic
		res.Message = "pixel content matches the registered image; only file metadata differs"
		res.Details.TamperScore = 0
		return res
	}

	res.Message = fmt.Sprintf("%d of %d blocks differ", len(cmp.Tampered), max(len(current), len(rec.Blocks)))
	res.Details.TamperScore = roundScore(cmp.Score)
	res.Details.TamperedBlocks = cmp.Tampered

	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	if rec.Width > 0 && (rec.Width != w || rec.Height != h) {
		s.forensicsFailed(rec, fmt.Errorf("%w: registered %dx%d, got %dx%d", recovery.ErrShapeMismatch, rec.Width, rec.Height, w, h))
		return res
	}

	out, err := s.recoveryEngine(rec).Recover(ctx, recovery.Input{
		Color:     img,
		Gray:      gray,
		Tampered:  cmp.Tampered,
		Positions: positions,
		Stored:    rec.Blocks,
	})
	if err != nil {
		s.forensicsFailed(rec, err)
		return res
	}

	forensicPath, cleanPath, err := s.writeArtifacts(out.Forensic, out.Clean)
	if err != nil {
		s.forensicsFailed(rec, err)
		return res
	}
	res.Details.CanReconstruct = true
	res.Details.ForensicPath = forensicPath
	res.Details.CleanPath = cleanPath
	res.Details.RestoredBlocks = out.Restored
	res.Details.VoidBlocks = out.Void
	return res
}

func (s *Service) forensicsFailed(rec *models.Record, err error) {
	s.log.Warn("tamper confirmed, reconstruction unavailable",
		zap.String("ref_id", rec.ReferenceID),
		zap.Error(fmt.Errorf("%w: %v", ErrForensics, err)))
}

func (s *Service) writeArtifacts(forensic, clean image.Image) (string, string, error) {
	id := uuid.NewString()[:8]
	forensicPath := filepath.Join(s.opts.OutputsDir, "forensic_"+id+".png")
	cleanPath := filepath.Join(s.opts.OutputsDir, "clean_"+id+".png")
	if err := recovery.WritePNG(forensicPath, forensic); err != nil {
		return "", "", err
	}
	if err := recovery.WritePNG(cleanPath, clean); err != nil {
		return "", "", err
	}
	return forensicPath, cleanPath, nil
}

// VerifyVideo checks a video against its registered record. A file whose
// bytes differ is always TAMPERED; when its sampled frames can be decoded
// the tampered frame indices and a frame-level score are reported.
func (s *Service) VerifyVideo(ctx context.Context, req VerifyRequest) (*models.VerifyResult, error) {
	req.RefID = strings.TrimSpace(req.RefID)
	if err := req.validate(); err != nil {
		return nil, err
	}
	rec, sha, err := s.match(ctx, req)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec, err = s.matchFilename(ctx, req.OriginalFilename)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Algorithm.OrDefault() != s.opts.Algorithm {
			if sha, err = rec.Algorithm.OrDefault().DigestFile(req.Path); err != nil {
				return nil, err
			}
		}
	}
	if rec == nil {
		return unregistered(req, sha), nil
	}

	details := matched(rec, req, sha)
	if sha == rec.SHA {
		return &models.VerifyResult{Status: models.VerifyAuthentic, Message: "integrity intact", Details: details}, nil
	}

	res := &models.VerifyResult{Status: models.VerifyTampered, Details: details}
	res.Details.TamperScore = 100
	res.Details.CanReconstruct = rec.MediaType == models.MediaVideo && s.extractor.HasFrames(rec.ReferenceID)
	res.Message = "file bytes differ from the registered video"

	if rec.MediaType == models.MediaVideo && len(rec.Frames) > 0 {
		digests, err := s.videoExtractor(rec.SampleInterval, rec.Algorithm).Sample(ctx, req.Path)
		if err != nil {
			s.log.Info("frame sampling failed, reporting whole-file result",
				zap.String("ref_id", rec.ReferenceID), zap.Error(err))
		} else if cmp := compare.Compare(digests, rec.Frames); !cmp.Clean() {
			res.Details.FrameLevel = true
			res.Details.TamperScore = roundScore(cmp.Score)
			res.Details.TamperedBlocks = cmp.Tampered
			res.Message = fmt.Sprintf("%d of %d sampled frames differ", len(cmp.Tampered), max(len(digests), len(rec.Frames)))
		}
	}

	s.alert(ctx, res)
	return res, nil
}

// matchFilename is the last resort for videos re-encoded under their
// original name.
func (s *Service) matchFilename(ctx context.Context, filename string) (*models.Record, error) {
	rec, err := registry.FindByFilename(ctx, s.registry, filename)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("seal: find by filename: %w", err)
	}
	if rec.MediaType != models.MediaVideo {
		return nil, nil
	}
	return rec, nil
}

func (s *Service) alert(ctx context.Context, res *models.VerifyResult) {
	msg := fmt.Sprintf("%s: %s (tamper score %.2f)", res.Status, res.Message, res.Details.TamperScore)
	if err := s.notifier.SendAlert(ctx, res.Details.MatchedID, notifications.SeverityCritical, msg); err != nil {
		s.log.Warn("tamper alert not delivered", zap.String("ref_id", res.Details.MatchedID), zap.Error(err))
	}
	s.log.Info("tamper detected",
		zap.String("ref_id", res.Details.MatchedID),
		zap.String("media_type", string(res.Details.MediaType)),
		zap.Float64("tamper_score", res.Details.TamperScore))
}
