package seal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/ledger"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/merkle"
)

type RegisterRequest struct {
	RefID string
	Path  string
	Owner string
	// Filename is the name the media was uploaded under; defaults to the
	// base name of Path.
	Filename string
}

func (r RegisterRequest) filename() string {
	if r.Filename != "" {
		return r.Filename
	}
	return filepath.Base(r.Path)
}

func (r RegisterRequest) validate() error {
	if r.RefID == "" {
		return fmt.Errorf("%w: reference id is required", ErrValidation)
	}
	if r.Path == "" {
		return fmt.Errorf("%w: media payload is required", ErrValidation)
	}
	info, err := os.Stat(r.Path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: media payload %s is not readable", ErrValidation, filepath.Base(r.Path))
	}
	return nil
}

// precheck normalises the reference id, rejects duplicates before any
// hashing work and returns the whole-file digest of the payload. A ledger
// that cannot be read fails here, before anything is written.
func (s *Service) precheck(ctx context.Context, req *RegisterRequest) (string, error) {
	req.RefID = strings.TrimSpace(req.RefID)
	if err := req.validate(); err != nil {
		return "", err
	}
	if _, _, err := s.ledger.Tail(ctx); err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	existing, err := s.registry.Lookup(ctx, req.RefID)
	switch {
	case err == nil:
		return "", &DuplicateError{Kind: registry.ErrDuplicateReference, Existing: existing.ReferenceID}
	case !errors.Is(err, registry.ErrNotFound):
		return "", fmt.Errorf("seal: lookup %s: %w", req.RefID, err)
	}

	sha, err := s.opts.Algorithm.DigestFile(req.Path)
	if err != nil {
		return "", err
	}
	existing, err = s.registry.FindByDigest(ctx, sha)
	switch {
	case err == nil:
		return "", &DuplicateError{Kind: registry.ErrDuplicateMedia, Existing: existing.ReferenceID}
	case !errors.Is(err, registry.ErrNotFound):
		return "", fmt.Errorf("seal: find by digest: %w", err)
	}
	return sha, nil
}

// record writes rec to the registry. It runs only after every digest has
// been computed.
func (s *Service) record(ctx context.Context, rec *models.Record) error {
	err := s.registry.Register(ctx, rec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrDuplicateReference):
		return &DuplicateError{Kind: registry.ErrDuplicateReference, Existing: rec.ReferenceID}
	case errors.Is(err, registry.ErrDuplicateMedia):
		dup := &DuplicateError{Kind: registry.ErrDuplicateMedia}
		if other, lerr := s.registry.FindByDigest(ctx, rec.SHA); lerr == nil {
			dup.Existing = other.ReferenceID
		}
		return dup
	default:
		return fmt.Errorf("seal: register: %w", err)
	}
}

// commit writes rec to the registry and then the ledger. When the ledger
// append fails the record is withdrawn again, so a retry starts clean.
func (s *Service) commit(ctx context.Context, rec *models.Record) (int64, error) {
	if err := s.record(ctx, rec); err != nil {
		return 0, err
	}
	entry, err := s.ledger.Append(ctx, ledger.Fields{
		ReferenceID: rec.ReferenceID,
		MediaType:   string(rec.MediaType),
		Filename:    rec.Filename,
		Owner:       rec.Owner,
		Fingerprint: rec.SHA,
	})
	if err == nil {
		return entry.Index, nil
	}
	if werr := s.registry.Withdraw(context.WithoutCancel(ctx), rec.ReferenceID, rec.SHA); werr != nil {
		s.log.Error("ledger append failed and the record could not be withdrawn",
			zap.String("ref_id", rec.ReferenceID), zap.Error(err), zap.NamedError("withdraw_error", werr))
	} else {
		s.log.Warn("ledger append failed, record withdrawn",
			zap.String("ref_id", rec.ReferenceID), zap.Error(err))
	}
	return 0, fmt.Errorf("seal: ledger: %w", err)
}

// RegisterImage fingerprints an image block by block, backs every block up
// in the block store and records the result.
func (s *Service) RegisterImage(ctx context.Context, req RegisterRequest) (*models.RegistrationResult, error) {
	sha, err := s.precheck(ctx, &req)
	if err != nil {
		return nil, err
	}

	img, err := fingerprint.LoadImage(req.Path)
	if err != nil {
		return nil, err
	}
	gray := fingerprint.Grayscale(img)
	blocks, err := fingerprint.SliceImage(gray, s.opts.BlockSize)
	if err != nil {
		return nil, err
	}
	alg := s.opts.Algorithm
	digests, positions := alg.DigestBlocks(blocks)

	seen := make(map[string]bool, len(digests))
	for i, b := range blocks {
		if seen[digests[i]] {
			continue
		}
		seen[digests[i]] = true
		if err := s.blocks.Put(ctx, digests[i], fingerprint.Pixels(b.Tile)); err != nil {
			return nil, fmt.Errorf("seal: back up block %d: %w", i, err)
		}
	}

	rec := &models.Record{
		ReferenceID: req.RefID,
		MediaType:   models.MediaImage,
		Filename:    req.filename(),
		Owner:       req.Owner,
		SHA:         sha,
		Algorithm:   alg,
		MerkleRoot:  merkle.Root(digests),
		Blocks:      digests,
		Positions:   positions,
		BlockSize:   s.opts.BlockSize,
		Width:       gray.Bounds().Dx(),
		Height:      gray.Bounds().Dy(),
		Timestamp:   s.now().UTC(),
	}
	index, err := s.commit(ctx, rec)
	if err != nil {
		return nil, err
	}

	s.log.Info("image registered",
		zap.String("ref_id", rec.ReferenceID),
		zap.String("sha", sha),
		zap.Int("blocks", len(digests)),
		zap.Int64("index", index))

	return &models.RegistrationResult{
		Status:      models.StatusRegistered,
		Message:     "image registered",
		RefID:       rec.ReferenceID,
		MediaType:   rec.MediaType,
		SHA:         sha,
		MerkleRoot:  rec.MerkleRoot,
		BlockIndex:  index,
		Filename:    rec.Filename,
		TotalBlocks: len(digests),
	}, nil
}

// RegisterVideo samples frames into the reference id's frame directory and
// records their digests.
func (s *Service) RegisterVideo(ctx context.Context, req RegisterRequest) (*models.RegistrationResult, error) {
	sha, err := s.precheck(ctx, &req)
	if err != nil {
		return nil, err
	}

	ex := s.videoExtractor(s.opts.SampleInterval, s.opts.Algorithm)
	frames, err := ex.Extract(ctx, req.Path, req.RefID)
	if err != nil {
		return nil, err
	}
	digests := make([]string, len(frames))
	indexes := make([]int, len(frames))
	for i, f := range frames {
		digests[i] = f.Digest
		indexes[i] = f.Index * ex.Interval // source frame number
	}

	rec := &models.Record{
		ReferenceID:    req.RefID,
		MediaType:      models.MediaVideo,
		Filename:       req.filename(),
		Owner:          req.Owner,
		SHA:            sha,
		Algorithm:      s.opts.Algorithm,
		MerkleRoot:     merkle.Root(digests),
		Frames:         digests,
		FrameIndexes:   indexes,
		SampleInterval: ex.Interval,
		Timestamp:      s.now().UTC(),
	}
	index, err := s.commit(ctx, rec)
	if err != nil {
		// The frames belong to no record.
		if rmErr := ex.Remove(req.RefID); rmErr != nil {
			s.log.Warn("remove orphaned frames", zap.String("ref_id", req.RefID), zap.Error(rmErr))
		}
		return nil, err
	}

	s.log.Info("video registered",
		zap.String("ref_id", rec.ReferenceID),
		zap.String("sha", sha),
		zap.Int("frames", len(digests)),
		zap.Int64("index", index))

	return &models.RegistrationResult{
		Status:      models.StatusRegistered,
		Message:     "video registered",
		RefID:       rec.ReferenceID,
		MediaType:   rec.MediaType,
		SHA:         sha,
		MerkleRoot:  rec.MerkleRoot,
		BlockIndex:  index,
		Filename:    rec.Filename,
		TotalFrames: len(digests),
	}, nil
}
