package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaNone  MediaType = "none"
)

// Record is the registry entry for one reference id. Records are immutable
// once written.
type Record struct {
	ReferenceID    string                 `json:"reference_id"`
	MediaType      MediaType              `json:"media_type"`
	Filename       string                 `json:"filename"`
	Owner          string                 `json:"owner"`
	SHA            string                 `json:"sha"`
	Algorithm      fingerprint.Algorithm  `json:"algorithm,omitempty"`
	MerkleRoot     string                 `json:"merkle_root"`
	Blocks         []string               `json:"blocks,omitempty"`
	Positions      []fingerprint.Position `json:"positions,omitempty"`
	BlockSize      int                    `json:"block_size,omitempty"`
	Width          int                    `json:"width,omitempty"`
	Height         int                    `json:"height,omitempty"`
	Frames         []string               `json:"frames,omitempty"`
	FrameIndexes   []int                  `json:"frame_indexes,omitempty"`
	SampleInterval int                    `json:"sample_interval,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Digests returns the ordered block or frame digests of the record.
func (r *Record) Digests() []string {
	if r.MediaType == MediaVideo {
		return r.Frames
	}
	return r.Blocks
}

type RegistrationStatus string

const (
	StatusRegistered RegistrationStatus = "registered"
	StatusDuplicate  RegistrationStatus = "duplicate"
	StatusError      RegistrationStatus = "error"
)

// RegistrationResult is returned to collaborators after a registration attempt.
type RegistrationResult struct {
	Status      RegistrationStatus `json:"status"`
	Message     string             `json:"message,omitempty"`
	RefID       string             `json:"ref_id,omitempty"`
	MediaType   MediaType          `json:"media_type,omitempty"`
	SHA         string             `json:"sha,omitempty"`
	MerkleRoot  string             `json:"merkle_root,omitempty"`
	BlockIndex  int64              `json:"block_index,omitempty"`
	Filename    string             `json:"filename,omitempty"`
	TotalBlocks int                `json:"total_blocks,omitempty"`
	TotalFrames int                `json:"total_frames,omitempty"`
	ExistingRef string             `json:"existing_ref,omitempty"`
}

type VerifyStatus string

const (
	VerifyAuthentic    VerifyStatus = "AUTHENTIC"
	VerifyTampered     VerifyStatus = "TAMPERED"
	VerifyUnregistered VerifyStatus = "UNREGISTERED"
	VerifyError        VerifyStatus = "ERROR"
)

// VerifyResult is the tamper report handed back to collaborators. It is
// never persisted.
type VerifyResult struct {
	Status  VerifyStatus  `json:"status"`
	Message string        `json:"message,omitempty"`
	Details VerifyDetails `json:"details"`
}

type VerifyDetails struct {
	SHA             string    `json:"sha,omitempty"`
	ExpectedSHA     string    `json:"expected_sha,omitempty"`
	MatchedID       string    `json:"matched_id,omitempty"`
	MatchedFilename string    `json:"matched_filename,omitempty"`
	IncomingName    string    `json:"incoming_filename,omitempty"`
	Owner           string    `json:"owner,omitempty"`
	MediaType       MediaType `json:"media_type,omitempty"`
	TamperScore     float64   `json:"tamper_score"`
	TamperedBlocks  []int     `json:"tampered_blocks,omitempty"`
	FrameLevel      bool      `json:"frame_level,omitempty"`
	CanReconstruct  bool      `json:"can_reconstruct"`
	ForensicPath    string    `json:"forensic_path,omitempty"`
	CleanPath       string    `json:"clean_path,omitempty"`
	RestoredBlocks  int       `json:"restored_blocks,omitempty"`
	VoidBlocks      int       `json:"void_blocks,omitempty"`
}

// OutputURL maps an artifact written under the outputs directory to the
// path that serves it over HTTP.
func OutputURL(path string) string {
	if path == "" {
		return ""
	}
	return "/outputs/" + filepath.Base(path)
}

// Published returns a copy of r whose artifact paths are output URLs, so
// server filesystem paths never reach a client.
func (r *VerifyResult) Published() *VerifyResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Details.TamperedBlocks = append([]int(nil), r.Details.TamperedBlocks...)
	cp.Details.ForensicPath = OutputURL(r.Details.ForensicPath)
	cp.Details.CleanPath = OutputURL(r.Details.CleanPath)
	return &cp
}

// DetectMediaType classifies filename by extension. GIF counts as an image
// unless the caller asks for video explicitly.
func DetectMediaType(filename string) (MediaType, bool) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "jpg", "jpeg", "png", "webp", "gif", "bmp", "tif", "tiff":
		return MediaImage, true
	case "mp4", "avi", "mov", "mkv":
		return MediaVideo, true
	default:
		return "", false
	}
}
