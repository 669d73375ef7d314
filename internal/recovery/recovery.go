// Package recovery renders the two artifacts produced for a tampered image:
// a forensic view marking every tampered tile, and a clean reconstruction
// that pulls the original pixels of those tiles back out of the block store.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/storage"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

// ErrShapeMismatch is returned when the inputs do not describe the same grid.
var ErrShapeMismatch = errors.New("recovery: shape mismatch")

// DefaultHighlight is the outline colour of a tampered tile.
var DefaultHighlight = color.RGBA{R: 0xff, A: 0xff}

const outlineWidth = 2

type Engine struct {
	Blocks    storage.Backend
	BlockSize int
	Algorithm fingerprint.Algorithm
	Highlight color.RGBA
	Log       *zap.Logger
}

// Input describes the current image and which of its tiles differ from the
// registered record. Positions are the tile offsets of the current image;
// Stored holds the registered digests, index-aligned with Positions.
type Input struct {
	Color     image.Image
	Gray      *image.Gray
	Tampered  []int
	Positions []fingerprint.Position
	Stored    []string
}

type Output struct {
	Forensic *image.RGBA
	Clean    *image.Gray
	// Restored counts tampered tiles repainted from the block store, Void
	// those left black because no authentic payload was available.
	Restored int
	Void     int
}

func (e *Engine) highlight() color.RGBA {
	if e.Highlight == (color.RGBA{}) {
		return DefaultHighlight
	}
	return e.Highlight
}

func (e *Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Recover builds both views. Any error means neither view can be trusted.
func (e *Engine) Recover(ctx context.Context, in Input) (*Output, error) {
	if e.BlockSize <= 0 {
		return nil, fmt.Errorf("recovery: invalid block size %d", e.BlockSize)
	}
	if in.Color == nil || in.Gray == nil {
		return nil, fmt.Errorf("%w: missing image", ErrShapeMismatch)
	}
	cb, gb := in.Color.Bounds(), in.Gray.Bounds()
	if cb.Dx() != gb.Dx() || cb.Dy() != gb.Dy() {
		return nil, fmt.Errorf("%w: colour %dx%d, grayscale %dx%d", ErrShapeMismatch, cb.Dx(), cb.Dy(), gb.Dx(), gb.Dy())
	}

	tampered := make(map[int]bool, len(in.Tampered))
	for _, i := range in.Tampered {
		if i < 0 || i >= len(in.Positions) {
			return nil, fmt.Errorf("%w: tampered index %d outside %d positions", ErrShapeMismatch, i, len(in.Positions))
		}
		tampered[i] = true
	}

	full := image.Rect(0, 0, gb.Dx(), gb.Dy())
	out := &Output{
		Forensic: image.NewRGBA(full),
		Clean:    image.NewGray(full), // zero value is black
	}
	draw.Draw(out.Forensic, full, in.Color, cb.Min, draw.Src)

	for i, pos := range in.Positions {
		tile := e.tileRect(pos, full)
		if tile.Empty() {
			return nil, fmt.Errorf("%w: position %v outside %dx%d image", ErrShapeMismatch, pos, full.Dx(), full.Dy())
		}
		if !tampered[i] {
			draw.Draw(out.Clean, tile, in.Gray, gb.Min.Add(tile.Min), draw.Src)
			continue
		}

		e.mark(out.Forensic, tile)

		var digest string
		if i < len(in.Stored) {
			digest = in.Stored[i]
		}
		if e.restore(ctx, out.Clean, tile, digest) {
			out.Restored++
		} else {
			out.Void++
		}
	}
	return out, nil
}

func (e *Engine) tileRect(pos fingerprint.Position, full image.Rectangle) image.Rectangle {
	return image.Rect(pos.Col, pos.Row, pos.Col+e.BlockSize, pos.Row+e.BlockSize).Intersect(full)
}

// restore paints the stored payload for digest into tile and reports
// whether it could.
func (e *Engine) restore(ctx context.Context, dst *image.Gray, tile image.Rectangle, digest string) bool {
	if digest == "" || e.Blocks == nil {
		return false
	}
	payload, err := e.Blocks.Get(ctx, digest)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger().Warn("block fetch failed", zap.String("digest", digest), zap.Error(err))
		}
		return false
	}
	if err := e.Algorithm.OrDefault().Verify(payload, digest); err != nil {
		e.logger().Warn("stored block does not match its digest", zap.String("digest", digest), zap.Error(err))
		return false
	}
	w, h := tile.Dx(), tile.Dy()
	if len(payload) != w*h {
		e.logger().Warn("stored block has a different shape",
			zap.String("digest", digest), zap.Int("bytes", len(payload)), zap.Int("expected", w*h))
		return false
	}
	for y := 0; y < h; y++ {
		off := dst.PixOffset(tile.Min.X, tile.Min.Y+y)
		copy(dst.Pix[off:off+w], payload[y*w:(y+1)*w])
	}
	return true
}

// mark outlines r and draws its top-left to bottom-right diagonal.
func (e *Engine) mark(img *image.RGBA, r image.Rectangle) {
	c := e.highlight()
	for t := 0; t < outlineWidth; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, r.Min.Y+t, c)
			img.SetRGBA(x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.SetRGBA(r.Min.X+t, y, c)
			img.SetRGBA(r.Max.X-1-t, y, c)
		}
	}

	w, h := r.Dx()-1, r.Dy()-1
	steps := max(w, h)
	for s := 0; s <= steps; s++ {
		x, y := r.Min.X, r.Min.Y
		if steps > 0 {
			x += s * w / steps
			y += s * h / steps
		}
		img.SetRGBA(x, y, c)
	}
}

// WritePNG encodes img to path through a temp file in the same directory.
func WritePNG(path string, img image.Image) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recovery: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("recovery: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("recovery: encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("recovery: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("recovery: rename: %w", err)
	}
	return nil
}
