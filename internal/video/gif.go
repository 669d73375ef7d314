package video

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"

	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

// GIFCodec treats an animated GIF as a video container.
type GIFCodec struct{}

// Decode composites every GIF frame onto the logical screen and hands out a
// snapshot of the result, so each frame is a full picture.
func (GIFCodec) Decode(ctx context.Context, path string, fn func(int, image.Image) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("video: open: %w", err)
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil {
		return fmt.Errorf("%w: gif: %v", fingerprint.ErrDecode, err)
	}

	screen := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if screen.Empty() && len(g.Image) > 0 {
		screen = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(screen)

	for i, frame := range g.Image {
		if err := ctx.Err(); err != nil {
			return err
		}
		var previous *image.RGBA
		disposal := byte(gif.DisposalNone)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			previous = image.NewRGBA(screen)
			copy(previous.Pix, canvas.Pix)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		snapshot := image.NewRGBA(screen)
		copy(snapshot.Pix, canvas.Pix)
		if err := fn(i, snapshot); err != nil {
			return err
		}

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return nil
}

// Encode writes an animated GIF. Frames are dithered onto the Plan 9 palette.
func (GIFCodec) Encode(ctx context.Context, frames []string, outputPath string, fps int) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	delay := max(1, 100/fps)

	out := &gif.GIF{}
	var bounds image.Rectangle
	for i, p := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := fingerprint.LoadImage(p)
		if err != nil {
			return fmt.Errorf("video: frame %s: %w", p, err)
		}
		if i == 0 {
			bounds = image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy())
		}
		pal := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(pal, bounds, img, img.Bounds().Min)
		out.Image = append(out.Image, pal)
		out.Delay = append(out.Delay, delay)
	}
	out.Config = image.Config{Width: bounds.Dx(), Height: bounds.Dy(), ColorModel: color.Palette(palette.Plan9)}

	return writeAtomic(outputPath, func(f *os.File) error {
		return gif.EncodeAll(f, out)
	})
}

// writeAtomic creates outputPath through a temp file in the same directory.
func writeAtomic(outputPath string, write func(*os.File) error) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("video: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".video-*.tmp")
	if err != nil {
		return fmt.Errorf("video: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("video: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("video: close temp: %w", err)
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		return fmt.Errorf("video: rename: %w", err)
	}
	return nil
}
