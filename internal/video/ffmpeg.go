package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

// FFmpegCodec shells out to an ffmpeg binary for mp4, avi, mov and mkv.
// Frames travel over pipes as PNG.
type FFmpegCodec struct {
	Path string
}

func (c *FFmpegCodec) bin() string {
	if c.Path == "" {
		return "ffmpeg"
	}
	return c.Path
}

func (c *FFmpegCodec) Decode(ctx context.Context, path string, fn func(int, image.Image) error) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("video: open: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin(),
		"-v", "error", "-nostdin",
		"-i", path,
		"-f", "image2pipe", "-vcodec", "png", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("video: ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("video: start ffmpeg: %w", err)
	}

	r := bufio.NewReaderSize(stdout, 1<<20)
	index := 0
	var loopErr error
	for {
		if _, err := r.Peek(1); err != nil {
			if !errors.Is(err, io.EOF) {
				loopErr = fmt.Errorf("video: read ffmpeg output: %w", err)
			}
			break
		}
		frame, err := png.Decode(r)
		if err != nil {
			loopErr = fmt.Errorf("%w: frame %d: %v", fingerprint.ErrDecode, index, err)
			break
		}
		if err := fn(index, frame); err != nil {
			loopErr = err
			break
		}
		index++
	}

	if loopErr != nil {
		cancel()
		io.Copy(io.Discard, r)
		cmd.Wait()
		return loopErr
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%w: ffmpeg: %v: %s", fingerprint.ErrDecode, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

func (c *FFmpegCodec) Encode(ctx context.Context, frames []string, outputPath string, fps int) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	first, err := fingerprint.LoadImage(frames[0])
	if err != nil {
		return fmt.Errorf("video: first frame: %w", err)
	}
	// mpeg4 needs even dimensions.
	w, h := first.Bounds().Dx()&^1, first.Bounds().Dy()&^1
	if w == 0 || h == 0 {
		return fmt.Errorf("video: first frame is too small (%dx%d)", first.Bounds().Dx(), first.Bounds().Dy())
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("video: mkdir: %w", err)
	}
	tmpName := outputPath + ".part" + filepath.Ext(outputPath)
	defer os.Remove(tmpName)

	cmd := exec.CommandContext(ctx, c.bin(),
		"-y", "-v", "error", "-nostdin",
		"-f", "image2pipe", "-framerate", strconv.Itoa(fps), "-i", "-",
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-c:v", "mpeg4", "-q:v", "3", "-pix_fmt", "yuv420p",
		tmpName)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("video: ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("video: start ffmpeg: %w", err)
	}

	var writeErr error
	for _, p := range frames {
		data, err := os.ReadFile(p)
		if err != nil {
			writeErr = fmt.Errorf("video: read frame: %w", err)
			break
		}
		if _, err := stdin.Write(data); err != nil {
			writeErr = fmt.Errorf("video: write frame to ffmpeg: %w", err)
			break
		}
	}
	stdin.Close()
	waitErr := cmd.Wait()
	if writeErr != nil {
		return writeErr
	}
	if waitErr != nil {
		return fmt.Errorf("video: ffmpeg: %v: %s", waitErr, bytes.TrimSpace(stderr.Bytes()))
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		return fmt.Errorf("video: rename: %w", err)
	}
	return nil
}
