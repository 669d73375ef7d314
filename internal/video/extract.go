package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

// Frame is one sampled frame kept for a reference id.
type Frame struct {
	Index  int
	Path   string
	Digest string
}

// Extractor samples every Interval-th frame and keeps the samples as PNG
// files in a directory per reference id under Root.
type Extractor struct {
	Codecs    Codecs
	Root      string
	Interval  int
	Algorithm fingerprint.Algorithm
}

func (e *Extractor) interval() int {
	if e.Interval <= 0 {
		return DefaultSampleInterval
	}
	return e.Interval
}

// Dir returns the frame directory of refID. The reference id is escaped so
// it always names a single directory directly under Root.
func (e *Extractor) Dir(refID string) (string, error) {
	name := url.PathEscape(refID)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("video: invalid reference id %q", refID)
	}
	return filepath.Join(e.Root, name), nil
}

// HasFrames reports whether a frame directory exists for refID.
func (e *Extractor) HasFrames(refID string) bool {
	dir, err := e.Dir(refID)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func frameName(index int) string {
	return "frame_" + strconv.Itoa(index) + ".png"
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("video: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// sample decodes path and calls keep with the dense index and PNG bytes of
// every retained frame.
func (e *Extractor) sample(ctx context.Context, path string, keep func(index int, payload []byte) error) (int, error) {
	every := e.interval()
	kept := 0
	err := e.Codecs.For(path).Decode(ctx, path, func(i int, frame image.Image) error {
		if i%every != 0 {
			return nil
		}
		payload, err := encodePNG(frame)
		if err != nil {
			return err
		}
		if err := keep(kept, payload); err != nil {
			return err
		}
		kept++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if kept == 0 {
		return 0, fmt.Errorf("%w: %s has no frames", fingerprint.ErrDecode, filepath.Base(path))
	}
	return kept, nil
}

// Extract samples path into the frame directory of refID and returns the
// kept frames in index order. Either every frame is written or the
// directory does not exist afterwards.
func (e *Extractor) Extract(ctx context.Context, path, refID string) ([]Frame, error) {
	dir, err := e.Dir(refID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("video: frames for %q already exist", refID)
	}
	if err := os.MkdirAll(e.Root, 0o755); err != nil {
		return nil, fmt.Errorf("video: mkdir: %w", err)
	}
	tmp, err := os.MkdirTemp(e.Root, ".extract-*")
	if err != nil {
		return nil, fmt.Errorf("video: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp) // no-op once renamed

	alg := e.Algorithm.OrDefault()
	var frames []Frame
	_, err = e.sample(ctx, path, func(index int, payload []byte) error {
		name := frameName(index)
		if err := os.WriteFile(filepath.Join(tmp, name), payload, 0o644); err != nil {
			return fmt.Errorf("video: write frame: %w", err)
		}
		frames = append(frames, Frame{Index: index, Path: filepath.Join(dir, name), Digest: alg.Sum(payload)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, dir); err != nil {
		return nil, fmt.Errorf("video: commit frames: %w", err)
	}
	return frames, nil
}

// Sample returns the digests of the frames Extract would keep for path
// without writing anything.
func (e *Extractor) Sample(ctx context.Context, path string) ([]string, error) {
	alg := e.Algorithm.OrDefault()
	var digests []string
	_, err := e.sample(ctx, path, func(_ int, payload []byte) error {
		digests = append(digests, alg.Sum(payload))
		return nil
	})
	return digests, err
}

// Remove deletes the frame directory of refID.
func (e *Extractor) Remove(refID string) error {
	dir, err := e.Dir(refID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// FrameFiles lists the frame_<n>.png files of dir sorted by n. Other files
// are ignored.
func FrameFiles(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoFrames, dir)
		}
		return nil, fmt.Errorf("video: read frames dir: %w", err)
	}
	var frames []Frame
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasPrefix(name, "frame_") || !strings.HasSuffix(name, ".png") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame_"), ".png"))
		if err != nil || n < 0 {
			continue
		}
		frames = append(frames, Frame{Index: n, Path: filepath.Join(dir, name)})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })
	return frames, nil
}
