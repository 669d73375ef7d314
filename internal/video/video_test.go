package video_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/video"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

// writeGIF writes an animated GIF whose i-th frame is filled with the palette
// colour shades[i].
func writeGIF(t *testing.T, path string, shades []uint8) {
	t.Helper()
	g := &gif.GIF{}
	for _, s := range shades {
		frame := image.NewPaletted(image.Rect(0, 0, 16, 12), palette.Plan9)
		for i := range frame.Pix {
			frame.Pix[i] = s
		}
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 4)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gif.EncodeAll(f, g))
}

func sequence(n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = uint8(i * 17)
	}
	return out
}

func newExtractor(t *testing.T) *video.Extractor {
	return &video.Extractor{
		Codecs:   video.NewCodecs("ffmpeg"),
		Root:     filepath.Join(t.TempDir(), "frames"),
		Interval: 5,
	}
}

func TestExtract_KeepsEveryFifthFrame(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.gif")
	writeGIF(t, src, sequence(12))
	ex := newExtractor(t)

	frames, err := ex.Extract(context.Background(), src, "clip-1")
	require.NoError(t, err)
	require.Len(t, frames, 3, "frames 0, 5 and 10 are kept")

	dir, err := ex.Dir("clip-1")
	require.NoError(t, err)
	for i, f := range frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("frame_%d.png", i)), f.Path)

		data, err := os.ReadFile(f.Path)
		require.NoError(t, err)
		sum := sha256.Sum256(data)
		assert.Equal(t, hex.EncodeToString(sum[:]), f.Digest, "digest covers the stored PNG bytes")
	}
	assert.True(t, ex.HasFrames("clip-1"))
}

func TestSample_MatchesExtract(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.gif")
	writeGIF(t, src, sequence(12))
	ex := newExtractor(t)

	frames, err := ex.Extract(context.Background(), src, "clip")
	require.NoError(t, err)
	digests, err := ex.Sample(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, digests, len(frames))
	for i := range frames {
		assert.Equal(t, frames[i].Digest, digests[i])
	}
}

func TestSample_DetectsChangedFrame(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "orig.gif")
	edited := filepath.Join(dir, "edited.gif")
	shades := sequence(12)
	writeGIF(t, orig, shades)
	shades[5] = 200
	writeGIF(t, edited, shades)

	ex := newExtractor(t)
	a, err := ex.Sample(context.Background(), orig)
	require.NoError(t, err)
	b, err := ex.Sample(context.Background(), edited)
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0])
	assert.NotEqual(t, a[1], b[1])
	assert.Equal(t, a[2], b[2])
}

func TestExtract_IsAllOrNothing(t *testing.T) {
	src := filepath.Join(t.TempDir(), "broken.gif")
	require.NoError(t, os.WriteFile(src, []byte("GIF89a but not really"), 0o644))
	ex := newExtractor(t)

	_, err := ex.Extract(context.Background(), src, "broken")
	assert.ErrorIs(t, err, fingerprint.ErrDecode)
	assert.False(t, ex.HasFrames("broken"))

	entries, err := os.ReadDir(ex.Root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp directory left behind")
}

func TestExtract_RefusesExistingDirectory(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.gif")
	writeGIF(t, src, sequence(6))
	ex := newExtractor(t)

	_, err := ex.Extract(context.Background(), src, "dup")
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), src, "dup")
	assert.Error(t, err)
}

func TestDir_EscapesReferenceID(t *testing.T) {
	ex := &video.Extractor{Root: "/frames"}

	dir, err := ex.Dir("case/2024")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/frames", "case%2F2024"), dir)

	for _, bad := range []string{"", ".", ".."} {
		_, err := ex.Dir(bad)
		assert.Error(t, err, "ref id %q", bad)
	}
}

func TestFrameFiles_SortsNumerically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_10.png", "frame_2.png", "frame_1.png", "notes.txt", "frame_x.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	frames, err := video.FrameFiles(dir)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{frames[0].Index, frames[1].Index, frames[2].Index})
}

func TestAssemble_GIF(t *testing.T) {
	src := filepath.Join(t.TempDir(), "clip.gif")
	writeGIF(t, src, sequence(11))
	ex := newExtractor(t)
	_, err := ex.Extract(context.Background(), src, "clip")
	require.NoError(t, err)
	dir, err := ex.Dir("clip")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "rebuilt.gif")
	asm := &video.Assembler{Codecs: video.NewCodecs("ffmpeg")}
	require.NoError(t, asm.Assemble(context.Background(), dir, out, 0))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(t, g.Image, 3)
	assert.Equal(t, 16, g.Config.Width)
	assert.Equal(t, 12, g.Config.Height)
	assert.Equal(t, 100/video.DefaultFPS, g.Delay[0])
}

func TestAssemble_NoFrames(t *testing.T) {
	asm := &video.Assembler{Codecs: video.NewCodecs("ffmpeg")}
	out := filepath.Join(t.TempDir(), "out.gif")

	err := asm.Assemble(context.Background(), t.TempDir(), out, 6)
	assert.ErrorIs(t, err, video.ErrNoFrames)

	err = asm.Assemble(context.Background(), filepath.Join(t.TempDir(), "missing"), out, 6)
	assert.ErrorIs(t, err, video.ErrNoFrames)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}
