package recovery_test

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/recovery"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/storage"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/compare"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
)

const blockSize = 32

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8(x + y), A: 255})
		}
	}
	return img
}

type fixture struct {
	store    *storage.FSStore
	original *image.Gray
	stored   []string
}

// register slices img and keeps every tile in a fresh block store.
func register(t *testing.T, img image.Image) fixture {
	t.Helper()
	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	gray := fingerprint.Grayscale(img)
	blocks, err := fingerprint.SliceImage(gray, blockSize)
	require.NoError(t, err)
	digests, _ := fingerprint.SHA256.DigestBlocks(blocks)
	for i, b := range blocks {
		require.NoError(t, store.Put(context.Background(), digests[i], fingerprint.Pixels(b.Tile)))
	}
	return fixture{store: store, original: gray, stored: digests}
}

func tamper(img *image.RGBA) {
	for y := 4; y < 12; y++ {
		for x := 36; x < 44; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 10, G: 200, B: 10, A: 255})
		}
	}
}

func analyse(t *testing.T, img image.Image, stored []string) recovery.Input {
	t.Helper()
	gray := fingerprint.Grayscale(img)
	blocks, err := fingerprint.SliceImage(gray, blockSize)
	require.NoError(t, err)
	current, positions := fingerprint.SHA256.DigestBlocks(blocks)
	res := compare.Compare(current, stored)
	return recovery.Input{Color: img, Gray: gray, Tampered: res.Tampered, Positions: positions, Stored: stored}
}

func TestRecover_RestoresTamperedTile(t *testing.T) {
	img := gradient(64, 64)
	fx := register(t, img)

	tamper(img)
	in := analyse(t, img, fx.stored)
	require.Equal(t, []int{1}, in.Tampered)

	e := &recovery.Engine{Blocks: fx.store, BlockSize: blockSize}
	out, err := e.Recover(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Restored)
	assert.Equal(t, 0, out.Void)
	assert.Equal(t, fx.original.Pix, out.Clean.Pix, "clean view must equal the registered image")
}

func TestRecover_ForensicMarksOnlyTamperedTiles(t *testing.T) {
	img := gradient(64, 64)
	fx := register(t, img)
	tamper(img)

	e := &recovery.Engine{Blocks: fx.store, BlockSize: blockSize}
	out, err := e.Recover(context.Background(), analyse(t, img, fx.stored))
	require.NoError(t, err)

	red := color.RGBA{R: 0xff, A: 0xff}
	assert.Equal(t, red, out.Forensic.RGBAAt(32, 0), "outline top-left")
	assert.Equal(t, red, out.Forensic.RGBAAt(33, 1), "outline is two pixels wide")
	assert.Equal(t, red, out.Forensic.RGBAAt(63, 31), "outline bottom-right")
	assert.Equal(t, red, out.Forensic.RGBAAt(47, 15), "diagonal")

	assert.Equal(t, img.RGBAAt(40, 5), out.Forensic.RGBAAt(40, 5), "interior keeps the current pixels")
	assert.Equal(t, img.RGBAAt(0, 0), out.Forensic.RGBAAt(0, 0), "untampered tile unchanged")
	assert.Equal(t, img.RGBAAt(31, 31), out.Forensic.RGBAAt(31, 31))
}

func TestRecover_MissingPayloadLeavesVoid(t *testing.T) {
	img := gradient(64, 64)
	fx := register(t, img)
	tamper(img)

	empty, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	e := &recovery.Engine{Blocks: empty, BlockSize: blockSize}
	out, err := e.Recover(context.Background(), analyse(t, img, fx.stored))
	require.NoError(t, err)

	assert.Equal(t, 0, out.Restored)
	assert.Equal(t, 1, out.Void)
	for y := 0; y < 32; y++ {
		for x := 32; x < 64; x++ {
			require.Equal(t, uint8(0), out.Clean.GrayAt(x, y).Y, "void tile must stay black at (%d,%d)", x, y)
		}
	}
	assert.Equal(t, fx.original.GrayAt(5, 5), out.Clean.GrayAt(5, 5))
}

func TestRecover_CorruptPayloadIsVoid(t *testing.T) {
	img := gradient(64, 64)
	fx := register(t, img)
	tamper(img)

	// Overwrite the stored payload of tile 1 with different bytes.
	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), fx.stored[1], make([]byte, blockSize*blockSize)))

	e := &recovery.Engine{Blocks: store, BlockSize: blockSize}
	out, err := e.Recover(context.Background(), analyse(t, img, fx.stored))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Void)
}

func TestRecover_PartialEdgeTiles(t *testing.T) {
	img := gradient(70, 40)
	fx := register(t, img)
	for y := 33; y < 40; y++ {
		img.SetRGBA(68, y, color.RGBA{A: 255})
	}

	in := analyse(t, img, fx.stored)
	require.Equal(t, []int{5}, in.Tampered)

	e := &recovery.Engine{Blocks: fx.store, BlockSize: blockSize}
	out, err := e.Recover(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Restored)
	assert.Equal(t, fx.original.Pix, out.Clean.Pix)
}

func TestRecover_ShapeMismatch(t *testing.T) {
	e := &recovery.Engine{BlockSize: blockSize}
	img := gradient(64, 64)
	gray := fingerprint.Grayscale(gradient(32, 32))

	_, err := e.Recover(context.Background(), recovery.Input{Color: img, Gray: gray})
	assert.ErrorIs(t, err, recovery.ErrShapeMismatch)

	_, err = e.Recover(context.Background(), recovery.Input{
		Color:     img,
		Gray:      fingerprint.Grayscale(img),
		Tampered:  []int{7},
		Positions: []fingerprint.Position{{Row: 0, Col: 0}},
	})
	assert.ErrorIs(t, err, recovery.ErrShapeMismatch)
}

func TestWritePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "forensic.png")
	require.NoError(t, recovery.WritePNG(path, gradient(4, 4)))

	img, err := fingerprint.LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}
