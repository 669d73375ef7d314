package seal_test

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/ledger"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/seal"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/storage"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/video"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/fingerprint"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

type alert struct {
	subject, severity, message string
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert
}

func (n *recordingNotifier) SendAlert(_ context.Context, subject, severity, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert{subject, severity, message})
	return nil
}

func (n *recordingNotifier) all() []alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alert(nil), n.alerts...)
}

type fixture struct {
	svc          *seal.Service
	dir          string
	ledgerPath   string
	registryPath string
	notifier   *recordingNotifier
	extractor  *video.Extractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test wrap the ledger store, for example to make
// appends fail.
func newFixtureWith(t *testing.T, wrap func(ledger.Store) ledger.Store) *fixture {
	t.Helper()
	dir := t.TempDir()
	blocks, err := storage.NewFSStore(filepath.Join(dir, "blocks"))
	require.NoError(t, err)

	codecs := video.NewCodecs("ffmpeg")
	f := &fixture{
		dir:          dir,
		ledgerPath:   filepath.Join(dir, "ledger.json"),
		registryPath: filepath.Join(dir, "registry.json"),
		notifier:     &recordingNotifier{},
		extractor:    &video.Extractor{Codecs: codecs, Root: filepath.Join(dir, "frames")},
	}
	var ledgerStore ledger.Store = ledger.NewFileStore(f.ledgerPath)
	if wrap != nil {
		ledgerStore = wrap(ledgerStore)
	}
	f.svc = seal.New(seal.Deps{
		Registry:  registry.NewFileStore(f.registryPath, registry.CorruptFail, nil),
		Ledger:    ledger.New(ledgerStore, nil),
		Blocks:    blocks,
		Extractor: f.extractor,
		Assembler: &video.Assembler{Codecs: codecs},
		Notifier:  f.notifier,
	}, seal.Options{
		BlockSize:      32,
		SampleInterval: 5,
		OutputsDir:     filepath.Join(dir, "outputs"),
	})
	return f
}

func gradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*3 + y*5) % 256)})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image, level png.CompressionLevel) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc := &png.Encoder{CompressionLevel: level}
	require.NoError(t, enc.Encode(f, img))
}

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

func shades(n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = uint8(i * 17)
	}
	return out
}

func (f *fixture) registerImage(t *testing.T, refID string, img image.Image) string {
	t.Helper()
	path := filepath.Join(f.dir, refID+".png")
	writePNG(t, path, img, png.DefaultCompression)
	res, err := f.svc.RegisterImage(context.Background(), seal.RegisterRequest{RefID: refID, Path: path, Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, models.StatusRegistered, res.Status)
	return path
}

// ── Images ──────────────────────────────────────────────────────────────────

func TestRegisterImage_Result(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "photo.png")
	writePNG(t, path, gradient(64, 64), png.DefaultCompression)

	res, err := f.svc.RegisterImage(context.Background(), seal.RegisterRequest{RefID: "IMG-1", Path: path, Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, res.Status)
	assert.Equal(t, "IMG-1", res.RefID)
	assert.Equal(t, models.MediaImage, res.MediaType)
	assert.Equal(t, "photo.png", res.Filename)
	assert.Equal(t, 4, res.TotalBlocks)
	assert.Equal(t, int64(1), res.BlockIndex, "first entry after genesis")
	assert.Len(t, res.SHA, 64)
	assert.NotEmpty(t, res.MerkleRoot)
}

func TestVerifyImage_Authentic(t *testing.T) {
	f := newFixture(t)
	path := f.registerImage(t, "IMG-1", gradient(64, 64))

	res, err := f.svc.VerifyImage(context.Background(), seal.VerifyRequest{Path: path, OriginalFilename: "copy.png"})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyAuthentic, res.Status)
	assert.Equal(t, "IMG-1", res.Details.MatchedID)
	assert.Equal(t, "alice", res.Details.Owner)
	assert.Equal(t, "copy.png", res.Details.IncomingName)
	assert.Zero(t, res.Details.TamperScore)
	assert.Empty(t, f.notifier.all())
}

func TestVerifyImage_TamperedBlockRestored(t *testing.T) {
	f := newFixture(t)
	original := gradient(64, 64)
	f.registerImage(t, "IMG-1", original)

	edited := image.NewGray(original.Bounds())
	copy(edited.Pix, original.Pix)
	for _, p := range []image.Point{{1, 1}, {2, 2}, {3, 3}, {4, 4}} {
		edited.SetGray(p.X, p.Y, color.Gray{Y: 255})
	}
	path := filepath.Join(f.dir, "edited.png")
	writePNG(t, path, edited, png.DefaultCompression)

	res, err := f.svc.VerifyImage(context.Background(), seal.VerifyRequest{RefID: "IMG-1", Path: path})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyTampered, res.Status)
	assert.Equal(t, []int{0}, res.Details.TamperedBlocks)
	assert.Equal(t, 25.0, res.Details.TamperScore)
	assert.True(t, res.Details.CanReconstruct)
	assert.Equal(t, 1, res.Details.RestoredBlocks)
	assert.Zero(t, res.Details.VoidBlocks)

	clean, err := fingerprint.LoadImage(res.Details.CleanPath)
	require.NoError(t, err)
	assert.Equal(t, original.Pix, fingerprint.Grayscale(clean).Pix)
	assert.FileExists(t, res.Details.ForensicPath)

	alerts := f.notifier.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "IMG-1", alerts[0].subject)
}

func TestVerifyImage_SingleBlockImage(t *testing.T) {
	f := newFixture(t)
	original := gradient(16, 16)
	f.registerImage(t, "small", original)

	edited := image.NewGray(original.Bounds())
	copy(edited.Pix, original.Pix)
	for i := 0; i < 4; i++ {
		edited.Pix[i] ^= 0xff
	}
	path := filepath.Join(f.dir, "small-edited.png")
	writePNG(t, path, edited, png.DefaultCompression)

	res, err := f.svc.VerifyImage(context.Background(), seal.VerifyRequest{RefID: "small", Path: path})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyTampered, res.Status)
	assert.Equal(t, 100.0, res.Details.TamperScore)
	assert.Equal(t, []int{0}, res.Details.TamperedBlocks)

	clean, err := fingerprint.LoadImage(res.Details.CleanPath)
	require.NoError(t, err)
	assert.Equal(t, original.Pix, fingerprint.Grayscale(clean).Pix)
}

func TestVerifyImage_MetadataOnly(t *testing.T) {
	f := newFixture(t)
	original := gradient(64, 64)
	f.registerImage(t, "IMG-1", original)

	path := filepath.Join(f.dir, "recompressed.png")
	writePNG(t, path, original, png.NoCompression)

	res, err := f.svc.VerifyImage(context.Background(), seal.VerifyRequest{RefID: "IMG-1", Path: path})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyAuthentic, res.Status)
	assert.NotEqual(t, res.Details.ExpectedSHA, res.Details.SHA)
	assert.Contains(t, res.Message, "metadata")
}

func TestVerifyImage_Unregistered(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "unknown.png")
	writePNG(t, path, gradient(32, 32), png.DefaultCompression)

	res, err := f.svc.VerifyImage(context.Background(), seal.VerifyRequest{Path: path, OriginalFilename: "unknown.png"})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyUnregistered, res.Status)
	assert.Len(t, res.Details.SHA, 64)
	assert.Equal(t, "unknown.png", res.Details.IncomingName)
}

func TestVerifyImage_MissingBlocksVoid(t *testing.T) {
	f := newFixture(t)
	original := gradient(64, 64)
	f.registerImage(t, "IMG-1", original)
	require.NoError(t, os.RemoveAll(filepath.Join(f.dir, "blocks")))

	edited := image.NewGray(original.Bounds())
	copy(edited.Pix, original.Pix)
	edited.SetGray(40, 40, color.Gray{Y: 0xff})
	path := filepath.Join(f.dir, "edited.png")
	writePNG(t, path, edited, png.DefaultCompression)

	res, err := f.svc.VerifyImage(context.Background(), seal.VerifyRequest{RefID: "IMG-1", Path: path})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyTampered, res.Status)
	assert.Equal(t, []int{3}, res.Details.TamperedBlocks)
	assert.Equal(t, 1, res.Details.VoidBlocks)
	assert.Zero(t, res.Details.RestoredBlocks)
}

// ── Registration errors ─────────────────────────────────────────────────────

func TestRegister_Duplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.registerImage(t, "IMG-1", gradient(64, 64))

	_, err := f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: "IMG-1", Path: path})
	assert.ErrorIs(t, err, registry.ErrDuplicateReference)

	_, err = f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: "IMG-2", Path: path})
	require.ErrorIs(t, err, registry.ErrDuplicateMedia)
	res := seal.RegistrationFailure(err)
	assert.Equal(t, models.StatusDuplicate, res.Status)
	assert.Equal(t, "IMG-1", res.ExistingRef)

	entries, err := ledger.ReadFile(f.ledgerPath)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "rejected registrations leave no ledger entry")
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: " ", Path: "x.png"})
	assert.ErrorIs(t, err, seal.ErrValidation)

	_, err = f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: "A", Path: filepath.Join(f.dir, "missing.png")})
	assert.ErrorIs(t, err, seal.ErrValidation)

	res := seal.RegistrationFailure(err)
	assert.Equal(t, models.StatusError, res.Status)
}

func TestRegisterImage_Undecodable(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "notes.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := f.svc.RegisterImage(context.Background(), seal.RegisterRequest{RefID: "A", Path: path})
	assert.ErrorIs(t, err, fingerprint.ErrDecode)
}

// ── Video ───────────────────────────────────────────────────────────────────

func (f *fixture) registerGIF(t *testing.T, refID string) string {
	t.Helper()
	path := filepath.Join(f.dir, "clip.gif")
	writeGIF(t, path, shades(12))
	res, err := f.svc.RegisterVideo(context.Background(), seal.RegisterRequest{RefID: refID, Path: path, Owner: "bob"})
	require.NoError(t, err)
	require.Equal(t, models.StatusRegistered, res.Status)
	require.Equal(t, 3, res.TotalFrames)
	return path
}

func TestVerifyVideo_Authentic(t *testing.T) {
	f := newFixture(t)
	path := f.registerGIF(t, "VID-1")

	res, err := f.svc.VerifyVideo(context.Background(), seal.VerifyRequest{Path: path})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyAuthentic, res.Status)
	assert.Equal(t, "VID-1", res.Details.MatchedID)
}

func TestVerifyVideo_BytesChanged(t *testing.T) {
	f := newFixture(t)
	path := f.registerGIF(t, "VID-1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	padded := filepath.Join(f.dir, "padded.gif")
	require.NoError(t, os.WriteFile(padded, append(data, "trailing"...), 0o644))

	res, err := f.svc.VerifyVideo(context.Background(), seal.VerifyRequest{RefID: "VID-1", Path: padded})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyTampered, res.Status)
	assert.Equal(t, 100.0, res.Details.TamperScore)
	assert.False(t, res.Details.FrameLevel)
	assert.True(t, res.Details.CanReconstruct)
}

func TestVerifyVideo_FrameLevel(t *testing.T) {
	f := newFixture(t)
	f.registerGIF(t, "VID-1")

	changed := shades(12)
	changed[5] = 200
	path := filepath.Join(f.dir, "edited.gif")
	writeGIF(t, path, changed)

	res, err := f.svc.VerifyVideo(context.Background(), seal.VerifyRequest{Path: path, OriginalFilename: "clip.gif"})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyTampered, res.Status)
	assert.Equal(t, "VID-1", res.Details.MatchedID, "matched by original filename")
	assert.True(t, res.Details.FrameLevel)
	assert.Equal(t, []int{1}, res.Details.TamperedBlocks)
	assert.Equal(t, 33.33, res.Details.TamperScore)
}

func TestReconstructVideo(t *testing.T) {
	f := newFixture(t)
	f.registerGIF(t, "VID-1")

	out, err := f.svc.ReconstructVideo(context.Background(), "VID-1")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, ".gif"))
	assert.True(t, strings.HasPrefix(filepath.Base(out), "reconstructed_VID-1_"))

	file, err := os.Open(out)
	require.NoError(t, err)
	defer file.Close()
	g, err := gif.DecodeAll(file)
	require.NoError(t, err)
	assert.Len(t, g.Image, 3)
}

func TestReconstructVideo_Unavailable(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ReconstructVideo(context.Background(), "nothing")
	assert.ErrorIs(t, err, seal.ErrReconstructionUnavailable)

	_, err = f.svc.ReconstructVideo(context.Background(), "")
	assert.ErrorIs(t, err, seal.ErrValidation)
}

// ── Ledger ──────────────────────────────────────────────────────────────────

func TestValidateLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerImage(t, "IMG-1", gradient(64, 64))
	f.registerImage(t, "IMG-2", gradient(48, 48))

	report, err := f.svc.ValidateLedger(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, 3, report.Total)

	data, err := os.ReadFile(f.ledgerPath)
	require.NoError(t, err)
	var doc map[string]worm.Entry
	require.NoError(t, json.Unmarshal(data, &doc))
	e := doc["1"]
	e.Owner = "mallory"
	doc["1"] = e
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.ledgerPath, data, 0o644))

	report, err = f.svc.ValidateLedger(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, int64(1), report.BrokenAt)

	alerts := f.notifier.all()
	require.NotEmpty(t, alerts)
	assert.Equal(t, "ledger", alerts[len(alerts)-1].subject)
}

func (f *fixture) lookup(refID string) error {
	_, err := registry.NewFileStore(f.registryPath, registry.CorruptFail, nil).Lookup(context.Background(), refID)
	return err
}

func TestRegister_UnreadableLedgerWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(f.dir, "a.png")
	writePNG(t, path, gradient(64, 64), png.DefaultCompression)
	require.NoError(t, os.WriteFile(f.ledgerPath, []byte("{not json"), 0o644))

	_, err := f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: "A", Path: path, Owner: "alice"})
	require.ErrorIs(t, err, ledger.ErrCorrupt)
	assert.ErrorIs(t, f.lookup("A"), registry.ErrNotFound)

	require.NoError(t, os.Remove(f.ledgerPath))
	res, err := f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: "A", Path: path, Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRegistered, res.Status)
	assert.Equal(t, int64(1), res.BlockIndex)

	report, err := f.svc.ValidateLedger(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, 2, report.Total)
}

// flakyLedgerStore fails the first Append after the tail was read.
type flakyLedgerStore struct {
	ledger.Store
	failed bool
}

func (s *flakyLedgerStore) Append(ctx context.Context, entries ...worm.Entry) error {
	if !s.failed {
		s.failed = true
		return errors.New("disk full")
	}
	return s.Store.Append(ctx, entries...)
}

func TestRegister_LedgerAppendFailureWithdrawsRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("image", func(t *testing.T) {
		f := newFixtureWith(t, func(s ledger.Store) ledger.Store { return &flakyLedgerStore{Store: s} })
		path := filepath.Join(f.dir, "a.png")
		writePNG(t, path, gradient(64, 64), png.DefaultCompression)

		_, err := f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: "A", Path: path})
		require.ErrorContains(t, err, "disk full")
		assert.ErrorIs(t, f.lookup("A"), registry.ErrNotFound)

		res, err := f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: "A", Path: path})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.BlockIndex)
		assert.NoError(t, f.lookup("A"))
	})

	t.Run("video", func(t *testing.T) {
		f := newFixtureWith(t, func(s ledger.Store) ledger.Store { return &flakyLedgerStore{Store: s} })
		path := filepath.Join(f.dir, "clip.gif")
		writeGIF(t, path, shades(12))

		_, err := f.svc.RegisterVideo(ctx, seal.RegisterRequest{RefID: "V", Path: path})
		require.ErrorContains(t, err, "disk full")
		assert.ErrorIs(t, f.lookup("V"), registry.ErrNotFound)
		assert.False(t, f.extractor.HasFrames("V"), "frames of a withdrawn record are removed")

		res, err := f.svc.RegisterVideo(ctx, seal.RegisterRequest{RefID: "V", Path: path})
		require.NoError(t, err)
		assert.Equal(t, 3, res.TotalFrames)
	})
}

func TestRegister_TrimsReferenceID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(f.dir, "a.png")
	writePNG(t, path, gradient(64, 64), png.DefaultCompression)

	res, err := f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: " img-1 ", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "img-1", res.RefID)
	assert.NoError(t, f.lookup("img-1"))

	other := filepath.Join(f.dir, "b.png")
	writePNG(t, other, gradient(48, 48), png.DefaultCompression)
	_, err = f.svc.RegisterImage(ctx, seal.RegisterRequest{RefID: "img-1", Path: other})
	assert.ErrorIs(t, err, registry.ErrDuplicateReference)

	verified, err := f.svc.VerifyImage(ctx, seal.VerifyRequest{RefID: "img-1 ", Path: path})
	require.NoError(t, err)
	assert.Equal(t, models.VerifyAuthentic, verified.Status)
}
