package fingerprint

import (
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Position is the pixel offset (row, column) of a tile's top-left corner.
// It serialises as a two-element array, the layout stored in the registry.
type Position struct {
	Row int
	Col int
}

func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Row, p.Col})
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var pair [2]int
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("fingerprint: position: %w", err)
	}
	p.Row, p.Col = pair[0], pair[1]
	return nil
}

// Block is one tile of a sliced grayscale image. Tile bounds start at (0,0).
type Block struct {
	Pos  Position
	Tile *image.Gray
}

// DecodeImage parses r as any registered image format.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// LoadImage opens and decodes the image at path.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: open: %w", err)
	}
	defer f.Close()
	return DecodeImage(f)
}

// Grayscale converts img to an 8-bit luma grid anchored at (0,0).
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// SliceImage partitions gray into blockSize×blockSize tiles in row-major
// order. Tiles on the right and bottom edges are truncated to the pixels
// that remain.
func SliceImage(gray *image.Gray, blockSize int) ([]Block, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("fingerprint: invalid block size %d", blockSize)
	}
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	blocks := make([]Block, 0, ((h+blockSize-1)/blockSize)*((w+blockSize-1)/blockSize))
	for y := 0; y < h; y += blockSize {
		for x := 0; x < w; x += blockSize {
			r := image.Rect(x, y, min(x+blockSize, w), min(y+blockSize, h)).Add(b.Min)
			tile := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
			draw.Draw(tile, tile.Bounds(), gray, r.Min, draw.Src)
			blocks = append(blocks, Block{Pos: Position{Row: y, Col: x}, Tile: tile})
		}
	}
	return blocks, nil
}

// Pixels returns the tile's pixels row by row with any stride padding
// removed. This is the block payload kept in the block store.
func Pixels(tile *image.Gray) []byte {
	b := tile.Bounds()
	w := b.Dx()
	out := make([]byte, 0, w*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := tile.PixOffset(b.Min.X, y)
		out = append(out, tile.Pix[off:off+w]...)
	}
	return out
}

// DigestBlock hashes the tile's pixels row by row.
func (a Algorithm) DigestBlock(tile *image.Gray) string {
	return a.Sum(Pixels(tile))
}

// DigestBlocks returns the digest and position of every block, in order.
func (a Algorithm) DigestBlocks(blocks []Block) (digests []string, positions []Position) {
	digests = make([]string, len(blocks))
	positions = make([]Position, len(blocks))
	for i, blk := range blocks {
		digests[i] = a.DigestBlock(blk.Tile)
		positions[i] = blk.Pos
	}
	return digests, positions
}
