// Package video samples frames out of video files, persists them per
// reference id and re-assembles stored frames into a playable stream.
package video

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"
)

// DefaultFPS approximately matches the default sample interval so that
// re-assembled footage plays at a perceptually normal speed.
const DefaultFPS = 6

// DefaultSampleInterval keeps every fifth decoded frame.
const DefaultSampleInterval = 5

var ErrNoFrames = errors.New("video: no frames")

// Codec decodes a container into frames and encodes frame images back into one.
type Codec interface {
	// Decode calls fn for every frame of the file at path, in order.
	// Returning an error from fn stops decoding.
	Decode(ctx context.Context, path string, fn func(index int, frame image.Image) error) error
	// Encode writes the frame images at frames, in order, to outputPath.
	Encode(ctx context.Context, frames []string, outputPath string, fps int) error
}

// Codecs picks a Codec by file extension. Animated GIFs are handled in
// process; everything else goes to Default.
type Codecs struct {
	GIF     Codec
	Default Codec
}

// NewCodecs returns the GIF codec plus an ffmpeg-backed default.
func NewCodecs(ffmpegPath string) Codecs {
	return Codecs{GIF: GIFCodec{}, Default: &FFmpegCodec{Path: ffmpegPath}}
}

func (c Codecs) For(path string) Codec {
	if IsGIF(path) && c.GIF != nil {
		return c.GIF
	}
	return c.Default
}

func IsGIF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gif")
}
