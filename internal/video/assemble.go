package video

import (
	"context"
	"fmt"
)

// Assembler turns a frame directory back into a video.
type Assembler struct {
	Codecs Codecs
}

// Assemble encodes every frame in framesDir, in index order, to outputPath.
// The container is chosen from outputPath's extension; fps <= 0 means
// DefaultFPS.
func (a *Assembler) Assemble(ctx context.Context, framesDir, outputPath string, fps int) error {
	frames, err := FrameFiles(framesDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w: %s", ErrNoFrames, framesDir)
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.Path
	}
	return a.Codecs.For(outputPath).Encode(ctx, paths, outputPath, fps)
}
