package diffusion

import (
	"fmt"

	"github.com/lumenml/lumen/ml"
)

// Decoder is the latent decoding collaborator. Decode maps a latent
// [batch, LatentChannels, h, w] to pixel space [batch, 3, H, W] with
// values in [0, 1].
type Decoder interface {
	Decode(ctx ml.Context, latent ml.Tensor) (ml.Tensor, error)
}

// ImageResult holds decoded images as packed RGB8 buffers, one per batch
// element, with their shared dimensions.
type ImageResult struct {
	Buffer [][]byte
	Width  int
	Height int
}

// LatentDecoder is the final pipeline stage.
type LatentDecoder struct {
	Decoder Decoder
}

// LatentToImage decodes the latent and packs each batch element into an
// RGB8 byte buffer. A decoder output without exactly three channels is an
// error.
func (d *LatentDecoder) LatentToImage(mc ml.Context, latent ml.Tensor) (*ImageResult, error) {
	pixels, err := d.Decoder.Decode(mc, latent)
	if err != nil {
		return nil, err
	}
	if len(pixels.Shape()) != 4 {
		return nil, fmt.Errorf("%w: decoder returned rank %d tensor, want 4",
			ErrShapeMismatch, len(pixels.Shape()))
	}
	if pixels.Dim(1) != 3 {
		return nil, fmt.Errorf("%w: decoder returned %d channels, want 3",
			ErrShapeMismatch, pixels.Dim(1))
	}

	batch, height, width := pixels.Dim(0), pixels.Dim(2), pixels.Dim(3)
	values := pixels.Floats()

	buffers := make([][]byte, batch)
	plane := height * width
	for b := 0; b < batch; b++ {
		buf := make([]byte, 3*plane)
		base := b * 3 * plane
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				for c := 0; c < 3; c++ {
					v := values[base+c*plane+y*width+x]
					buf[(y*width+x)*3+c] = packByte(v)
				}
			}
		}
		buffers[b] = buf
	}

	return &ImageResult{Buffer: buffers, Width: width, Height: height}, nil
}

func packByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}

	return byte(v*255 + 0.5)
}
