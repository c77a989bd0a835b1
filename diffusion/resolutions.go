package diffusion

import "fmt"

const (
	// LatentChannels is the channel count of the compressed latent space.
	LatentChannels = 4

	// LatentScale is the spatial compression factor between pixel space
	// and latent space.
	LatentScale = 8

	// DefaultBucket indexes the square entry of the resolution table.
	DefaultBucket = 8
)

// Resolution is a supported output size in pixels.
type Resolution struct {
	Width  int
	Height int
}

// LatentWidth returns the latent-space width for the resolution.
func (r Resolution) LatentWidth() int { return r.Width / LatentScale }

// LatentHeight returns the latent-space height for the resolution.
func (r Resolution) LatentHeight() int { return r.Height / LatentScale }

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Resolutions is the fixed table of supported generation sizes. Every
// entry is a multiple of LatentScale on both axes. The table is ordered
// from tallest to widest aspect with the square bucket in the middle.
var Resolutions = [...]Resolution{
	{512, 2048},
	{576, 1792},
	{640, 1600},
	{704, 1408},
	{768, 1344},
	{832, 1216},
	{896, 1152},
	{960, 1088},
	{1024, 1024},
	{1088, 960},
	{1152, 896},
	{1216, 832},
	{1344, 768},
	{1408, 704},
	{1600, 640},
	{1792, 576},
	{2048, 512},
}

// BucketAt returns the table entry at index.
func BucketAt(index int) (Resolution, error) {
	if index < 0 || index >= len(Resolutions) {
		return Resolution{}, fmt.Errorf("%w: resolution index %d outside table of %d entries",
			ErrInvalidParameter, index, len(Resolutions))
	}

	return Resolutions[index], nil
}
