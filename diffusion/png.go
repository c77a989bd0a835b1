package diffusion

import (
	"fmt"
	"image"
	"image/png"
	"os"
)

// SaveImages writes each RGB8 buffer as a PNG named <basepath><index>.png.
func SaveImages(images [][]byte, basepath string, width, height int) error {
	for i, data := range images {
		if len(data) != 3*width*height {
			return fmt.Errorf("%w: image %d has %d bytes, want %d for %dx%d RGB",
				ErrInvalidParameter, i, len(data), 3*width*height, width, height)
		}

		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for p := 0; p < width*height; p++ {
			img.Pix[p*4+0] = data[p*3+0]
			img.Pix[p*4+1] = data[p*3+1]
			img.Pix[p*4+2] = data[p*3+2]
			img.Pix[p*4+3] = 0xff
		}

		path := fmt.Sprintf("%s%d.png", basepath, i)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return fmt.Errorf("encode %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	return nil
}
