package diffusion

import (
	"errors"
	"testing"
)

func TestBucketAt(t *testing.T) {
	for i := range Resolutions {
		res, err := BucketAt(i)
		if err != nil {
			t.Fatalf("index %d: %v", i, err)
		}
		if res.Width <= 0 || res.Height <= 0 {
			t.Errorf("index %d: non-positive resolution %v", i, res)
		}
		if res.Width%LatentScale != 0 || res.Height%LatentScale != 0 {
			t.Errorf("index %d: %v not divisible by latent scale", i, res)
		}
	}
}

func TestBucketAtDefault(t *testing.T) {
	res, err := BucketAt(DefaultBucket)
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != 1024 || res.Height != 1024 {
		t.Errorf("default bucket = %v, want 1024x1024", res)
	}
}

func TestBucketAtOutOfRange(t *testing.T) {
	for _, index := range []int{-1, len(Resolutions), len(Resolutions) + 5} {
		if _, err := BucketAt(index); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("index %d: err = %v, want ErrInvalidParameter", index, err)
		}
	}
}

func TestResolutionLatentDims(t *testing.T) {
	res := Resolution{Width: 1024, Height: 512}
	if got := res.LatentWidth(); got != 128 {
		t.Errorf("LatentWidth = %d, want 128", got)
	}
	if got := res.LatentHeight(); got != 64 {
		t.Errorf("LatentHeight = %d, want 64", got)
	}
}
