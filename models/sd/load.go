package sd

import (
	"fmt"

	"github.com/lumenml/lumen/diffusion"
	"github.com/lumenml/lumen/ml"
	"github.com/lumenml/lumen/tokenizer"
)

// Checkpoint layout inside a model directory.
const (
	embedderConfig = "embedder/config.json"
	embedderModel  = "embedder/model.safetensors"
	diffuserConfig = "diffuser/config.json"
	diffuserModel  = "diffuser/model.safetensors"
	decoderConfig  = "latent_decoder/config.json"
	decoderModel   = "latent_decoder/model.safetensors"
	vocabFile      = "tokenizer/vocab.json"
	mergesFile     = "tokenizer/merges.txt"
)

// Loader loads the three pipeline stages from a model directory. It
// satisfies diffusion.StageLoader; each Load call materializes one
// sub-model's weights into the caller's compute context and the
// underlying checkpoint file is closed before returning.
type Loader struct {
	manifest *Manifest
}

// NewLoader opens the model directory at dir.
func NewLoader(dir string) (*Loader, error) {
	m, err := OpenManifest(dir)
	if err != nil {
		return nil, err
	}

	return &Loader{manifest: m}, nil
}

// Name returns the model's configured name, or its directory.
func (l *Loader) Name() string {
	if l.manifest.Config.Name != "" {
		return l.manifest.Config.Name
	}

	return l.manifest.Dir
}

func (l *Loader) LoadEmbedder(ctx ml.Context) (diffusion.TextEncoder, diffusion.Tokenizer, error) {
	var cfg TextEncoderConfig
	if err := l.manifest.ReadConfig(embedderConfig, &cfg); err != nil {
		return nil, nil, err
	}

	tok, err := tokenizer.New(l.manifest.Path(vocabFile), l.manifest.Path(mergesFile))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", diffusion.ErrModelLoad, err)
	}

	file, err := l.manifest.OpenWeights(embedderModel)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	w := &weights{ctx: ctx, file: file}
	encoder := newTextEncoder(w, cfg)
	if err := w.check("embedder"); err != nil {
		return nil, nil, err
	}

	return encoder, tok, nil
}

func (l *Loader) LoadDenoiser(ctx ml.Context) (diffusion.Denoiser, error) {
	var cfg DenoiserConfig
	if err := l.manifest.ReadConfig(diffuserConfig, &cfg); err != nil {
		return nil, err
	}
	if cfg.InChannels != diffusion.LatentChannels || cfg.OutChannels != diffusion.LatentChannels {
		return nil, fmt.Errorf("%w: diffuser channels %d/%d, want %d",
			diffusion.ErrModelLoad, cfg.InChannels, cfg.OutChannels, diffusion.LatentChannels)
	}

	file, err := l.manifest.OpenWeights(diffuserModel)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	w := &weights{ctx: ctx, file: file}
	unet := newUNet(w, cfg)
	if err := w.check("diffuser"); err != nil {
		return nil, err
	}

	return unet, nil
}

func (l *Loader) LoadDecoder(ctx ml.Context) (diffusion.Decoder, error) {
	var cfg DecoderConfig
	if err := l.manifest.ReadConfig(decoderConfig, &cfg); err != nil {
		return nil, err
	}
	if upsample := 1 << (len(cfg.BlockChannels) - 1); upsample != diffusion.LatentScale {
		return nil, fmt.Errorf("%w: latent decoder upsamples %dx, want %dx",
			diffusion.ErrModelLoad, upsample, diffusion.LatentScale)
	}

	file, err := l.manifest.OpenWeights(decoderModel)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	w := &weights{ctx: ctx, file: file}
	vae := newVAEDecoder(w, cfg)
	if err := w.check("latent decoder"); err != nil {
		return nil, err
	}

	return vae, nil
}
