// Package sd implements the stable-diffusion sub-models behind the
// pipeline's collaborator interfaces: the CLIP text embedder with its
// resolution channel path, the UNet denoiser, and the VAE latent decoder.
// Models load from a directory manifest of per-stage config.json and
// safetensors checkpoint pairs.
package sd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lumenml/lumen/diffusion"
	"github.com/lumenml/lumen/safetensors"
)

// Architecture identifies checkpoints this package can load.
const Architecture = "sd"

// ModelConfig is the top-level config.json of a model directory.
type ModelConfig struct {
	Architecture string `json:"architecture"`
	Name         string `json:"name,omitempty"`
}

// TextEncoderConfig configures the CLIP text transformer and the
// resolution channel embedding path.
type TextEncoderConfig struct {
	VocabSize        int     `json:"vocab_size"`
	HiddenSize       int     `json:"hidden_size"`
	IntermediateSize int     `json:"intermediate_size"`
	NumLayers        int     `json:"num_hidden_layers"`
	NumHeads         int     `json:"num_attention_heads"`
	MaxPositions     int     `json:"max_position_embeddings"`
	LayerNormEps     float32 `json:"layer_norm_eps"`

	// ChannelDim is the width of the resolution channel embedding;
	// ChannelFreqDim is the sinusoidal frequency count per metadata value.
	ChannelDim     int `json:"channel_dim"`
	ChannelFreqDim int `json:"channel_freq_dim"`
}

// DenoiserConfig configures the UNet.
type DenoiserConfig struct {
	InChannels        int   `json:"in_channels"`
	OutChannels       int   `json:"out_channels"`
	ModelChannels     int   `json:"model_channels"`
	ChannelMult       []int `json:"channel_mult"`
	NumHeads          int   `json:"num_attention_heads"`
	ContextDim        int   `json:"context_dim"`
	ChannelContextDim int   `json:"channel_context_dim"`
	NormGroups        int   `json:"norm_num_groups"`
}

// DecoderConfig configures the VAE decoder.
type DecoderConfig struct {
	LatentChannels int     `json:"latent_channels"`
	BlockChannels  []int   `json:"block_out_channels"`
	LayersPerBlock int     `json:"layers_per_block"`
	NormGroups     int     `json:"norm_num_groups"`
	ScalingFactor  float32 `json:"scaling_factor"`
}

// Manifest is an opened model directory.
type Manifest struct {
	Dir    string
	Config ModelConfig
}

// OpenManifest reads and validates the top-level config of a model
// directory.
func OpenManifest(dir string) (*Manifest, error) {
	m := &Manifest{Dir: dir}
	if err := m.ReadConfig("config.json", &m.Config); err != nil {
		return nil, err
	}

	if m.Config.Architecture != Architecture {
		return nil, fmt.Errorf("%w: unsupported architecture %q in %s",
			diffusion.ErrModelLoad, m.Config.Architecture, dir)
	}

	return m, nil
}

// Path resolves a manifest-relative path.
func (m *Manifest) Path(rel string) string {
	return filepath.Join(m.Dir, rel)
}

// ReadConfig unmarshals a manifest-relative JSON file into v.
func (m *Manifest) ReadConfig(rel string, v any) error {
	blob, err := os.ReadFile(m.Path(rel))
	if err != nil {
		return fmt.Errorf("%w: %w", diffusion.ErrModelLoad, err)
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return fmt.Errorf("%w: parse %s: %w", diffusion.ErrModelLoad, rel, err)
	}

	return nil
}

// OpenWeights opens a manifest-relative safetensors checkpoint.
func (m *Manifest) OpenWeights(rel string) (*safetensors.File, error) {
	f, err := safetensors.Open(m.Path(rel))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", diffusion.ErrModelLoad, err)
	}

	return f, nil
}
