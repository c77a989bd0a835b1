// Package convert imports diffusers-style pipeline exports into the
// lumen model directory layout. The source checkpoint's unet carries the
// resolution channel MLP; conversion moves it into the embedder stage
// where lumen evaluates it.
package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"

	"github.com/lumenml/lumen/models/sd"
	"github.com/lumenml/lumen/safetensors"
)

// Convert reads a pipeline export at srcDir and writes a lumen model
// directory at dstDir.
func Convert(srcDir, dstDir string) error {
	unetTensors, err := parseTensors(filepath.Join(srcDir, "unet"))
	if err != nil {
		return fmt.Errorf("convert unet: %w", err)
	}

	if err := convertEmbedder(srcDir, dstDir, unetTensors); err != nil {
		return fmt.Errorf("convert embedder: %w", err)
	}
	if err := convertDiffuser(srcDir, dstDir, unetTensors); err != nil {
		return fmt.Errorf("convert diffuser: %w", err)
	}
	if err := convertDecoder(srcDir, dstDir); err != nil {
		return fmt.Errorf("convert latent decoder: %w", err)
	}
	if err := copyTokenizer(srcDir, dstDir); err != nil {
		return fmt.Errorf("convert tokenizer: %w", err)
	}

	return writeConfig(filepath.Join(dstDir, "config.json"), sd.ModelConfig{
		Architecture: sd.Architecture,
		Name:         filepath.Base(srcDir),
	})
}

type unetSourceConfig struct {
	InChannels           int   `json:"in_channels"`
	OutChannels          int   `json:"out_channels"`
	BlockOutChannels     []int `json:"block_out_channels"`
	NumAttentionHeads    int   `json:"num_attention_heads"`
	CrossAttentionDim    int   `json:"cross_attention_dim"`
	AdditionTimeEmbedDim int   `json:"addition_time_embed_dim"`
	NormNumGroups        int   `json:"norm_num_groups"`
}

func convertEmbedder(srcDir, dstDir string, unetTensors []*tensorData) error {
	var srcConfig struct {
		VocabSize             int     `json:"vocab_size"`
		HiddenSize            int     `json:"hidden_size"`
		IntermediateSize      int     `json:"intermediate_size"`
		NumHiddenLayers       int     `json:"num_hidden_layers"`
		NumAttentionHeads     int     `json:"num_attention_heads"`
		MaxPositionEmbeddings int     `json:"max_position_embeddings"`
		LayerNormEps          float32 `json:"layer_norm_eps"`
	}
	if err := readConfig(filepath.Join(srcDir, "text_encoder", "config.json"), &srcConfig); err != nil {
		return err
	}

	var unetConfig unetSourceConfig
	if err := readConfig(filepath.Join(srcDir, "unet", "config.json"), &unetConfig); err != nil {
		return err
	}

	ts, err := parseTensors(filepath.Join(srcDir, "text_encoder"))
	if err != nil {
		return err
	}

	var out []*tensorData
	for _, t := range ts {
		// position_ids is an index buffer, text_projection feeds the
		// contrastive head; neither is used at generation time
		if !strings.HasPrefix(t.name, "text_model.") || strings.HasSuffix(t.name, "position_ids") {
			continue
		}

		out = append(out, t)
	}

	// the channel MLP trains with the unet but runs in the embedder stage
	channelDim := 0
	for _, t := range unetTensors {
		if !strings.HasPrefix(t.name, "add_embedding.linear_") {
			continue
		}

		renamed := &tensorData{
			name:   strings.Replace(t.name, "add_embedding.", "channel_embedding.", 1),
			shape:  t.shape,
			values: t.values,
		}
		if renamed.name == "channel_embedding.linear_2.weight" {
			channelDim = t.shape[0]
		}

		out = append(out, renamed)
	}
	if channelDim == 0 {
		return fmt.Errorf("missing add_embedding.linear_2.weight in unet checkpoint")
	}

	if err := writeConfig(filepath.Join(dstDir, "embedder", "config.json"), sd.TextEncoderConfig{
		VocabSize:        srcConfig.VocabSize,
		HiddenSize:       srcConfig.HiddenSize,
		IntermediateSize: srcConfig.IntermediateSize,
		NumLayers:        srcConfig.NumHiddenLayers,
		NumHeads:         srcConfig.NumAttentionHeads,
		MaxPositions:     srcConfig.MaxPositionEmbeddings,
		LayerNormEps:     srcConfig.LayerNormEps,
		ChannelDim:       channelDim,
		ChannelFreqDim:   unetConfig.AdditionTimeEmbedDim,
	}); err != nil {
		return err
	}

	return writeStage(filepath.Join(dstDir, "embedder", "model.safetensors"), out)
}

func convertDiffuser(srcDir, dstDir string, unetTensors []*tensorData) error {
	var srcConfig unetSourceConfig
	if err := readConfig(filepath.Join(srcDir, "unet", "config.json"), &srcConfig); err != nil {
		return err
	}
	if len(srcConfig.BlockOutChannels) == 0 {
		return fmt.Errorf("unet config has no block_out_channels")
	}

	replacer := strings.NewReplacer(
		"add_embedding.proj", "channel_embedding.proj",
		".to_out.0.", ".to_out.",
	)

	channelContextDim := 0
	var out []*tensorData
	for _, t := range unetTensors {
		// moved to the embedder stage
		if strings.HasPrefix(t.name, "add_embedding.linear_") {
			continue
		}

		renamed := &tensorData{name: replacer.Replace(t.name), shape: t.shape, values: t.values}
		if renamed.name == "channel_embedding.proj.weight" {
			channelContextDim = t.shape[len(t.shape)-1]
		}

		if err := squeezeConv(renamed); err != nil {
			return err
		}

		out = append(out, renamed)
	}
	if channelContextDim == 0 {
		return fmt.Errorf("missing add_embedding.proj.weight in unet checkpoint")
	}

	modelChannels := srcConfig.BlockOutChannels[0]
	mult := make([]int, len(srcConfig.BlockOutChannels))
	for i, channels := range srcConfig.BlockOutChannels {
		if channels%modelChannels != 0 {
			return fmt.Errorf("block_out_channels %v are not multiples of %d", srcConfig.BlockOutChannels, modelChannels)
		}
		mult[i] = channels / modelChannels
	}

	if err := writeConfig(filepath.Join(dstDir, "diffuser", "config.json"), sd.DenoiserConfig{
		InChannels:        srcConfig.InChannels,
		OutChannels:       srcConfig.OutChannels,
		ModelChannels:     modelChannels,
		ChannelMult:       mult,
		NumHeads:          srcConfig.NumAttentionHeads,
		ContextDim:        srcConfig.CrossAttentionDim,
		ChannelContextDim: channelContextDim,
		NormGroups:        srcConfig.NormNumGroups,
	}); err != nil {
		return err
	}

	return writeStage(filepath.Join(dstDir, "diffuser", "model.safetensors"), out)
}

func convertDecoder(srcDir, dstDir string) error {
	var srcConfig struct {
		LatentChannels   int     `json:"latent_channels"`
		BlockOutChannels []int   `json:"block_out_channels"`
		LayersPerBlock   int     `json:"layers_per_block"`
		NormNumGroups    int     `json:"norm_num_groups"`
		ScalingFactor    float32 `json:"scaling_factor"`
	}
	if err := readConfig(filepath.Join(srcDir, "vae", "config.json"), &srcConfig); err != nil {
		return err
	}

	ts, err := parseTensors(filepath.Join(srcDir, "vae"))
	if err != nil {
		return err
	}

	// older exports name the attention projections query/key/value and
	// store them as 1x1 convolutions
	replacer := strings.NewReplacer(
		".query.", ".to_q.",
		".key.", ".to_k.",
		".value.", ".to_v.",
		".proj_attn.", ".to_out.",
		".to_out.0.", ".to_out.",
	)

	var out []*tensorData
	for _, t := range ts {
		// the encoder half and quantization convolutions are unused
		if !strings.HasPrefix(t.name, "decoder.") {
			continue
		}

		renamed := &tensorData{name: replacer.Replace(t.name), shape: t.shape, values: t.values}
		if err := squeezeConv(renamed); err != nil {
			return err
		}

		out = append(out, renamed)
	}

	if err := writeConfig(filepath.Join(dstDir, "latent_decoder", "config.json"), sd.DecoderConfig{
		LatentChannels: srcConfig.LatentChannels,
		BlockChannels:  srcConfig.BlockOutChannels,
		LayersPerBlock: srcConfig.LayersPerBlock,
		NormGroups:     srcConfig.NormNumGroups,
		ScalingFactor:  srcConfig.ScalingFactor,
	}); err != nil {
		return err
	}

	return writeStage(filepath.Join(dstDir, "latent_decoder", "model.safetensors"), out)
}

func copyTokenizer(srcDir, dstDir string) error {
	if err := os.MkdirAll(filepath.Join(dstDir, "tokenizer"), 0o755); err != nil {
		return err
	}

	for _, name := range []string{"vocab.json", "merges.txt"} {
		if err := copyFile(
			filepath.Join(srcDir, "tokenizer", name),
			filepath.Join(dstDir, "tokenizer", name),
		); err != nil {
			return err
		}
	}

	return nil
}

// squeezeConv reshapes 1x1 convolution weights used as attention or
// transformer projections to plain matrices.
func squeezeConv(t *tensorData) error {
	if len(t.shape) != 4 || t.shape[2] != 1 || t.shape[3] != 1 {
		return nil
	}
	if !strings.Contains(t.name, "to_q") && !strings.Contains(t.name, "to_k") &&
		!strings.Contains(t.name, "to_v") && !strings.Contains(t.name, "to_out") &&
		!strings.Contains(t.name, "proj_in") && !strings.Contains(t.name, "proj_out") {
		return nil
	}

	n := tensor.New(tensor.WithShape(t.shape...), tensor.WithBacking(t.values))
	if err := n.Reshape(t.shape[0], t.shape[1]); err != nil {
		return err
	}

	rows, err := native.SelectF32(n, 1)
	if err != nil {
		return err
	}

	values := make([]float32, 0, t.elements())
	for _, row := range rows {
		values = append(values, row...)
	}

	t.shape = []int{t.shape[0], t.shape[1]}
	t.values = values

	return nil
}

// writeStage writes one stage checkpoint. Matrices and convolution
// kernels are stored as f16, vectors as f32.
func writeStage(path string, ts []*tensorData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	out := make([]*safetensors.Tensor, 0, len(ts))
	for _, t := range ts {
		dtype := safetensors.F16
		if len(t.shape) == 1 {
			dtype = safetensors.F32
		}

		st, err := safetensors.FromFloats(t.name, dtype, t.shape, t.values)
		if err != nil {
			return err
		}

		out = append(out, st)
	}

	return safetensors.WriteFile(path, out)
}

func readConfig(path string, v any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(blob, v)
}

func writeConfig(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, append(blob, '\n'), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Close()
}
