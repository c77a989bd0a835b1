package sd

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/lumenml/lumen/safetensors"
)

// Tiny fixture dimensions, chosen so every block is exercised while
// forward passes stay fast.
var (
	fixtureTextConfig = TextEncoderConfig{
		VocabSize:        8,
		HiddenSize:       8,
		IntermediateSize: 16,
		NumLayers:        1,
		NumHeads:         2,
		MaxPositions:     77,
		LayerNormEps:     1e-5,
		ChannelDim:       8,
		ChannelFreqDim:   4,
	}

	fixtureDenoiserConfig = DenoiserConfig{
		InChannels:        4,
		OutChannels:       4,
		ModelChannels:     8,
		ChannelMult:       []int{1, 2},
		NumHeads:          2,
		ContextDim:        8,
		ChannelContextDim: 8,
		NormGroups:        4,
	}

	fixtureDecoderConfig = DecoderConfig{
		LatentChannels: 4,
		BlockChannels:  []int{8, 8, 16, 16},
		LayersPerBlock: 1,
		NormGroups:     4,
		ScalingFactor:  0.13025,
	}
)

type fixtureWriter struct {
	t       *testing.T
	rng     *rand.Rand
	tensors []*safetensors.Tensor
}

func (f *fixtureWriter) add(name string, shape ...int) {
	n := 1
	for _, dim := range shape {
		n *= dim
	}

	values := make([]float32, n)
	for i := range values {
		values[i] = float32(f.rng.NormFloat64()) * 0.1
	}

	tensor, err := safetensors.FromFloats(name, safetensors.F32, shape, values)
	if err != nil {
		f.t.Fatal(err)
	}
	f.tensors = append(f.tensors, tensor)
}

// norm weights center on 1 so activations keep a sane scale
func (f *fixtureWriter) addNorm(prefix string, channels int) {
	n := make([]float32, channels)
	for i := range n {
		n[i] = 1 + float32(f.rng.NormFloat64())*0.05
	}
	tensor, err := safetensors.FromFloats(prefix+".weight", safetensors.F32, []int{channels}, n)
	if err != nil {
		f.t.Fatal(err)
	}
	f.tensors = append(f.tensors, tensor)
	f.add(prefix+".bias", channels)
}

func (f *fixtureWriter) addLinear(prefix string, out, in int) {
	f.add(prefix+".weight", out, in)
	f.add(prefix+".bias", out)
}

func (f *fixtureWriter) addConv(prefix string, out, in, k int) {
	f.add(prefix+".weight", out, in, k, k)
	f.add(prefix+".bias", out)
}

func (f *fixtureWriter) addResBlock(prefix string, out, in, timeDim int) {
	f.addNorm(prefix+".norm1", in)
	f.addConv(prefix+".conv1", out, in, 3)
	if timeDim > 0 {
		f.addLinear(prefix+".time_emb_proj", out, timeDim)
	}
	f.addNorm(prefix+".norm2", out)
	f.addConv(prefix+".conv2", out, out, 3)
	if in != out {
		f.addConv(prefix+".conv_shortcut", out, in, 1)
	}
}

func (f *fixtureWriter) addTransformer(prefix string, channels, contextDim int) {
	f.addNorm(prefix+".norm", channels)
	f.addConv(prefix+".proj_in", channels, channels, 1)

	inner := prefix + ".transformer_blocks.0"
	f.addNorm(inner+".norm1", channels)
	f.addLinear(inner+".attn1.to_q", channels, channels)
	f.addLinear(inner+".attn1.to_k", channels, channels)
	f.addLinear(inner+".attn1.to_v", channels, channels)
	f.addLinear(inner+".attn1.to_out", channels, channels)
	f.addNorm(inner+".norm2", channels)
	f.addLinear(inner+".attn2.to_q", channels, channels)
	f.addLinear(inner+".attn2.to_k", channels, contextDim)
	f.addLinear(inner+".attn2.to_v", channels, contextDim)
	f.addLinear(inner+".attn2.to_out", channels, channels)
	f.addNorm(inner+".norm3", channels)
	f.addLinear(inner+".ff.net.0", 4*channels, channels)
	f.addLinear(inner+".ff.net.2", channels, 4*channels)

	f.addConv(prefix+".proj_out", channels, channels, 1)
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()

	blob, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeFixture builds a complete tiny model directory: configs, tokenizer
// files and randomly initialized safetensors checkpoints for all three
// stages.
func writeFixture(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	for _, sub := range []string{"embedder", "diffuser", "latent_decoder", "tokenizer"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	writeJSON(t, filepath.Join(dir, "config.json"), ModelConfig{Architecture: Architecture, Name: "tiny"})
	writeJSON(t, filepath.Join(dir, embedderConfig), fixtureTextConfig)
	writeJSON(t, filepath.Join(dir, diffuserConfig), fixtureDenoiserConfig)
	writeJSON(t, filepath.Join(dir, decoderConfig), fixtureDecoderConfig)

	writeJSON(t, filepath.Join(dir, vocabFile), map[string]int32{
		"<|startoftext|>": 0,
		"<|endoftext|>":   1,
		"a</w>":           2,
		"photo</w>":       3,
		"of</w>":          4,
		"the</w>":         5,
		"sea</w>":         6,
		"side</w>":        7,
	})
	if err := os.WriteFile(filepath.Join(dir, mergesFile), []byte("#version: 0.2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	writeEmbedderWeights(t, filepath.Join(dir, embedderModel))
	writeDiffuserWeights(t, filepath.Join(dir, diffuserModel))
	writeDecoderWeights(t, filepath.Join(dir, decoderModel))

	return dir
}

func writeEmbedderWeights(t *testing.T, path string) {
	cfg := fixtureTextConfig
	f := &fixtureWriter{t: t, rng: rand.New(rand.NewSource(1))}

	f.add("text_model.embeddings.token_embedding.weight", cfg.VocabSize, cfg.HiddenSize)
	f.add("text_model.embeddings.position_embedding.weight", cfg.MaxPositions, cfg.HiddenSize)

	for i := 0; i < cfg.NumLayers; i++ {
		prefix := fmt.Sprintf("text_model.encoder.layers.%d", i)
		f.addNorm(prefix+".layer_norm1", cfg.HiddenSize)
		f.addLinear(prefix+".self_attn.q_proj", cfg.HiddenSize, cfg.HiddenSize)
		f.addLinear(prefix+".self_attn.k_proj", cfg.HiddenSize, cfg.HiddenSize)
		f.addLinear(prefix+".self_attn.v_proj", cfg.HiddenSize, cfg.HiddenSize)
		f.addLinear(prefix+".self_attn.out_proj", cfg.HiddenSize, cfg.HiddenSize)
		f.addNorm(prefix+".layer_norm2", cfg.HiddenSize)
		f.addLinear(prefix+".mlp.fc1", cfg.IntermediateSize, cfg.HiddenSize)
		f.addLinear(prefix+".mlp.fc2", cfg.HiddenSize, cfg.IntermediateSize)
	}

	f.addNorm("text_model.final_layer_norm", cfg.HiddenSize)
	f.addLinear("channel_embedding.linear_1", cfg.ChannelDim, metadataValues*cfg.ChannelFreqDim)
	f.addLinear("channel_embedding.linear_2", cfg.ChannelDim, cfg.ChannelDim)

	if err := safetensors.WriteFile(path, f.tensors); err != nil {
		t.Fatal(err)
	}
}

func writeDiffuserWeights(t *testing.T, path string) {
	cfg := fixtureDenoiserConfig
	f := &fixtureWriter{t: t, rng: rand.New(rand.NewSource(2))}

	timeDim := 4 * cfg.ModelChannels
	chans := make([]int, len(cfg.ChannelMult))
	for i, mult := range cfg.ChannelMult {
		chans[i] = cfg.ModelChannels * mult
	}
	levels := len(chans)

	f.addLinear("time_embedding.linear_1", timeDim, cfg.ModelChannels)
	f.addLinear("time_embedding.linear_2", timeDim, timeDim)
	f.addLinear("channel_embedding.proj", timeDim, cfg.ChannelContextDim)
	f.addConv("conv_in", cfg.ModelChannels, cfg.InChannels, 3)

	in := cfg.ModelChannels
	for i := 0; i < levels; i++ {
		prefix := fmt.Sprintf("down_blocks.%d", i)
		f.addResBlock(prefix+".resnets.0", chans[i], in, timeDim)
		f.addTransformer(prefix+".attentions.0", chans[i], cfg.ContextDim)
		if i < levels-1 {
			f.addConv(prefix+".downsamplers.0.conv", chans[i], chans[i], 3)
		}
		in = chans[i]
	}

	deep := chans[levels-1]
	f.addResBlock("mid_block.resnets.0", deep, deep, timeDim)
	f.addTransformer("mid_block.attentions.0", deep, cfg.ContextDim)
	f.addResBlock("mid_block.resnets.1", deep, deep, timeDim)

	// up_blocks.0 is the deepest level; each level concatenates the
	// matching skip before its res block
	in = deep
	for i := 0; i < levels; i++ {
		prefix := fmt.Sprintf("up_blocks.%d", i)
		out := chans[levels-1-i]
		if i > 0 {
			f.addConv(prefix+".upsamplers.0.conv", in, in, 3)
		}
		f.addResBlock(prefix+".resnets.0", out, in+chans[levels-1-i], timeDim)
		f.addTransformer(prefix+".attentions.0", out, cfg.ContextDim)
		in = out
	}

	f.addNorm("conv_norm_out", chans[0])
	f.addConv("conv_out", cfg.OutChannels, chans[0], 3)

	if err := safetensors.WriteFile(path, f.tensors); err != nil {
		t.Fatal(err)
	}
}

func writeDecoderWeights(t *testing.T, path string) {
	cfg := fixtureDecoderConfig
	f := &fixtureWriter{t: t, rng: rand.New(rand.NewSource(3))}

	levels := len(cfg.BlockChannels)
	top := cfg.BlockChannels[levels-1]

	f.addConv("decoder.conv_in", top, cfg.LatentChannels, 3)
	f.addResBlock("decoder.mid_block.resnets.0", top, top, 0)
	f.addNorm("decoder.mid_block.attentions.0.group_norm", top)
	f.addLinear("decoder.mid_block.attentions.0.to_q", top, top)
	f.addLinear("decoder.mid_block.attentions.0.to_k", top, top)
	f.addLinear("decoder.mid_block.attentions.0.to_v", top, top)
	f.addLinear("decoder.mid_block.attentions.0.to_out", top, top)
	f.addResBlock("decoder.mid_block.resnets.1", top, top, 0)

	in := top
	for i := 0; i < levels; i++ {
		prefix := fmt.Sprintf("decoder.up_blocks.%d", i)
		out := cfg.BlockChannels[levels-1-i]
		for j := 0; j < cfg.LayersPerBlock; j++ {
			f.addResBlock(fmt.Sprintf("%s.resnets.%d", prefix, j), out, in, 0)
			in = out
		}
		if i < levels-1 {
			f.addConv(prefix+".upsamplers.0.conv", out, out, 3)
		}
	}

	f.addNorm("decoder.conv_norm_out", cfg.BlockChannels[0])
	f.addConv("decoder.conv_out", 3, cfg.BlockChannels[0], 3)

	if err := safetensors.WriteFile(path, f.tensors); err != nil {
		t.Fatal(err)
	}
}
