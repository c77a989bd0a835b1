// Package tokenizer implements the byte-level BPE tokenizer used by CLIP
// text encoders. It loads the standard vocab.json and merges.txt pair and
// produces fixed-length token sequences framed by start and end markers.
package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

const (
	startToken = "<|startoftext|>"
	endToken   = "<|endoftext|>"
	wordEnd    = "</w>"
)

// splitPattern carves text into words, contractions, digits and punctuation
// runs before byte-pair merging. Input is lowercased first.
var (
	splitPattern      = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d|[\p{L}]+|[\p{N}]|[^\s\p{L}\p{N}]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Tokenizer is a CLIP-style byte-level BPE tokenizer.
type Tokenizer struct {
	vocab map[string]int32
	ranks map[string]int

	bos int32
	eos int32

	mu    sync.Mutex
	cache map[string][]int32
}

// New loads a tokenizer from a vocab.json token-to-id table and a
// merges.txt ranked merge list.
func New(vocabPath, mergesPath string) (*Tokenizer, error) {
	blob, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, err
	}

	var vocab map[string]int32
	if err := json.Unmarshal(blob, &vocab); err != nil {
		return nil, fmt.Errorf("parse %s: %w", vocabPath, err)
	}

	bos, ok := vocab[startToken]
	if !ok {
		return nil, fmt.Errorf("%s: missing %s token", vocabPath, startToken)
	}
	eos, ok := vocab[endToken]
	if !ok {
		return nil, fmt.Errorf("%s: missing %s token", vocabPath, endToken)
	}

	f, err := os.Open(mergesPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ranks := make(map[string]int)
	scanner := bufio.NewScanner(f)
	rank := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ranks[line] = rank
		rank++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", mergesPath, err)
	}

	return &Tokenizer{
		vocab: vocab,
		ranks: ranks,
		bos:   bos,
		eos:   eos,
		cache: make(map[string][]int32),
	}, nil
}

// BOS returns the start-of-text token id.
func (t *Tokenizer) BOS() int32 { return t.bos }

// EOS returns the end-of-text token id, also used for padding.
func (t *Tokenizer) EOS() int32 { return t.eos }

// Encode tokenizes text into exactly maxLen ids: a start token, the BPE
// tokens, an end token, then end-token padding. Long prompts are truncated
// so the end token is always present.
func (t *Tokenizer) Encode(text string, maxLen int) ([]int32, error) {
	if maxLen < 2 {
		return nil, fmt.Errorf("sequence length %d cannot hold start and end tokens", maxLen)
	}

	text = whitespacePattern.ReplaceAllString(strings.ToLower(text), " ")
	text = strings.TrimSpace(text)

	ids := make([]int32, 0, maxLen)
	ids = append(ids, t.bos)
	for _, word := range splitPattern.FindAllString(text, -1) {
		ids = append(ids, t.encodeWord(word)...)
	}

	if len(ids) > maxLen-1 {
		ids = ids[:maxLen-1]
	}
	ids = append(ids, t.eos)
	for len(ids) < maxLen {
		ids = append(ids, t.eos)
	}

	return ids, nil
}

func (t *Tokenizer) encodeWord(word string) []int32 {
	t.mu.Lock()
	if ids, ok := t.cache[word]; ok {
		t.mu.Unlock()
		return ids
	}
	t.mu.Unlock()

	parts := t.bpe(word)

	ids := make([]int32, 0, len(parts))
	for _, part := range parts {
		id, ok := t.vocab[part]
		if !ok {
			id = t.eos
		}
		ids = append(ids, id)
	}

	t.mu.Lock()
	t.cache[word] = ids
	t.mu.Unlock()

	return ids
}

// bpe maps the word's bytes through the printable byte alphabet, marks the
// final symbol with the word-end suffix and greedily applies the lowest
// ranked merge until none applies.
func (t *Tokenizer) bpe(word string) []string {
	var symbols []string
	for _, b := range []byte(word) {
		symbols = append(symbols, string(byteToRune[b]))
	}
	if len(symbols) == 0 {
		return nil
	}
	symbols[len(symbols)-1] += wordEnd

	for len(symbols) > 1 {
		bestRank := -1
		bestIdx := -1
		for i := 0; i < len(symbols)-1; i++ {
			rank, ok := t.ranks[symbols[i]+" "+symbols[i+1]]
			if ok && (bestRank < 0 || rank < bestRank) {
				bestRank = rank
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}

		merged := symbols[bestIdx] + symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx], append([]string{merged}, symbols[bestIdx+2:]...)...)
	}

	return symbols
}

// byteToRune is the GPT-2 byte alphabet: printable bytes map to themselves
// and the rest are shifted into unused unicode codepoints so every byte has
// a visible representation in the vocab.
var byteToRune = func() [256]rune {
	var table [256]rune

	n := 0
	isPrintable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xa1 && b <= 0xac) || (b >= 0xae && b <= 0xff)
	}
	for b := 0; b < 256; b++ {
		if isPrintable(b) {
			table[b] = rune(b)
		} else {
			table[b] = rune(256 + n)
			n++
		}
	}

	return table
}()
