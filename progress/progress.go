// Package progress renders terminal progress lines: a spinner while a
// model loads and a step bar while the sampler runs.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const defaultTermHeight = 24

// State is one renderable progress line.
type State interface {
	String() string
}

// Progress redraws its states on a ticker. Output is buffered to avoid
// flickering.
type Progress struct {
	mu sync.Mutex
	w  *bufio.Writer

	pos    int
	ticker *time.Ticker
	states []State
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{w: bufio.NewWriter(w)}
	go p.start()

	return p
}

func (p *Progress) Add(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

func (p *Progress) start() {
	p.ticker = time.NewTicker(100 * time.Millisecond)
	fmt.Fprint(p.w, "\033[?25l")
	for range p.ticker.C {
		p.render()
	}
}

func (p *Progress) render() {
	_, termHeight, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil {
		termHeight = defaultTermHeight
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}
	fmt.Fprint(p.w, "\033[1G")

	maxHeight := min(len(p.states), termHeight)
	for i := len(p.states) - maxHeight; i < len(p.states); i++ {
		fmt.Fprint(p.w, p.states[i].String(), "\033[K")
		if i < len(p.states)-1 {
			fmt.Fprint(p.w, "\n")
		}
	}

	p.pos = len(p.states)
	p.w.Flush()
}

// Stop halts rendering, finishes the current line and restores the
// cursor. It reports whether rendering was active.
func (p *Progress) Stop() bool {
	for _, state := range p.states {
		if spinner, ok := state.(*Spinner); ok {
			spinner.Stop()
		}
	}

	stopped := p.ticker != nil
	if stopped {
		p.ticker.Stop()
		p.ticker = nil
		p.render()
		fmt.Fprintln(p.w)
	}

	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()

	return stopped
}
