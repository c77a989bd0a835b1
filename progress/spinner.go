package progress

import (
	"strings"
	"sync/atomic"
	"time"
)

var spinnerParts = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is an indeterminate progress line.
type Spinner struct {
	message string
	value   atomic.Int64
	stopped atomic.Bool
}

func NewSpinner(message string) *Spinner {
	s := &Spinner{message: message}
	go s.start()

	return s
}

func (s *Spinner) String() string {
	var sb strings.Builder
	if s.message != "" {
		sb.WriteString(strings.TrimSpace(s.message))
		sb.WriteString(" ")
	}

	if !s.stopped.Load() {
		sb.WriteString(spinnerParts[s.value.Load()%int64(len(spinnerParts))])
		sb.WriteString(" ")
	}

	return sb.String()
}

func (s *Spinner) start() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if s.stopped.Load() {
			return
		}
		s.value.Add(1)
	}
}

func (s *Spinner) Stop() {
	s.stopped.Store(true)
}
