package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// StepBar displays step-based progress for the sampling loop.
type StepBar struct {
	message string
	total   int
	current atomic.Int64
}

func NewStepBar(message string, total int) *StepBar {
	return &StepBar{message: message, total: total}
}

func (s *StepBar) Set(current int) {
	s.current.Store(int64(current))
}

func (s *StepBar) String() string {
	current := int(s.current.Load())
	percent := float64(current) / float64(s.total) * 100

	// "generating  33% ▕███      ▏ 3/9"
	return fmt.Sprintf("%s %3.0f%% ▕%s%s▏ %d/%d",
		s.message, percent,
		strings.Repeat("█", current), strings.Repeat(" ", s.total-current),
		current, s.total)
}
