package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

// MultiSink fans a record out to every sink. It succeeds when at least one
// sink accepted the record. A sink that answers ErrUnauthorized is dropped
// from the fan-out; ErrUnauthorized is returned only once every sink has been
// dropped.
type MultiSink struct {
	sinks     []Sink
	dropped   []atomic.Bool
	remaining atomic.Int32
	logger    *slog.Logger
}

func NewMultiSink(logger *slog.Logger, sinks ...Sink) *MultiSink {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MultiSink{
		sinks:   sinks,
		dropped: make([]atomic.Bool, len(sinks)),
		logger:  logger,
	}
	m.remaining.Store(int32(len(sinks)))
	return m
}

// Len counts the sinks still receiving records.
func (m *MultiSink) Len() int {
	return int(m.remaining.Load())
}

func (m *MultiSink) Send(ctx context.Context, rec domain.RunRecord) error {
	var (
		errs      []error
		delivered bool
	)
	for i, s := range m.sinks {
		if m.dropped[i].Load() {
			continue
		}
		err := s.Send(ctx, rec)
		switch {
		case err == nil:
			delivered = true
		case errors.Is(err, ErrUnauthorized):
			if m.dropped[i].CompareAndSwap(false, true) {
				m.remaining.Add(-1)
				m.logger.Error("tracking sink credential rejected, sink dropped", "sink", i, "error", err)
			}
		default:
			errs = append(errs, err)
		}
	}

	switch {
	case delivered:
		return nil
	case m.remaining.Load() == 0:
		return fmt.Errorf("%w: no tracking sink left", ErrUnauthorized)
	default:
		return errors.Join(errs...)
	}
}

// MemorySink keeps records in memory. Err, when set, is returned instead of
// storing the record.
type MemorySink struct {
	mu      sync.Mutex
	records []domain.RunRecord
	calls   int
	Err     error
}

func (s *MemorySink) Send(ctx context.Context, rec domain.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.Err != nil {
		return s.Err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *MemorySink) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

func (s *MemorySink) Records() []domain.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RunRecord(nil), s.records...)
}

// Calls counts every Send, failed or not.
func (s *MemorySink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
