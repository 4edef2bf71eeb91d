package orchestrator

import (
	"context"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

type BeforeHook interface {
	Before(ctx context.Context, req domain.ChatRequest) error
}

type AfterHook interface {
	After(ctx context.Context, req domain.ChatRequest, result *Result) error
}

type ErrorHook interface {
	OnError(ctx context.Context, req domain.ChatRequest, err error) error
}

// Hook failures and panics are logged; the chain always runs to the end.

func (o *Orchestrator) runBefore(ctx context.Context, req domain.ChatRequest) {
	for i, h := range o.opts.Hooks {
		if bh, ok := h.(BeforeHook); ok {
			o.safeHook(i, "before", func() error { return bh.Before(ctx, req) })
		}
	}
}

func (o *Orchestrator) runAfter(ctx context.Context, req domain.ChatRequest, result *Result) {
	for i, h := range o.opts.Hooks {
		if ah, ok := h.(AfterHook); ok {
			o.safeHook(i, "after", func() error { return ah.After(ctx, req, result) })
		}
	}
}

func (o *Orchestrator) runOnError(ctx context.Context, req domain.ChatRequest, callErr error) {
	for i, h := range o.opts.Hooks {
		if eh, ok := h.(ErrorHook); ok {
			o.safeHook(i, "error", func() error { return eh.OnError(ctx, req, callErr) })
		}
	}
}

func (o *Orchestrator) safeHook(index int, phase string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("hook panicked", "hook", index, "phase", phase, "panic", rec)
		}
	}()
	if err := fn(); err != nil {
		o.logger.Warn("hook failed", "hook", index, "phase", phase, "error", err)
	}
}
