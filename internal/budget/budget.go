// Package budget enforces the per-call cost ceiling and watches the estimated
// spend of the running process.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-router/internal/cost"
	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/metrics"
	"github.com/felipepmaragno/llm-router/internal/notifications"
)

// CheckCost rejects a call whose estimated cost on model exceeds limit.
// A limit of zero or less disables the check.
func CheckCost(model string, messages []domain.Message, limit float64) (float64, error) {
	estimated := cost.EstimateCost(model, messages)
	if limit > 0 && estimated > limit {
		return estimated, &domain.CostLimitError{Model: model, Estimated: estimated, Limit: limit}
	}
	return estimated, nil
}

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	Level      AlertLevel
	Budget     float64
	CurrentUse float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(ctx context.Context, alert Alert)

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

// Monitor accumulates estimated spend and raises an alert each time usage
// enters a higher level. Spend is per process and never reset.
type Monitor struct {
	mu            sync.Mutex
	budget        float64
	spent         float64
	thresholds    Thresholds
	alertHandlers []AlertHandler
	lastLevel     AlertLevel
	now           func() time.Time
}

func NewMonitor(budgetUSD float64, thresholds Thresholds) *Monitor {
	return &Monitor{
		budget:     budgetUSD,
		thresholds: thresholds,
		now:        time.Now,
	}
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertHandlers = append(m.alertHandlers, handler)
}

// Record adds costUSD to the running total and returns the alert raised by
// this call, if any.
func (m *Monitor) Record(ctx context.Context, costUSD float64) *Alert {
	if m.budget <= 0 || costUSD <= 0 {
		return nil
	}

	m.mu.Lock()
	m.spent += costUSD
	ratio := m.spent / m.budget
	metrics.SetSpendUsage(ratio)

	level := m.levelFor(ratio)
	if level == "" || rank(level) <= rank(m.lastLevel) {
		m.mu.Unlock()
		return nil
	}
	m.lastLevel = level

	alert := &Alert{
		Level:      level,
		Budget:     m.budget,
		CurrentUse: m.spent,
		Percentage: ratio * 100,
		Timestamp:  m.now(),
	}
	handlers := make([]AlertHandler, len(m.alertHandlers))
	copy(handlers, m.alertHandlers)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, *alert)
	}

	return alert
}

func (m *Monitor) Spent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent
}

func (m *Monitor) IsBudgetExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budget > 0 && m.spent >= m.budget
}

func (m *Monitor) levelFor(ratio float64) AlertLevel {
	switch {
	case ratio >= 1.0:
		return AlertLevelExceeded
	case ratio >= m.thresholds.Critical:
		return AlertLevelCritical
	case ratio >= m.thresholds.Warning:
		return AlertLevelWarning
	default:
		return ""
	}
}

func rank(level AlertLevel) int {
	switch level {
	case AlertLevelWarning:
		return 1
	case AlertLevelCritical:
		return 2
	case AlertLevelExceeded:
		return 3
	default:
		return 0
	}
}

func LogAlertHandler(logger *slog.Logger) AlertHandler {
	return func(_ context.Context, alert Alert) {
		logger.Warn("spend alert",
			"level", alert.Level,
			"budget", alert.Budget,
			"current_use", alert.CurrentUse,
			"percentage", alert.Percentage,
		)
	}
}

// NotifyAlertHandler forwards alerts to a notifier. Delivery failures are
// logged.
func NotifyAlertHandler(n notifications.Notifier, logger *slog.Logger) AlertHandler {
	return func(ctx context.Context, alert Alert) {
		note := notifications.Notification{
			Type:    notificationType(alert.Level),
			Message: fmt.Sprintf("estimated spend at %.1f%% of $%.2f budget", alert.Percentage, alert.Budget),
			Data: map[string]any{
				"budget":      alert.Budget,
				"current_use": alert.CurrentUse,
				"percentage":  alert.Percentage,
			},
		}
		if err := n.Send(ctx, note); err != nil {
			logger.Error("failed to send spend alert", "level", alert.Level, "error", err)
		}
	}
}

func notificationType(level AlertLevel) notifications.NotificationType {
	switch level {
	case AlertLevelExceeded:
		return notifications.NotificationSpendExceeded
	case AlertLevelCritical:
		return notifications.NotificationSpendCritical
	default:
		return notifications.NotificationSpendWarning
	}
}
