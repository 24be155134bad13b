package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Alerter is notified of every high or critical risk event. Alerts are
// delivered off the logging path; a failing Alerter never fails Log.
type Alerter interface {
	Alert(ctx context.Context, event Event) error
}

// Listener observes every logged event. OnEvent runs synchronously inside
// Log and must not block.
type Listener interface {
	OnEvent(event Event)
}

// LogAlerter writes alerts to a zap logger
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(log *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: log}
}

func (a *LogAlerter) Alert(_ context.Context, event Event) error {
	a.logger.Warn("High risk audit event",
		zap.String("event_id", event.ID),
		zap.String("action", string(event.Action)),
		zap.String("risk_level", string(event.RiskLevel)),
		zap.String("user_id", event.UserID),
		zap.String("resource_id", event.ResourceID),
		zap.Strings("compliance_flags", event.ComplianceFlags),
	)
	return nil
}

// MultiAlerter fans an alert out to several alerters and joins their errors
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, event Event) error {
	var errs []error
	for _, a := range m {
		if err := a.Alert(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
