package usecase

import (
	"context"
	"fmt"
	"sort"

	"ClarityPull/internal/domain/models"
	domrepo "ClarityPull/internal/domain/repository"
	"ClarityPull/internal/services/zones"
	applogger "ClarityPull/pkg/logger"
)

// AlertDetector keeps each symbol's stored alert set equal to the set
// derived from its history.
type AlertDetector struct {
	store     domrepo.ObservationStore
	alerts    domrepo.AlertRepository
	publisher domrepo.EventPublisher
	metrics   domrepo.Metrics
	l         *applogger.Logger
}

func NewAlertDetector(store domrepo.ObservationStore, alerts domrepo.AlertRepository, publisher domrepo.EventPublisher, metrics domrepo.Metrics, l *applogger.Logger) *AlertDetector {
	if l == nil {
		l = applogger.Nop()
	}
	return &AlertDetector{store: store, alerts: alerts, publisher: publisher, metrics: metrics, l: l.With(applogger.String("component", "alerts"))}
}

// Detect returns the stored alerts for the symbol, newest first.
func (d *AlertDetector) Detect(ctx context.Context, symbolID int64) ([]models.MomentumAlert, error) {
	alerts, err := d.alerts.ListAlerts(ctx, symbolID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Date.After(alerts[j].Date) })
	return alerts, nil
}

// Recompute replaces the stored set and returns the alerts that were not
// stored before. Those are published; a publish failure does not undo the write.
func (d *AlertDetector) Recompute(ctx context.Context, sym models.Symbol) ([]models.MomentumAlert, error) {
	history, err := d.store.History(ctx, sym.ID)
	if err != nil {
		return nil, fmt.Errorf("alerts %s: load history: %w", sym.Name, err)
	}
	derived := zones.DetectAlerts(sym.ID, history)

	stored, err := d.alerts.ListAlerts(ctx, sym.ID)
	if err != nil {
		return nil, fmt.Errorf("alerts %s: load stored: %w", sym.Name, err)
	}
	fresh := zones.NewAlerts(stored, derived)

	if err := d.alerts.ReplaceAlerts(ctx, sym.ID, derived); err != nil {
		return nil, fmt.Errorf("alerts %s: %w", sym.Name, err)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	d.metrics.RecordAlerts(sym.Market, len(fresh))
	d.l.Info("momentum alerts detected",
		applogger.Symbol(sym.Market, sym.Name),
		applogger.Int("new", len(fresh)),
		applogger.Int("total", len(derived)),
	)
	if err := d.publisher.PublishAlerts(ctx, sym, fresh); err != nil {
		d.metrics.RecordError("publish_alerts")
		d.l.Warn("publish alerts failed", applogger.Symbol(sym.Market, sym.Name), applogger.Error(err))
	}
	return fresh, nil
}
