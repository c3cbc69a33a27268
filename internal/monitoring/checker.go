package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deal-enrich/internal/config"
)

// Checker watches run health: the share of failed runs, the share of failed
// records and the dead-letter queue depth over the lookback window. An alert
// is posted when its condition starts firing and again only after it has
// cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	firing map[AlertType]bool
}

// NewChecker wires a collector and an alerter together.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks once at start and then every CheckIntervalSecs until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: run health checks started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	if ctx.Err() == nil {
		c.Check(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: run health checks stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check takes one snapshot of run health and returns every alert whose
// threshold it crosses. Only alerts that were not already firing on the
// previous check are posted to the webhook. Check is not safe for
// concurrent use.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect run health", zap.Error(err))
		return nil
	}
	log.Debug("monitoring: run health",
		zap.Int("runs", snap.RunsTotal),
		zap.Float64("run_fail_rate", snap.RunFailRate),
		zap.Float64("record_fail_rate", snap.RecordFailRate),
		zap.Int("dlq_depth", snap.DLQDepth),
	)

	alerts := c.alerter.Evaluate(snap)
	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.firing = now

	if len(fresh) > 0 {
		sent := c.alerter.SendAlerts(ctx, fresh)
		log.Info("monitoring: alerts posted",
			zap.Int("firing", len(alerts)),
			zap.Int("new", len(fresh)),
			zap.Int("sent", sent),
		)
	}
	return alerts
}
