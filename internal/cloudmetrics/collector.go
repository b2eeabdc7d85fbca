package cloudmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/paymirror/internal/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CloudMetrics republishes store counts to a central Prometheus so a fleet of
// mirrors can be watched from one place without scraping each instance.
type CloudMetrics struct {
	registry *prometheus.Registry
	metrics  *metrics
	pusher   Pusher
	db       *gorm.DB
	log      *zap.Logger
}

func New(registry *prometheus.Registry, pusher Pusher, db *gorm.DB, log *zap.Logger) *CloudMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CloudMetrics{
		registry: registry,
		metrics:  newMetrics(registry),
		pusher:   pusher,
		db:       db,
		log:      log.Named("cloudmetrics"),
	}
}

// Push recounts the store and ships the resulting gauges.
func (c *CloudMetrics) Push(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.collect(ctx)
	if c.pusher == nil {
		return nil
	}
	return c.pusher.Push(ctx, c.registry)
}

type statusCount struct {
	LiveMode bool   `gorm:"column:live_mode"`
	Status   string `gorm:"column:status"`
	Count    int64  `gorm:"column:count"`
}

type processedCount struct {
	Processed bool  `gorm:"column:processed"`
	Count     int64 `gorm:"column:count"`
}

func (c *CloudMetrics) collect(ctx context.Context) {
	if c.db == nil {
		return
	}

	var payments []statusCount
	if err := c.db.WithContext(ctx).Raw(
		`SELECT live_mode, status, COUNT(*) AS count FROM payments GROUP BY live_mode, status`,
	).Scan(&payments).Error; err != nil {
		c.log.Warn("payment count failed", zap.Error(err))
	} else {
		c.metrics.mirrorPayments.Reset()
		for _, row := range payments {
			c.metrics.mirrorPayments.WithLabelValues(modeLabel(row.LiveMode), row.Status).Set(float64(row.Count))
		}
	}

	var refunds []statusCount
	if err := c.db.WithContext(ctx).Raw(
		`SELECT live_mode, status, COUNT(*) AS count FROM refunds GROUP BY live_mode, status`,
	).Scan(&refunds).Error; err != nil {
		c.log.Warn("refund count failed", zap.Error(err))
	} else {
		c.metrics.mirrorRefunds.Reset()
		for _, row := range refunds {
			c.metrics.mirrorRefunds.WithLabelValues(modeLabel(row.LiveMode), row.Status).Set(float64(row.Count))
		}
	}

	var events []processedCount
	if err := c.db.WithContext(ctx).Raw(
		`SELECT processed, COUNT(*) AS count FROM notification_events GROUP BY processed`,
	).Scan(&events).Error; err != nil {
		c.log.Warn("event count failed", zap.Error(err))
	} else {
		c.metrics.mirrorEvents.Reset()
		for _, row := range events {
			label := "false"
			if row.Processed {
				label = "true"
			}
			c.metrics.mirrorEvents.WithLabelValues(label).Set(float64(row.Count))
		}
	}
}

func modeLabel(liveMode bool) string {
	if liveMode {
		return config.ModeLive
	}
	return config.ModeTest
}
