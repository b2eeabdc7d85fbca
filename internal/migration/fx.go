package migration

import (
	apikeydomain "github.com/smallbiznis/paymirror/internal/apikey/domain"
	"github.com/smallbiznis/paymirror/internal/config"
	paymentdomain "github.com/smallbiznis/paymirror/internal/payment/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned SQL targets postgres. Development dialects take the
			// model-derived schema instead.
			return conn.AutoMigrate(
				&paymentdomain.PaymentRecord{},
				&paymentdomain.RefundRecord{},
				&paymentdomain.NotificationEvent{},
				&apikeydomain.OperatorKey{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
