package migration

import (
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallyworks/tallyd/internal/counter/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if strings.EqualFold(conn.Dialector.Name(), "sqlite") {
			log.Named("migrations").Info("using automigrate for sqlite")
			return conn.AutoMigrate(&domain.Counter{}, &domain.DeltaEvent{}, &domain.FacilityPeak{})
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		return RunMigrations(sqlDB)
	}),
)
