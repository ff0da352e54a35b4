// Package app wires the storepulse components from configuration. Every binary builds one Container.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"storepulse/internal/pkg/bootstrap"
	"storepulse/internal/pkg/cache"
	"storepulse/internal/pkg/config"
	"storepulse/internal/pkg/db"
	"storepulse/internal/pkg/httpclient"
	"storepulse/internal/pkg/httpx"
	"storepulse/internal/pkg/mq"
	"storepulse/internal/pkg/nacos"
	cohortapp "storepulse/internal/service/cohort/application"
	salesdomain "storepulse/internal/service/sales/domain"
	salesinfra "storepulse/internal/service/sales/infrastructure"
	segmentapp "storepulse/internal/service/segment/application"
	"storepulse/internal/service/segment/domain/port"
	segmentinfra "storepulse/internal/service/segment/infrastructure"
	"storepulse/internal/service/segment/infrastructure/lock"
	"storepulse/internal/service/segment/infrastructure/rule"
)

const tracerName = "storepulse"

type Container struct {
	Config   config.Config
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Cache    *cache.LayeredCache
	Segments *segmentapp.SegmentService
	Engine   *segmentapp.RecalculationEngine
	Cohorts  *cohortapp.CohortService
}

// Build connects every backing service. The returned cleanups release them in reverse order.
func Build(ctx context.Context, cfg config.Config, nc *nacos.Client) (*Container, []bootstrap.CleanupFunc, error) {
	var cleanups []bootstrap.CleanupFunc
	tracer := otel.Tracer(tracerName)

	gdb, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, func(context.Context) error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if cfg.Database.AutoMigrate {
		models := append(salesinfra.Models(), segmentinfra.Models()...)
		if err := db.Migrate(ctx, gdb, models...); err != nil {
			return nil, cleanups, err
		}
	}

	rdb := cache.NewRedisClient(cfg.Redis)
	cleanups = append(cleanups, func(context.Context) error { return rdb.Close() })
	localTTL := cfg.Cache.LocalTTL
	if cfg.Cache.LocalDisabled {
		localTTL = 0
	}
	reportCache := cache.NewLayeredCache(cache.NewRedisCache(rdb, cfg.Redis.KeyPrefix), localTTL, cfg.Cache.LocalCleanup)

	catalog := salesinfra.NewGormSaleRepository(gdb)
	var sales salesdomain.SaleRepository = catalog
	if cfg.Ledger.Enabled {
		var resolver salesinfra.ServiceResolver
		if nc != nil {
			resolver = nc
		}
		sales = salesinfra.NewLedgerHTTPAdapter(httpclient.NewClient(tracer), resolver, cfg.Ledger.ServiceName, cfg.Ledger.BaseURL, cfg.Ledger.Timeout)
	}

	rules, err := rule.NewCELRuleEngine()
	if err != nil {
		return nil, cleanups, err
	}

	locker, lockCleanup, err := newLocker(cfg)
	if err != nil {
		return nil, cleanups, err
	}
	if lockCleanup != nil {
		cleanups = append(cleanups, lockCleanup)
	}

	writer := mq.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.SegmentEventsTopic)
	cleanups = append(cleanups, func(context.Context) error { return writer.Close() })

	engine := segmentapp.NewRecalculationEngine(
		segmentinfra.NewGormSegmentRepository(gdb),
		sales,
		rules,
		locker,
		tracer,
		segmentapp.WithTimeout(cfg.Segment.RecalculationTimeout),
		segmentapp.WithPublisher(segmentinfra.NewKafkaEventPublisher(writer)),
	)

	return &Container{
		Config:   cfg,
		DB:       gdb,
		Redis:    rdb,
		Cache:    reportCache,
		Engine:   engine,
		Segments: segmentapp.NewSegmentService(segmentinfra.NewGormSegmentRepository(gdb), engine, rules, tracer),
		Cohorts:  cohortapp.NewCohortService(sales, catalog, reportCache, tracer),
	}, cleanups, nil
}

func newLocker(cfg config.Config) (port.Locker, bootstrap.CleanupFunc, error) {
	switch cfg.Segment.LockBackend {
	case "zookeeper":
		conn, err := lock.Connect(cfg.Zookeeper)
		if err != nil {
			return nil, nil, err
		}
		locker, err := lock.NewZookeeperLocker(conn, cfg.Zookeeper.LockRoot)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return locker, func(context.Context) error { conn.Close(); return nil }, nil
	case "local", "":
		return lock.NewKeyedMutex(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock backend %q", cfg.Segment.LockBackend)
	}
}

// NewReader builds a consumer-group reader on the configured brokers.
func (c *Container) NewReader(topic, group string) *kafka.Reader {
	return mq.NewReader(c.Config.Kafka.Brokers, topic, group)
}

// ReadinessChecks are mounted on /readyz.
func (c *Container) ReadinessChecks() map[string]httpx.ReadinessCheck {
	return map[string]httpx.ReadinessCheck{
		"database": func(ctx context.Context) error { return db.Ping(ctx, c.DB) },
		"redis":    c.Cache.Ping,
	}
}
