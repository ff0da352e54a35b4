// cmd/segment-backfill/main.go
//
// segment-backfill recalculates every segment of one tenant, e.g. after a bulk sales import:
//
//	segment-backfill -user u-42 -org acme -concurrency 8
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"storepulse/internal/app"
	"storepulse/internal/pkg/bootstrap"
	"storepulse/internal/pkg/config"
	"storepulse/internal/pkg/nacos"
	"storepulse/internal/pkg/tenant"
)

const serviceName = "segment-backfill"

func main() {
	configPath := flag.String("config", "configs/storepulse.yaml", "path to the YAML config file")
	userID := flag.String("user", "", "tenant user id (required)")
	orgID := flag.String("org", "", "tenant organization id")
	concurrency := flag.Int("concurrency", 0, "segments recalculated in parallel (default from config)")
	flag.Parse()

	scope := tenant.Scope{UserID: *userID, OrganizationID: *orgID}
	if err := scope.Validate(); err != nil {
		flag.Usage()
		os.Exit(2)
	}

	cfg, nc, err := bootstrap.Setup(serviceName, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *concurrency <= 0 {
		*concurrency = cfg.Segment.BackfillConcurrency
	}

	if err := run(cfg, nc, scope, *concurrency); err != nil {
		log.Error().Err(err).Msg("backfill failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, nc *nacos.Client, scope tenant.Scope, concurrency int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	c, cleanups, err := app.Build(ctx, cfg, nc)
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](context.Background()); err != nil {
				log.Error().Err(err).Msg("cleanup failed")
			}
		}
	}()
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}

	segs, err := c.Segments.ListSegments(ctx, scope)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	bar := progressbar.Default(int64(len(segs)), "recalculating "+scope.Key())

	var failed atomic.Int64
	n, err := c.Segments.RecalculateTenant(ctx, scope, concurrency, func(segmentID string, err error) {
		if err != nil {
			failed.Add(1)
			log.Warn().Err(err).Str("segment_id", segmentID).Msg("recalculation failed")
		}
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("%d of %d segments failed: %w", failed.Load(), n, err)
	}
	log.Info().Int("segments", n).Msg("backfill finished")
	return nil
}
