// cmd/segment-worker/main.go
package main

import (
	"context"
	"flag"
	"net/http"

	"storepulse/internal/app"
	"storepulse/internal/pkg/bootstrap"
	"storepulse/internal/pkg/httpx"
	"storepulse/internal/pkg/mq"
	segmentif "storepulse/internal/service/segment/interfaces"
)

const serviceName = "segment-worker"

func main() {
	configPath := flag.String("config", "configs/storepulse.yaml", "path to the YAML config file")
	flag.Parse()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		ConfigPath:  *configPath,
		Build: func(ctx context.Context, appCtx bootstrap.AppCtx) (http.Handler, []bootstrap.CleanupFunc, error) {
			c, cleanups, err := app.Build(ctx, appCtx.Config, appCtx.Nacos)
			if err != nil {
				return nil, cleanups, err
			}

			handler := segmentif.NewSalesIngestedHandler(c.Segments, c.Cohorts, appCtx.Config.Segment.BackfillConcurrency)
			reader := c.NewReader(appCtx.Config.Kafka.SalesIngestedTopic, appCtx.Config.Kafka.ConsumerGroup)
			consumer := mq.NewConsumer("sales-ingested", reader, handler.Handle)
			consumer.Start(ctx)
			cleanups = append(cleanups, func(context.Context) error {
				consumer.Stop()
				return nil
			})

			// The worker only serves probes and metrics.
			return httpx.NewRouter(nil, c.ReadinessChecks()), cleanups, nil
		},
	})
}
