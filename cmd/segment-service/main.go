// cmd/segment-service/main.go
package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storepulse/internal/app"
	"storepulse/internal/pkg/bootstrap"
	"storepulse/internal/pkg/httpx"
	"storepulse/internal/pkg/mq"
	cohortif "storepulse/internal/service/cohort/interfaces"
	segmentif "storepulse/internal/service/segment/interfaces"
)

const serviceName = "segment-service"

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

			// Each API node gets its own group so every node sees every segment event.
			hub := segmentif.NewSegmentFeedHub(appCtx.Config.Service.AllowedOrigins)
			nodeGroup := serviceName + "-feed-" + uuid.NewString()[:8]
			feed := mq.NewConsumer("segment-feed", c.NewReader(appCtx.Config.Kafka.SegmentEventsTopic, nodeGroup), hub.HandleEvent)
			feed.Start(ctx)
			cleanups = append(cleanups, func(context.Context) error {
				feed.Stop()
				hub.Close()
				return nil
			})

			r := httpx.NewRouter(appCtx.Config.Service.AllowedOrigins, c.ReadinessChecks())
			r.Get("/ws/segments", hub.ServeWS)
			r.Route("/api/v1", func(api chi.Router) {
				api.Use(httpx.RequireTenant)
				segmentif.NewSegmentHandler(c.Segments).RegisterRoutes(api)
				cohortif.NewAnalyticsHandler(c.Cohorts).RegisterRoutes(api)
			})
			return r, cleanups, nil
		},
	})
}
