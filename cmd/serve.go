package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/api"
	"example.com/backstage/services/telemetry/internal/messaging"
	"example.com/backstage/services/telemetry/internal/search"
	"example.com/backstage/services/telemetry/internal/sink"
	"example.com/backstage/services/telemetry/internal/stream"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const sinkTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start periodic sync and the HTTP API",
	Long:  `Start the telemetry sync scheduler, the HTTP consumer API and the websocket stream`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	coord := p.coordinator

	hub := stream.NewHub(p.metrics)
	coord.AddUpdateListener(hub.BroadcastUpdate)
	coord.AddStatusListener(hub.BroadcastStatus)

	opts := api.Options{
		Stream: hub.ServeWS,
		Tracer: p.tracer,
	}
	if cfg.MetricsEnabled {
		opts.Metrics = p.metrics
	}

	var sinks []func(context.Context)

	if cfg.Elastic.Enabled {
		elasticClient, err := search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without history archive")
		} else {
			archive := sink.NewQueue("elasticsearch", sink.DefaultBacklog, sinkTimeout, p.metrics, elasticClient.IndexUpdate)
			coord.AddUpdateListener(archive.Enqueue)
			sinks = append(sinks, archive.Run)
			opts.Archive = elasticClient
		}
	}

	if cfg.Azure.QueueConnStr != "" {
		bus, err := messaging.NewServiceBusClient(cfg.Azure, "telemetry")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Azure Service Bus client, continuing without publishing")
		} else {
			publisher := messaging.NewPublisher(bus)
			defer func() {
				if err := publisher.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close Service Bus client")
				}
			}()
			updates := sink.NewQueue("servicebus-updates", sink.DefaultBacklog, sinkTimeout, p.metrics, publisher.PublishUpdate)
			statuses := sink.NewQueue("servicebus-status", sink.DefaultBacklog, sinkTimeout, p.metrics, publisher.PublishStatus)
			coord.AddUpdateListener(updates.Enqueue)
			coord.AddStatusListener(statuses.Enqueue)
			sinks = append(sinks, updates.Run, statuses.Run)
		}
	}

	server := api.NewServer(cfg, coord, opts)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	for _, run := range sinks {
		g.Go(func() error {
			run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		log.Info().Dur("poll_interval", cfg.Sync.PollInterval).Msg("Starting telemetry sync")
		syncErr := coord.StartSync(ctx)
		if syncErr == nil {
			<-ctx.Done()
			if err := coord.StopSync(); err != nil {
				log.Error().Err(err).Msg("Failed to stop telemetry sync")
			}
		}

		if err := server.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		return syncErr
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Telemetry service stopped with error")
		return err
	}

	log.Info().Msg("Telemetry service stopped")
	return nil
}
