package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/clients/calendar_client"
	"github.com/mcdev12/watchparty/go/internal/catalog"
	"github.com/mcdev12/watchparty/go/internal/config"
	"github.com/mcdev12/watchparty/go/internal/gateway"
	"github.com/mcdev12/watchparty/go/internal/metrics"
	"github.com/mcdev12/watchparty/go/internal/roomapi"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
	"github.com/mcdev12/watchparty/go/internal/videosync"
	"github.com/mcdev12/watchparty/go/internal/videosync/events"
)

type Services struct {
	Gateway   *gateway.Service
	Rooms     *roomapi.Service
	Metrics   *metrics.PrometheusMetrics
	publisher *events.JetStreamPublisher
}

func (s *Services) Close() {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
	}
}

func setupServices(cfg *config.Config, store syncstore.Store) (*Services, error) {
	// Wire up dependency injection chain
	// Catalog → Session factory → Gateway / Room API
	source, err := setupCatalog(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.NewPrometheusMetrics(nil)
	services := &Services{Metrics: m}

	var sink videosync.EventSink = videosync.NoOpSink{}
	if cfg.NATS.Enabled() {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.Stream
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		publisher, err := events.NewJetStreamPublisher(jsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		services.publisher = publisher
		sink = publisher
	}

	loc := cfg.Location()
	newSession := func(opts ...videosync.Option) *videosync.Session {
		base := []videosync.Option{
			videosync.WithConfig(cfg.Sync),
			videosync.WithMetrics(m),
			videosync.WithEventSink(sink),
			videosync.WithLocation(loc),
		}
		return videosync.NewSession(store, append(base, opts...)...)
	}

	gwCfg := gateway.DefaultConfig()
	gwCfg.ExitTimeout = cfg.Gateway.ExitTimeout
	if cfg.Gateway.SendBuffer > 0 {
		gwCfg.ConnectionConfig.SendBuffer = cfg.Gateway.SendBuffer
	}
	if cfg.NATS.Enabled() {
		consumerCfg := gateway.DefaultJetStreamConsumerConfig()
		consumerCfg.URL = cfg.NATS.URL
		consumerCfg.StreamName = cfg.NATS.Stream
		consumerCfg.ConsumerName = cfg.NATS.Consumer
		consumerCfg.SubjectFilter = cfg.NATS.SubjectPrefix + ".>"
		gwCfg.JetStreamConfig = &consumerCfg
	}
	gw, err := gateway.NewService(gwCfg, source, newSession, m)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	services.Gateway = gw

	roomApp := roomapi.NewApp(store, source, loc, nil, cfg.Sync.LivenessWindow)
	services.Rooms = roomapi.NewService(roomApp)

	return services, nil
}

// setupCatalog chains inline events, the catalog file and the calendar API,
// in that order.
func setupCatalog(cfg *config.Config) (catalog.Source, error) {
	var chain catalog.Chain
	if len(cfg.Events) > 0 {
		inline, err := catalog.NewStatic(cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("failed to load inline events: %w", err)
		}
		chain = append(chain, inline)
	}
	if cfg.Catalog.File != "" {
		file, err := catalog.LoadFile(cfg.Catalog.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog file: %w", err)
		}
		chain = append(chain, file)
	}
	if cfg.Catalog.URL != "" {
		client := calendar_client.NewCalendarClient(cfg.Catalog.URL, cfg.Catalog.APIKey)
		chain = append(chain, catalog.NewRemote(client, cfg.Catalog.CacheTTL, nil))
	}
	log.Info().Int("sources", len(chain)).Msg("event catalog ready")
	return chain, nil
}
