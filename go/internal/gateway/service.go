package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/catalog"
)

// Service is the viewer gateway: WebSocket sessions plus the optional
// JetStream relay of room events.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
}

type Config struct {
	ConnectionConfig ConnectionConfig
	// JetStreamConfig enables the room event relay when non-nil.
	JetStreamConfig *JetStreamConsumerConfig
	ExitTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		ExitTimeout:      10 * time.Second,
	}
}

func NewService(config Config, events catalog.Source, newSession SessionFactory, metrics ConnectionMetrics) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, metrics)
	wsHandler := NewWebSocketHandler(connectionManager, events, newSession, config.ExitTimeout)

	s := &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
	}
	if config.JetStreamConfig != nil {
		eventConsumer, err := NewEventConsumer(connectionManager, *config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = eventConsumer
	}
	return s, nil
}

// Start runs the gateway until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("relay", s.eventConsumer != nil).Msg("starting watch gateway")

	go s.connectionManager.Start(ctx)
	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("watch gateway shutting down")
	return s.Stop()
}

func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	log.Info().Msg("watch gateway stopped")
	return nil
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("watch gateway routes registered")
}

func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
