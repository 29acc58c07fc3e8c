package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tagwatch/tagwatch/internal/orchestrator"
	"github.com/tagwatch/tagwatch/internal/registry"
	"github.com/tagwatch/tagwatch/internal/shared/config"
	"github.com/tagwatch/tagwatch/internal/shared/errors"
	"github.com/tagwatch/tagwatch/internal/shared/health"
	natsClient "github.com/tagwatch/tagwatch/internal/shared/nats"
)

// Service is the deployment trigger watcher. It consumes registry push
// events from NATS, hands each one to the Handler, and publishes an outcome
// event per triggered deployment.
type Service struct {
	logger     *slog.Logger
	config     *config.WatcherConfig
	natsClient *natsClient.Client
	control    orchestrator.ControlPlane
	handler    *Handler
	targets    []config.DeploymentTarget

	instanceID string
	httpServer *http.Server
}

// NewService creates a new watcher service
func NewService(ctx context.Context, cfg *config.WatcherConfig, logger *slog.Logger) (*Service, error) {
	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment targets: %w", err)
	}

	nc, err := natsClient.NewClient(cfg.NATS, "watcher")
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	control, err := orchestrator.NewECS(ctx, cfg.AWSRegion, logger)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create control-plane client: %w", err)
	}

	var verifier registry.Verifier
	if cfg.VerifyImages {
		v, err := registry.NewECRVerifier(ctx, cfg.AWSRegion)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create registry verifier: %w", err)
		}
		verifier = v
	}

	instanceID := uuid.Must(uuid.NewV7()).String()

	handler := NewHandler(
		targets,
		control,
		verifier,
		cfg.MaxRetries,
		cfg.RetryBackoff,
		cfg.CallTimeout,
		logger,
	)

	logger.Info("Watcher service created",
		"instance_id", instanceID,
		"targets", len(targets))

	return &Service{
		logger:     logger,
		config:     cfg,
		natsClient: nc,
		control:    control,
		handler:    handler,
		targets:    targets,
		instanceID: instanceID,
	}, nil
}

// Start runs the watcher until the context is cancelled
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting watcher service", "instance_id", s.instanceID)

	if s.config.ValidateTargets {
		if err := s.validateTargets(ctx); err != nil {
			return err
		}
	}

	s.startHealthServer()

	cc := s.natsClient.WithContext(ctx)
	_, err := cc.QueueSubscribe(s.config.EventSubject, s.config.QueueGroup, func(msg *nats.Msg) {
		s.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.config.EventSubject, err)
	}

	s.logger.Info("Subscribed to registry events",
		"subject", s.config.EventSubject,
		"queue_group", s.config.QueueGroup,
		"instance_id", s.instanceID)

	// Wait for shutdown
	<-ctx.Done()
	s.logger.Info("Shutting down watcher service", "instance_id", s.instanceID)

	return s.Close()
}

// validateTargets describes each configured target against the control plane
// so misconfiguration is caught at startup instead of on the first event
func (s *Service) validateTargets(ctx context.Context) error {
	for _, target := range s.targets {
		if err := s.control.DescribeTarget(ctx, target.Cluster, target.Service); err != nil {
			return errors.NewConfigurationError(
				"deployment target %s/%s failed validation: %v", target.Cluster, target.Service, err)
		}
		s.logger.Debug("Validated deployment target",
			"cluster", target.Cluster, "service", target.Service)
	}
	return nil
}

// startHealthServer serves /health, /ready and /live on the configured port
func (s *Service) startHealthServer() {
	h := health.NewHandler()
	h.AddCheck("nats", func(ctx context.Context) error {
		if !s.natsClient.IsConnected() {
			return fmt.Errorf("not connected to NATS")
		}
		return nil
	})
	h.AddReadinessCheck(func(ctx context.Context) error {
		if !s.natsClient.IsConnected() {
			return fmt.Errorf("not connected to NATS")
		}
		return nil
	})

	mux := http.NewServeMux()
	h.RegisterHandlers(mux)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HealthPort),
		Handler: mux,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health server failed", "error", err)
		}
	}()
}

// handleMessage processes one registry event message
func (s *Service) handleMessage(ctx context.Context, msg *nats.Msg) {
	event, err := registry.ParsePushEvent(msg.Data)
	if err != nil {
		s.logger.Error("Failed to parse registry event", "error", err)
		return
	}

	outcomes, err := s.handler.HandleImagePublished(ctx, event)
	if err != nil {
		switch errors.TypeOf(err) {
		case errors.ErrorTypeValidation:
			// Malformed events are discarded, not retried
			s.logger.Warn("Discarding invalid registry event", "error", err)
		default:
			s.logger.Error("Failed to handle registry event",
				"repository", event.Repository,
				"tag", event.Tag,
				"error", err)
		}
	}

	for _, outcome := range outcomes {
		if outcome.Status != OutcomeTriggered {
			continue
		}
		s.logger.Info("Deployment triggered",
			"cluster", outcome.Cluster,
			"service", outcome.Service,
			"repository", event.Repository,
			"tag", event.Tag)
		s.publishOutcome(event, outcome)
	}
}

// outcomeEvent is the JSON payload published after a successful trigger
type outcomeEvent struct {
	Cluster     string    `json:"cluster"`
	Service     string    `json:"service"`
	Repository  string    `json:"repository"`
	Tag         string    `json:"tag"`
	Digest      string    `json:"digest,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// publishOutcome tells downstream tooling that a deployment was forced
func (s *Service) publishOutcome(event *registry.ImagePushEvent, outcome Outcome) {
	payload, err := json.Marshal(outcomeEvent{
		Cluster:     outcome.Cluster,
		Service:     outcome.Service,
		Repository:  event.Repository,
		Tag:         event.Tag,
		Digest:      event.Digest,
		TriggeredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("Failed to encode outcome event", "error", err)
		return
	}

	if err := s.natsClient.Publish(s.config.OutcomeSubject, payload); err != nil {
		s.logger.Error("Failed to publish outcome event",
			"subject", s.config.OutcomeSubject, "error", err)
	}
}

// Close shuts down the watcher's connections
func (s *Service) Close() error {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shut down health server", "error", err)
		}
	}

	if s.natsClient != nil {
		if err := s.natsClient.Close(); err != nil {
			s.logger.Error("Failed to close NATS client", "error", err)
		}
	}

	return nil
}
