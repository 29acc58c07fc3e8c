package watcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/tagwatch/tagwatch/internal/orchestrator"
	"github.com/tagwatch/tagwatch/internal/registry"
	"github.com/tagwatch/tagwatch/internal/shared/config"
	"github.com/tagwatch/tagwatch/internal/shared/errors"
)

// OutcomeStatus describes what the handler did with one event/target pair
type OutcomeStatus string

const (
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeTriggered OutcomeStatus = "triggered"
)

// Outcome is the result of handling one push event against one target
type Outcome struct {
	Status  OutcomeStatus
	Cluster string
	Service string
}

// Handler bridges a registry push event to redeploy commands.
// It holds no mutable state between invocations, so a single Handler is safe
// for concurrent use and multiple watcher instances may run in parallel.
type Handler struct {
	targets      []config.DeploymentTarget
	control      orchestrator.ControlPlane
	verifier     registry.Verifier // nil unless image verification is enabled
	maxRetries   int
	retryBackoff time.Duration
	callTimeout  time.Duration
	logger       *slog.Logger
}

// NewHandler creates a handler for the given immutable target list
func NewHandler(
	targets []config.DeploymentTarget,
	control orchestrator.ControlPlane,
	verifier registry.Verifier,
	maxRetries int,
	retryBackoff time.Duration,
	callTimeout time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		targets:      targets,
		control:      control,
		verifier:     verifier,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		callTimeout:  callTimeout,
		logger:       logger,
	}
}

// HandleImagePublished handles one push event statelessly.
//
// A redeploy is issued if and only if the event's tag exactly matches a
// target's expected tag (and its repository filter, when set). All matching
// targets are updated; each gets its own retry budget. Events that match no
// target are a skip, not an error. The handler never deduplicates: the
// force-new-deployment command is idempotent at the control plane, so
// at-least-once delivery is safe.
func (h *Handler) HandleImagePublished(ctx context.Context, event *registry.ImagePushEvent) ([]Outcome, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	if !event.Eligible() {
		h.logger.Debug("Ignoring non-push event",
			"repository", event.Repository, "action", event.Action, "result", event.Result)
		return []Outcome{{Status: OutcomeSkipped}}, nil
	}

	matches := lo.Filter(h.targets, func(t config.DeploymentTarget, _ int) bool {
		return t.Matches(event.Repository, event.Tag)
	})
	if len(matches) == 0 {
		h.logger.Debug("No deployment target for pushed image",
			"repository", event.Repository, "tag", event.Tag)
		return []Outcome{{Status: OutcomeSkipped}}, nil
	}

	if h.verifier != nil {
		exists, err := h.verifier.ImageExists(ctx, event.Repository, event.Tag)
		if err != nil {
			return nil, fmt.Errorf("failed to verify image %s:%s: %w", event.Repository, event.Tag, err)
		}
		if !exists {
			h.logger.Warn("Pushed image no longer exists in registry, skipping",
				"repository", event.Repository, "tag", event.Tag)
			return []Outcome{{Status: OutcomeSkipped}}, nil
		}
	}

	var outcomes []Outcome
	var errs []error
	for _, target := range matches {
		if err := h.trigger(ctx, target); err != nil {
			h.logger.Error("Failed to force new deployment",
				"cluster", target.Cluster, "service", target.Service, "error", err)
			errs = append(errs, err)
			continue
		}
		outcomes = append(outcomes, Outcome{
			Status:  OutcomeTriggered,
			Cluster: target.Cluster,
			Service: target.Service,
		})
	}

	return outcomes, stderrors.Join(errs...)
}

// trigger issues the redeploy command for one target, retrying transient
// control-plane failures in an explicit bounded loop with exponential backoff.
// Fatal errors surface immediately; after the retry budget is spent the last
// transient error is escalated.
func (h *Handler) trigger(ctx context.Context, target config.DeploymentTarget) error {
	delay := h.retryBackoff

	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
		err := h.control.ForceNewDeployment(callCtx, target.Cluster, target.Service)
		cancel()

		if err == nil {
			return nil
		}
		if !errors.IsTransient(err) || attempt >= h.maxRetries {
			return err
		}

		h.logger.Warn("Transient control-plane failure, retrying",
			"cluster", target.Cluster,
			"service", target.Service,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}
