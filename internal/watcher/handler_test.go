package watcher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tagwatch/tagwatch/internal/registry"
	"github.com/tagwatch/tagwatch/internal/shared/config"
	"github.com/tagwatch/tagwatch/internal/shared/errors"
)

// fakeControlPlane records ForceNewDeployment calls and fails according to script
type fakeControlPlane struct {
	mu    sync.Mutex
	calls []call
	fail  func(attempt int) error
}

type call struct {
	cluster string
	service string
}

func (f *fakeControlPlane) ForceNewDeployment(ctx context.Context, cluster, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{cluster: cluster, service: service})
	if f.fail != nil {
		return f.fail(len(f.calls))
	}
	return nil
}

func (f *fakeControlPlane) DescribeTarget(ctx context.Context, cluster, service string) error {
	return nil
}

func (f *fakeControlPlane) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestHandler(targets []config.DeploymentTarget, control *fakeControlPlane, maxRetries int) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(targets, control, nil, maxRetries, time.Millisecond, time.Second, logger)
}

func pushEvent(repository, tag string) *registry.ImagePushEvent {
	return &registry.ImagePushEvent{
		Repository: repository,
		Tag:        tag,
		Digest:     "sha256:d1e2a3",
		PushedAt:   time.Now(),
		Action:     registry.ActionPush,
		Result:     registry.ResultSuccess,
	}
}

func TestHandler_MatchingTagTriggersDeployment(t *testing.T) {
	control := &fakeControlPlane{}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 3)

	outcomes, err := h.HandleImagePublished(context.Background(), pushEvent("app", "release"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(outcomes) != 1 || outcomes[0].Status != OutcomeTriggered {
		t.Fatalf("unexpected outcomes: %#v", outcomes)
	}
	if outcomes[0].Cluster != "prod" || outcomes[0].Service != "api" {
		t.Fatalf("outcome names wrong target: %#v", outcomes[0])
	}
	if control.callCount() != 1 {
		t.Fatalf("expected exactly one control-plane call, got %d", control.callCount())
	}
	if control.calls[0] != (call{cluster: "prod", service: "api"}) {
		t.Fatalf("unexpected call: %#v", control.calls[0])
	}
}

func TestHandler_NonMatchingTagSkips(t *testing.T) {
	control := &fakeControlPlane{}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 3)

	outcomes, err := h.HandleImagePublished(context.Background(), pushEvent("app", "dev"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(outcomes) != 1 || outcomes[0].Status != OutcomeSkipped {
		t.Fatalf("expected skipped outcome, got %#v", outcomes)
	}
	if control.callCount() != 0 {
		t.Fatalf("expected zero control-plane calls, got %d", control.callCount())
	}
}

func TestHandler_TagComparisonIsCaseSensitive(t *testing.T) {
	control := &fakeControlPlane{}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 0)

	outcomes, err := h.HandleImagePublished(context.Background(), pushEvent("app", "Release"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcomes[0].Status != OutcomeSkipped || control.callCount() != 0 {
		t.Fatalf("case-insensitive match should not trigger: %#v", outcomes)
	}
}

func TestHandler_RepositoryFilter(t *testing.T) {
	control := &fakeControlPlane{}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Repository: "app", Tag: "release"},
	}, control, 0)

	outcomes, err := h.HandleImagePublished(context.Background(), pushEvent("other-app", "release"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcomes[0].Status != OutcomeSkipped || control.callCount() != 0 {
		t.Fatalf("repository mismatch should skip, got %#v", outcomes)
	}
}

func TestHandler_IdempotentAcrossInvocations(t *testing.T) {
	control := &fakeControlPlane{}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 3)

	event := pushEvent("app", "release")
	for i := 0; i < 2; i++ {
		outcomes, err := h.HandleImagePublished(context.Background(), event)
		if err != nil {
			t.Fatalf("invocation %d: expected no error, got %v", i, err)
		}
		if len(outcomes) != 1 || outcomes[0].Status != OutcomeTriggered {
			t.Fatalf("invocation %d: unexpected outcomes %#v", i, outcomes)
		}
	}

	// The watcher never deduplicates: two invocations, two calls
	if control.callCount() != 2 {
		t.Fatalf("expected two independent calls, got %d", control.callCount())
	}
}

func TestHandler_EmptyTagIsValidationError(t *testing.T) {
	control := &fakeControlPlane{}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 3)

	_, err := h.HandleImagePublished(context.Background(), pushEvent("app", ""))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if control.callCount() != 0 {
		t.Fatalf("expected zero control-plane calls, got %d", control.callCount())
	}
}

func TestHandler_NonPushEventSkips(t *testing.T) {
	control := &fakeControlPlane{}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 3)

	event := pushEvent("app", "release")
	event.Action = registry.ActionDelete

	outcomes, err := h.HandleImagePublished(context.Background(), event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if outcomes[0].Status != OutcomeSkipped || control.callCount() != 0 {
		t.Fatalf("delete event should skip, got %#v", outcomes)
	}
}

func TestHandler_TransientErrorsRetriedWithBound(t *testing.T) {
	control := &fakeControlPlane{
		fail: func(attempt int) error {
			return errors.NewTransientError("throttled", nil)
		},
	}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 3)

	_, err := h.HandleImagePublished(context.Background(), pushEvent("app", "release"))
	if err == nil {
		t.Fatal("expected escalated transient error")
	}

	// N retries means exactly N+1 attempts
	if control.callCount() != 4 {
		t.Fatalf("expected 4 attempts, got %d", control.callCount())
	}
}

func TestHandler_TransientThenSuccess(t *testing.T) {
	control := &fakeControlPlane{
		fail: func(attempt int) error {
			if attempt == 1 {
				return errors.NewTransientError("throttled", nil)
			}
			return nil
		},
	}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 3)

	outcomes, err := h.HandleImagePublished(context.Background(), pushEvent("app", "release"))
	if err != nil {
		t.Fatalf("expected recovery after retry, got %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != OutcomeTriggered {
		t.Fatalf("unexpected outcomes: %#v", outcomes)
	}
	if control.callCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", control.callCount())
	}
}

func TestHandler_FatalErrorNotRetried(t *testing.T) {
	control := &fakeControlPlane{
		fail: func(attempt int) error {
			return errors.NewFatalError("cluster not found", nil)
		},
	}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, 3)

	_, err := h.HandleImagePublished(context.Background(), pushEvent("app", "release"))
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if errors.TypeOf(err) != errors.ErrorTypeFatal {
		t.Fatalf("expected fatal classification, got %v", errors.TypeOf(err))
	}
	if control.callCount() != 1 {
		t.Fatalf("fatal errors must not be retried, got %d attempts", control.callCount())
	}
}

func TestHandler_FanOutUpdatesAllMatches(t *testing.T) {
	control := &fakeControlPlane{}
	h := newTestHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
		{Cluster: "prod", Service: "worker", Tag: "release"},
		{Cluster: "staging", Service: "api", Tag: "staging"},
	}, control, 3)

	outcomes, err := h.HandleImagePublished(context.Background(), pushEvent("app", "release"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(outcomes) != 2 {
		t.Fatalf("expected two triggered outcomes, got %#v", outcomes)
	}
	if control.callCount() != 2 {
		t.Fatalf("expected two control-plane calls, got %d", control.callCount())
	}
}

func TestHandler_CancelledContextAbortsRetryWait(t *testing.T) {
	control := &fakeControlPlane{
		fail: func(attempt int) error {
			return errors.NewTransientError("unavailable", nil)
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler([]config.DeploymentTarget{
		{Cluster: "prod", Service: "api", Tag: "release"},
	}, control, nil, 5, time.Hour, time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.HandleImagePublished(ctx, pushEvent("app", "release"))
		done <- err
	}()

	// Let the first attempt fail, then cancel during the backoff wait
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after cancellation")
	}

	if control.callCount() != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", control.callCount())
	}
}
