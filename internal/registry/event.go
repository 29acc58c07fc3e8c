package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tagwatch/tagwatch/internal/shared/errors"
)

const (
	ActionPush    = "PUSH"
	ActionDelete  = "DELETE"
	ResultSuccess = "SUCCESS"
)

// ImagePushEvent describes a single image action in a container registry.
// Events arrive in the EventBridge "ECR Image Action" shape and are consumed
// exactly once per invocation; the struct is never mutated after decoding.
type ImagePushEvent struct {
	Repository string
	Tag        string
	Digest     string
	PushedAt   time.Time
	Action     string
	Result     string
}

// Eligible reports whether the event is a successful image push.
// Deletes, scan results and failed pushes never trigger a deployment.
func (e *ImagePushEvent) Eligible() bool {
	return e.Action == ActionPush && e.Result == ResultSuccess
}

// Validate checks the fields the watcher requires
func (e *ImagePushEvent) Validate() error {
	if e.Repository == "" {
		return errors.NewValidationError("event is missing repository name")
	}
	if e.Tag == "" {
		return errors.NewValidationError("event is missing image tag")
	}
	return nil
}

// envelope is the EventBridge event wrapper
type envelope struct {
	DetailType string      `json:"detail-type"`
	Source     string      `json:"source"`
	Time       time.Time   `json:"time"`
	Detail     eventDetail `json:"detail"`
}

// eventDetail is the ECR Image Action detail payload
type eventDetail struct {
	ActionType     string `json:"action-type"`
	Result         string `json:"result"`
	RepositoryName string `json:"repository-name"`
	ImageDigest    string `json:"image-digest"`
	ImageTag       string `json:"image-tag"`
}

// ParsePushEvent decodes an EventBridge-shaped registry event
func ParsePushEvent(data []byte) (*ImagePushEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode registry event: %w", err)
	}

	return &ImagePushEvent{
		Repository: env.Detail.RepositoryName,
		Tag:        env.Detail.ImageTag,
		Digest:     env.Detail.ImageDigest,
		PushedAt:   env.Time,
		Action:     env.Detail.ActionType,
		Result:     env.Detail.Result,
	}, nil
}
