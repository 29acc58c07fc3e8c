package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"
	"github.com/tagwatch/tagwatch/internal/shared/errors"
)

// ECS implements ControlPlane against the AWS ECS API
type ECS struct {
	client *ecs.Client
	logger *slog.Logger
}

// NewECS creates an ECS control-plane client using the default credential chain
func NewECS(ctx context.Context, region string, logger *slog.Logger) (*ECS, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &ECS{
		client: ecs.NewFromConfig(cfg),
		logger: logger,
	}, nil
}

// ForceNewDeployment issues UpdateService with ForceNewDeployment set.
// The call is idempotent: forcing a deployment on an already-current
// service is a no-op at the control plane, not an error.
func (o *ECS) ForceNewDeployment(ctx context.Context, cluster, service string) error {
	_, err := o.client.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(cluster),
		Service:            aws.String(service),
		ForceNewDeployment: true,
	})
	if err != nil {
		return classify(err, cluster, service)
	}

	o.logger.Info("Forced new deployment", "cluster", cluster, "service", service)
	return nil
}

// DescribeTarget checks that the service exists and is active in its cluster
func (o *ECS) DescribeTarget(ctx context.Context, cluster, service string) error {
	out, err := o.client.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{service},
	})
	if err != nil {
		return classify(err, cluster, service)
	}

	if len(out.Failures) > 0 {
		reason := aws.ToString(out.Failures[0].Reason)
		return errors.NewFatalError(
			fmt.Sprintf("service %s/%s not usable: %s", cluster, service, reason), nil)
	}
	if len(out.Services) == 0 {
		return errors.NewFatalError(
			fmt.Sprintf("service %s/%s not found", cluster, service), nil)
	}
	if status := aws.ToString(out.Services[0].Status); status != "ACTIVE" {
		return errors.NewFatalError(
			fmt.Sprintf("service %s/%s is %s, not ACTIVE", cluster, service, status), nil)
	}

	return nil
}

// classify maps an ECS SDK error to the watcher's error taxonomy.
// Unknown cluster/service and authorization failures are fatal; throttling,
// server faults and network timeouts are transient and worth retrying.
func classify(err error, cluster, service string) error {
	var clusterNotFound *ecstypes.ClusterNotFoundException
	var serviceNotFound *ecstypes.ServiceNotFoundException
	var serviceNotActive *ecstypes.ServiceNotActiveException
	var invalidParameter *ecstypes.InvalidParameterException
	var accessDenied *ecstypes.AccessDeniedException
	var serverFault *ecstypes.ServerException

	msg := fmt.Sprintf("update of %s/%s failed", cluster, service)

	switch {
	case stderrors.As(err, &clusterNotFound),
		stderrors.As(err, &serviceNotFound),
		stderrors.As(err, &serviceNotActive),
		stderrors.As(err, &invalidParameter),
		stderrors.As(err, &accessDenied):
		return errors.NewFatalError(msg, err)
	case stderrors.As(err, &serverFault):
		return errors.NewTransientError(msg, err)
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "Throttling", "TooManyRequestsException", "RequestLimitExceeded":
			return errors.NewTransientError(msg, err)
		case "AccessDeniedException", "UnauthorizedOperation", "UnrecognizedClientException", "InvalidSignatureException", "ExpiredTokenException":
			return errors.NewFatalError(msg, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return errors.NewTransientError(msg, err)
		}
		return errors.NewFatalError(msg, err)
	}

	// Timeouts and connection-level failures never reached the API
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTransientError(msg, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTransientError(msg, err)
	}

	return errors.NewTransientError(msg, err)
}
