package registry

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

// Verifier confirms that an image tag actually exists in the registry
// before a deployment is triggered for it
type Verifier interface {
	ImageExists(ctx context.Context, repository, tag string) (bool, error)
}

// ECRVerifier checks image existence against the ECR API
type ECRVerifier struct {
	client *ecr.Client
}

// NewECRVerifier creates a verifier using the default AWS credential chain
func NewECRVerifier(ctx context.Context, region string) (*ECRVerifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &ECRVerifier{
		client: ecr.NewFromConfig(cfg),
	}, nil
}

// ImageExists checks whether repository:tag is present in the registry.
// A missing image or repository is reported as false, not as an error.
func (v *ECRVerifier) ImageExists(ctx context.Context, repository, tag string) (bool, error) {
	_, err := v.client.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repository),
		ImageIds: []ecrtypes.ImageIdentifier{
			{ImageTag: aws.String(tag)},
		},
	})
	if err != nil {
		var imageNotFound *ecrtypes.ImageNotFoundException
		var repoNotFound *ecrtypes.RepositoryNotFoundException
		if stderrors.As(err, &imageNotFound) || stderrors.As(err, &repoNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe image %s:%s: %w", repository, tag, err)
	}

	return true, nil
}
