package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"
)

// LoadAWSConfig loads the default SDK config. AWS_ENDPOINT (or the older
// AWS_SNS_ENDPOINT / AWS_SQS_ENDPOINT) points every client at LocalStack.
func LoadAWSConfig(ctx context.Context, logger *zap.Logger) (sdkaws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}

	endpoint := firstNonEmpty(os.Getenv("AWS_ENDPOINT"), os.Getenv("AWS_SNS_ENDPOINT"), os.Getenv("AWS_SQS_ENDPOINT"))
	if endpoint != "" {
		cfg.BaseEndpoint = sdkaws.String(endpoint)
		if logger != nil {
			logger.Info("Using custom AWS endpoint",
				zap.String("endpoint", endpoint),
				zap.String("region", cfg.Region),
			)
		}
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
