package connect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsconnect "github.com/aws/aws-sdk-go-v2/service/connect"
)

// AttributeSink writes contact attributes to their destination.
type AttributeSink interface {
	UpdateContactAttributes(instanceID, contactID string, attributes map[string]string) error
}

// AWSSink updates contact attributes through the Amazon Connect API.
type AWSSink struct {
	logger *slog.Logger
	client *awsconnect.Client
}

// NewAWSSink builds a sink using the default AWS credential chain.
func NewAWSSink(ctx context.Context, logger *slog.Logger, region string) (*AWSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &AWSSink{logger: logger, client: awsconnect.NewFromConfig(cfg)}, nil
}

func (s *AWSSink) UpdateContactAttributes(instanceID, contactID string, attributes map[string]string) error {
	if len(attributes) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.client.UpdateContactAttributes(ctx, &awsconnect.UpdateContactAttributesInput{
		InstanceId:       &instanceID,
		InitialContactId: &contactID,
		Attributes:       attributes,
	})
	if err != nil {
		return fmt.Errorf("update contact attributes: %w", err)
	}
	return nil
}
