// Package pinpoint sends SMS messages through Amazon Pinpoint.
package pinpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint/types"
)

const sendTimeout = 10 * time.Second

// Sender delivers transactional SMS via a Pinpoint application.
// It satisfies the tools package's SMSSender interface.
type Sender struct {
	logger            *slog.Logger
	client            *pinpoint.Client
	applicationID     string
	originationNumber string
}

// NewSender builds a Sender using the default AWS credential chain.
func NewSender(ctx context.Context, logger *slog.Logger, region, applicationID, originationNumber string) (*Sender, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("pinpoint application id is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Sender{
		logger:            logger,
		client:            pinpoint.NewFromConfig(cfg),
		applicationID:     applicationID,
		originationNumber: originationNumber,
	}, nil
}

// Send delivers one SMS to the given E.164 number.
func (s *Sender) Send(ctx context.Context, phoneNumber, message string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	smsMessage := &types.SMSMessage{
		Body:        aws.String(message),
		MessageType: types.MessageTypeTransactional,
	}
	if s.originationNumber != "" {
		smsMessage.OriginationNumber = aws.String(s.originationNumber)
	}

	out, err := s.client.SendMessages(ctx, &pinpoint.SendMessagesInput{
		ApplicationId: aws.String(s.applicationID),
		MessageRequest: &types.MessageRequest{
			Addresses: map[string]types.AddressConfiguration{
				phoneNumber: {ChannelType: types.ChannelTypeSms},
			},
			MessageConfiguration: &types.DirectMessageConfiguration{
				SMSMessage: smsMessage,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("pinpoint send: %w", err)
	}

	if out.MessageResponse == nil {
		return fmt.Errorf("pinpoint send: empty response")
	}
	result, ok := out.MessageResponse.Result[phoneNumber]
	if !ok {
		return fmt.Errorf("pinpoint send: no result for %s", phoneNumber)
	}
	if result.DeliveryStatus != types.DeliveryStatusSuccessful {
		detail := ""
		if result.StatusMessage != nil {
			detail = *result.StatusMessage
		}
		return fmt.Errorf("pinpoint delivery failed: %s %s", result.DeliveryStatus, detail)
	}

	s.logger.Info("sms delivered", "to", phoneNumber, "length", len(message))
	return nil
}
