package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// ErrNoTopic is returned when an event is published without a topic ARN.
var ErrNoTopic = errors.New("sns: topic arn is empty")

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient publishes donation and withdrawal events.
type SNSClient struct {
	client snsAPI
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{client: sns.NewFromConfig(cfg)}
}

// Publish sends message to topicArn. The payload's "event_type", when
// present, is mirrored into a message attribute for subscription filters.
func (s *SNSClient) Publish(ctx context.Context, topicArn string, message []byte) error {
	if topicArn == "" {
		return ErrNoTopic
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          sdkaws.String(topicArn),
		Message:           sdkaws.String(string(message)),
		MessageAttributes: eventAttributes(message),
	})
	if err != nil {
		return fmt.Errorf("sns: publish to %s: %w", topicArn, err)
	}
	return nil
}

func eventAttributes(message []byte) map[string]types.MessageAttributeValue {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if json.Unmarshal(message, &envelope) != nil || envelope.EventType == "" {
		return nil
	}
	return map[string]types.MessageAttributeValue{
		"event_type": {DataType: sdkaws.String("String"), StringValue: sdkaws.String(envelope.EventType)},
	}
}
