package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI is the slice of the SQS client the sender needs; tests inject fakes.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type awsSQSSender struct {
	queueURL string
	client   sqsAPI
	log      Logger
}

func newAWSSQSSender(ctx context.Context, cfg PublisherConfig, log Logger) (Sender, error) {
	if cfg.SQS == nil || strings.TrimSpace(cfg.SQS.QueueURL) == "" {
		return nil, errors.New("sqs queue_url is required")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.SQS.Region, cfg.SQS.AccessKeyID, cfg.SQS.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.SQS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SQS.Endpoint)
		}
	})
	return &awsSQSSender{queueURL: cfg.SQS.QueueURL, client: client, log: ensureLogger(log)}, nil
}

func (s *awsSQSSender) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	out, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: sqsAttributes(evt),
	})
	if err != nil {
		s.log.Errorf("sqs send failed for %s: %v", evt.DedupKey, err)
		return fmt.Errorf("sqs send: %w", err)
	}
	s.log.Infof("published %s event to sqs message_id=%s", evt.Kind, aws.ToString(out.MessageId))
	return nil
}

func sqsAttributes(evt Event) map[string]types.MessageAttributeValue {
	src := evt.Attributes()
	attrs := make(map[string]types.MessageAttributeValue, len(src))
	for k, v := range src {
		if v == "" {
			continue
		}
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return attrs
}
