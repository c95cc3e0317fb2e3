package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type awsSNSSender struct {
	topicARN string
	client   snsAPI
	log      Logger
}

func newAWSSNSSender(ctx context.Context, cfg PublisherConfig, log Logger) (Sender, error) {
	if cfg.SNS == nil || strings.TrimSpace(cfg.SNS.TopicARN) == "" {
		return nil, errors.New("sns topic_arn is required")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.SNS.Region, cfg.SNS.AccessKeyID, cfg.SNS.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.SNS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SNS.Endpoint)
		}
	})
	return &awsSNSSender{topicARN: cfg.SNS.TopicARN, client: client, log: ensureLogger(log)}, nil
}

func (s *awsSNSSender) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(s.topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: snsAttributes(evt),
	})
	if err != nil {
		s.log.Errorf("sns publish failed for %s: %v", evt.DedupKey, err)
		return fmt.Errorf("sns publish: %w", err)
	}
	s.log.Infof("published %s event to sns message_id=%s", evt.Kind, aws.ToString(out.MessageId))
	return nil
}

func snsAttributes(evt Event) map[string]types.MessageAttributeValue {
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
