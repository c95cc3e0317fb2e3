package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TypeSQS    = "aws_sqs"
	TypeSNS    = "aws_sns"
	TypePubSub = "gcp_pubsub"
	TypeHTTP   = "http"
)

// PublisherConfig is one entry of the publishers registry file.
type PublisherConfig struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	Enabled *bool  `json:"enabled" yaml:"enabled"`

	SQS    *SQSPublisherConfig    `json:"sqs,omitempty" yaml:"sqs,omitempty"`
	SNS    *SNSPublisherConfig    `json:"sns,omitempty" yaml:"sns,omitempty"`
	PubSub *PubSubPublisherConfig `json:"pubsub,omitempty" yaml:"pubsub,omitempty"`
	HTTP   *HTTPPublisherConfig   `json:"http,omitempty" yaml:"http,omitempty"`
}

// IsEnabled treats a missing enabled flag as on.
func (c PublisherConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type SQSPublisherConfig struct {
	QueueURL        string `json:"queue_url" yaml:"queue_url"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

type SNSPublisherConfig struct {
	TopicARN        string `json:"topic_arn" yaml:"topic_arn"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

type PubSubPublisherConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	TopicID         string `json:"topic_id" yaml:"topic_id"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

type HTTPPublisherConfig struct {
	URL       string            `json:"url" yaml:"url"`
	TimeoutMs int               `json:"timeout_ms" yaml:"timeout_ms"`
	Headers   map[string]string `json:"headers" yaml:"headers"`
}

type registryFile struct {
	Publishers []PublisherConfig `json:"publishers" yaml:"publishers"`
}

// LoadRegistry reads the publishers registry file. A missing file means no
// downstream fanout and is not an error.
func LoadRegistry(path string) ([]PublisherConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read publishers file: %w", err)
	}

	var reg registryFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &reg)
	default:
		err = yaml.Unmarshal(raw, &reg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode publishers file: %w", err)
	}

	seen := make(map[string]struct{}, len(reg.Publishers))
	for i := range reg.Publishers {
		c := &reg.Publishers[i]
		c.ID = strings.TrimSpace(c.ID)
		c.Type = strings.ToLower(strings.TrimSpace(c.Type))
		if c.ID == "" {
			return nil, fmt.Errorf("publisher[%d]: id is required", i)
		}
		if c.Type == "" {
			return nil, fmt.Errorf("publisher %q: type is required", c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("duplicate publisher id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return reg.Publishers, nil
}

// Enabled filters the registry down to entries that should be built.
func Enabled(cfgs []PublisherConfig) []PublisherConfig {
	out := make([]PublisherConfig, 0, len(cfgs))
	for _, c := range cfgs {
		if c.IsEnabled() {
			out = append(out, c)
		}
	}
	return out
}

// Builder constructs the sender for one registry entry.
type Builder func(ctx context.Context, cfg PublisherConfig, log Logger) (Sender, error)

// Registry maps publisher types onto their builders.
type Registry map[string]Builder

// DefaultRegistry wires up the built-in publisher types.
func DefaultRegistry() Registry {
	return Registry{
		TypeSQS:    newAWSSQSSender,
		TypeSNS:    newAWSSNSSender,
		TypePubSub: newGCPPubSubSender,
		TypeHTTP:   newHTTPSender,
	}
}

// BuildAll constructs a publisher for every config entry. One bad entry
// fails the whole build; a partially configured fanout silently dropping
// events is worse than failing at startup.
func BuildAll(ctx context.Context, reg Registry, cfgs []PublisherConfig, log Logger) ([]Publisher, error) {
	if reg == nil {
		return nil, errors.New("publisher registry is nil")
	}
	log = ensureLogger(log)

	pubs := make([]Publisher, 0, len(cfgs))
	for _, cfg := range cfgs {
		build, ok := reg[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("publisher %q: unknown type %q", cfg.ID, cfg.Type)
		}
		sender, err := build(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("publisher %q: %w", cfg.ID, err)
		}
		pubs = append(pubs, &senderPublisher{id: cfg.ID, typ: cfg.Type, sender: sender})
	}
	return pubs, nil
}
