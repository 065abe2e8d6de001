package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub settlement topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client publishes settlement events. Publishers are created once per topic
// and flushed on Close.
type Client struct {
	api          *pubsub.Client
	project      string
	topic        string
	subscription string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	topic := strings.TrimSpace(cfg.SettlementTopic)
	switch {
	case project == "":
		return nil, errProjectIDRequired
	case topic == "":
		return nil, errTopicRequired
	}

	api, err := pubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		api:          api,
		project:      project,
		topic:        topic,
		subscription: strings.TrimSpace(cfg.SettlementSubscription),
		publishers:   map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = api.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project": project,
			"topic":   topic,
		}), "pubsub.client_ready")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// Publisher returns the cached publisher for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.api == nil {
		return nil
	}
	full := c.qualify("topics", name)
	if full == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.api.Publisher(full)
	c.publishers[full] = p
	return p
}

// Ping fails when the settlement topic, or the subscription if one is
// configured, is missing.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errNotInitialized
	}
	_, err := c.api.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: c.qualify("topics", c.topic),
	})
	if err := describeLookup("topic", c.topic, err); err != nil {
		return err
	}
	if c.subscription == "" {
		return nil
	}
	_, err = c.api.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
		Subscription: c.qualify("subscriptions", c.subscription),
	})
	return describeLookup("subscription", c.subscription, err)
}

// Close flushes every publisher before releasing the connection.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.api.Close()
}

func (c *Client) qualify(kind, name string) string {
	if c == nil {
		return ""
	}
	return qualifiedName(c.project, kind, name)
}

func qualifiedName(project, kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + kind + "/" + name
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub %s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking pubsub %s %q: %w", kind, name, err)
	}
}
