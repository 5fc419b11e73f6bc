package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

// Role decides which charge event resources a process must be able to see.
type Role int

const (
	// RolePublisher needs the charge events topic.
	RolePublisher Role = iota + 1
	// RoleSubscriber needs the orders subscription.
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

type resource struct {
	kind resourceKind
	name string
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client is a Pub/Sub v2 client scoped to one GCP project and role.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	required  []resource
}

// NewClient dials Pub/Sub and fails when a resource the role depends on is
// missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	required, err := requiredResources(role, cfg)
	if err != nil {
		return nil, err
	}

	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: projectID, cfg: cfg, required: required}
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"project": projectID,
		"role":    role.String(),
	}), "pubsub client initialized")
	return c, nil
}

func requiredResources(role Role, cfg config.PubSubConfig) ([]resource, error) {
	var (
		kind resourceKind
		name string
	)
	switch role {
	case RolePublisher:
		kind, name = kindTopic, cfg.ChargesTopic
	case RoleSubscriber:
		kind, name = kindSubscription, cfg.ChargesSubscription
	default:
		return nil, fmt.Errorf("unsupported pubsub role %d", role)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("pubsub %s name is required for role %s", strings.TrimSuffix(string(kind), "s"), role)
	}
	return []resource{{kind: kind, name: name}}, nil
}

// clientOptions prefers inline credentials, then a credentials file, then
// application default credentials.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func (c *Client) verify(ctx context.Context) error {
	for _, res := range c.required {
		full := resourceName(c.projectID, res.kind, res.name)
		var err error
		switch res.kind {
		case kindTopic:
			_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		case kindSubscription:
			_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
		}
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s does not exist", full)
		}
		if err != nil {
			return fmt.Errorf("checking %s: %w", full, err)
		}
	}
	return nil
}

// resourceName expands a bare id into projects/<p>/<kind>/<id>. Full resource
// names pass through so a subscription may live in another project.
func resourceName(projectID string, kind resourceKind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" || projectID == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+string(kind)+"/") {
		return n
	}
	return "projects/" + projectID + "/" + string(kind) + "/" + n
}

// Subscription returns a subscriber for an id or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// ChargesSubscription feeds the order state machine.
func (c *Client) ChargesSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.ChargesSubscription)
}

func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindTopic, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

// Ping re-checks the resources the client was created for.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
