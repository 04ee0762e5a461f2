package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// GRPCClient implements the Client interface using Qdrant's official Go client.
type GRPCClient struct {
	client *qdrant.Client
	config *ClientConfig
	logger *zap.Logger
}

// ClientConfig configures the Qdrant gRPC client.
type ClientConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334 (gRPC), not 6333 (HTTP)
	Port int

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key for authentication.
	APIKey string

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB (memory payloads can carry large transcripts)
	MaxMessageSize int

	// DialTimeout is the timeout for establishing the connection.
	// Default: 5 seconds
	DialTimeout time.Duration

	// RequestTimeout is the default timeout for individual requests.
	// Default: 30 seconds
	RequestTimeout time.Duration

	// RetryAttempts is the number of retries for transient failures.
	// Default: 3
	RetryAttempts int
}

// DefaultClientConfig returns sensible defaults for local development.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:           "localhost",
		Port:           6334,
		UseTLS:         false,
		MaxMessageSize: 50 * 1024 * 1024,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *ClientConfig) ApplyDefaults() {
	defaults := DefaultClientConfig()

	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaults.RetryAttempts
	}
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("invalid max message size: %d (must be > 0)", c.MaxMessageSize)
	}
	return nil
}

// NewGRPCClient creates a new Qdrant gRPC client and verifies the
// connection with a health check.
func NewGRPCClient(config *ClientConfig, logger *zap.Logger) (*GRPCClient, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}

	// For non-TLS connections, explicitly set insecure credentials.
	if !config.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	grpcClient := &GRPCClient{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	logger.Info("connecting to qdrant",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)

	if err := grpcClient.Health(ctx); err != nil {
		_ = client.Close()
		logger.Error("qdrant health check failed",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
			zap.Error(err),
		)
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	logger.Info("qdrant connection established",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)

	return grpcClient, nil
}

// Health performs a health check on the Qdrant connection.
func (c *GRPCClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	_, err := c.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// FindByField scrolls the collection for points whose payload matches
// value at the given field key and returns the first hit.
func (c *GRPCClient) FindByField(ctx context.Context, collection, field string, value string) (*Point, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	var points []*qdrant.RetrievedPoint
	err := c.retryOperation(ctx, func() error {
		result, err := c.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatch(field, value),
				},
			},
			Limit:       qdrant.PtrOf(uint32(1)),
			WithPayload: qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(points) == 0 {
		return nil, nil
	}
	return &Point{
		ID:      extractPointID(points[0].Id),
		Payload: extractPayload(points[0].Payload),
	}, nil
}

// OverwritePayload replaces the full payload of a point, leaving its
// vectors in place.
func (c *GRPCClient) OverwritePayload(ctx context.Context, collection, pointID string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	qdrantPayload, err := qdrant.TryValueMap(payload)
	if err != nil {
		return fmt.Errorf("unsupported payload value: %w", err)
	}

	return c.retryOperation(ctx, func() error {
		_, err := c.client.OverwritePayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: collection,
			Payload:        qdrantPayload,
			PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID)),
		})
		return err
	})
}

// Close closes the client connection.
func (c *GRPCClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (c *GRPCClient) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := time.Second
	startTime := time.Now()

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				c.logger.Info("operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return nil
		}

		lastErr = err

		if !isTransientError(err) {
			return err
		}

		if attempt == c.config.RetryAttempts {
			break
		}

		c.logger.Debug("retrying operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.config.RetryAttempts),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	c.logger.Warn("operation failed after all retries exhausted",
		zap.Int("total_attempts", c.config.RetryAttempts+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
	)

	return fmt.Errorf("operation failed after %d retries: %w", c.config.RetryAttempts, lastErr)
}

// isTransientError checks if an error is transient and should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func extractPointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch pid := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return pid.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", pid.Num)
	default:
		return ""
	}
}

func extractPayload(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return nil
	}

	result := make(map[string]any)
	for k, v := range payload {
		result[k] = extractValue(v)
	}
	return result
}

func extractValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}

	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_StructValue:
		if val.StructValue == nil {
			return nil
		}
		return extractPayload(val.StructValue.Fields)
	case *qdrant.Value_ListValue:
		if val.ListValue == nil {
			return nil
		}
		items := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			items[i] = extractValue(item)
		}
		return items
	default:
		return nil
	}
}

// Ensure GRPCClient implements Client interface
var _ Client = (*GRPCClient)(nil)
