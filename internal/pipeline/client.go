// Package pipeline is the gRPC client for the conversation pipeline,
// the downstream service that turns a user transcript into the
// assistant's reply.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/voxgate/audio-gateway/internal/config"
	"github.com/voxgate/audio-gateway/internal/observability"
	"github.com/voxgate/audio-gateway/internal/resilience"
)

// respondMethod is the full gRPC method name of the pipeline's reply
// call. Both sides exchange JSON frames, so no generated stubs are
// required here.
const respondMethod = "/conversation.v1.Pipeline/Respond"

// jsonCodec satisfies grpc's encoding.Codec with plain JSON framing
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

type respondRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type respondReply struct {
	Text            string `json:"text"`
	EndConversation bool   `json:"end_conversation"`
}

// Reply is the pipeline's answer to one user turn
type Reply struct {
	// Text is what the assistant should say
	Text string

	// EndConversation is set when the pipeline decides the session is
	// over (for example after repeated silent turns)
	EndConversation bool
}

// Client manages the gRPC connection to the conversation pipeline
type Client struct {
	config  *config.Config
	breaker *resilience.CircuitBreaker
	log     zerolog.Logger

	mu          sync.RWMutex
	conn        *grpc.ClientConn
	isConnected bool
}

// NewClient dials the pipeline service. The dial is lazy: the
// connection is established on first use, so boot order between the
// gateway and the pipeline does not matter.
func NewClient(cfg *config.Config) (*Client, error) {
	c := &Client{
		config: cfg,
		breaker: resilience.NewCircuitBreaker(
			"pipeline",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		log: observability.WithComponent("pipeline"),
	}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to pipeline: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected && c.conn != nil {
		return nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.config.PipelineTimeoutS)*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, c.config.PipelineAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial pipeline at %s: %w", c.config.PipelineAddr, err)
	}

	c.conn = conn
	c.isConnected = true
	c.log.Info().Str("addr", c.config.PipelineAddr).Msg("Connected to conversation pipeline")
	return nil
}

// Respond sends one user turn and returns the assistant's reply. The
// call is wrapped in the circuit breaker and retried on transient
// transport errors.
func (c *Client) Respond(ctx context.Context, sessionID, text string) (*Reply, error) {
	req := &respondRequest{SessionID: sessionID, Text: text}
	resp := &respondReply{}

	err := c.breaker.Call(func() error {
		retryConfig := &resilience.RetryConfig{
			MaxAttempts:       c.config.RetryMaxAttempts,
			InitialBackoff:    time.Duration(c.config.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		}

		return resilience.Retry(func() error {
			c.mu.RLock()
			conn := c.conn
			connected := c.isConnected
			c.mu.RUnlock()

			if !connected || conn == nil {
				if err := c.connect(); err != nil {
					return err
				}
				c.mu.RLock()
				conn = c.conn
				c.mu.RUnlock()
			}

			callCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.PipelineTimeoutS)*time.Second)
			defer cancel()
			return conn.Invoke(callCtx, respondMethod, req, resp, grpc.ForceCodec(jsonCodec{}))
		}, retryConfig, resilience.IsRetryableNetworkError)
	})

	observability.UpdateCircuitBreakerState("pipeline", int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("pipeline")
		return nil, fmt.Errorf("pipeline respond failed: %w", err)
	}

	return &Reply{Text: resp.Text, EndConversation: resp.EndConversation}, nil
}

// HealthCheck asks the pipeline's standard gRPC health service whether
// it is serving
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	c.mu.RLock()
	conn := c.conn
	connected := c.isConnected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return false, fmt.Errorf("pipeline client is not connected")
	}

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.isConnected = false
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected returns whether the client currently holds a connection
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}
