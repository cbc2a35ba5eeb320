package influxdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/clashxw/clashxw-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	// hostTag is added to every point so several machines can share a bucket.
	hostTag = "host"
)

var errNotReady = errors.New("server not ready")

// Client writes engine lifecycle points through the batched, non-blocking
// write API.
//
// Thread Safety:
//   - All methods are safe for concurrent use, including on a nil *Client.
type Client struct {
	client influxdb2.Client
	writes api.WriteAPI

	// closed is guarded by writeMu; WriteEngineEvent holds the read lock.
	closed  bool
	writeMu sync.RWMutex

	failures atomic.Uint64
	drained  chan struct{}

	onError func(err error)
	mu      sync.RWMutex
}

// Connect creates the client and starts the write API once the server
// answers a ping.
//
// Parameters:
//   - ctx: Bounds the initial ping together with a 10s limit
//   - cfg: InfluxDB section of the clashxw configuration
//
// Returns:
//   - *Client: Client ready for WriteEngineEvent
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping failure
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:  client,
		writes:  client.WriteAPI(cfg.Org, cfg.Bucket),
		drained: make(chan struct{}),
	}
	// Errors must be requested before the first write.
	go c.drainErrors(c.writes.Errors())

	return c, nil
}

// clientOptions applies batching defaults and tags points with the host name.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := time.Duration(cfg.FlushInterval) * time.Second
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval.Milliseconds()))
	if host, err := os.Hostname(); err == nil && host != "" {
		opts.AddDefaultTag(hostTag, host)
	}
	return opts
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ready, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errNotReady
	}
	return nil
}

// drainErrors counts asynchronous write failures until the write API
// closes its error channel.
func (c *Client) drainErrors(errs <-chan error) {
	defer close(c.drained)
	for err := range errs {
		c.failures.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// WriteFailures returns how many batches or points failed to write.
func (c *Client) WriteFailures() uint64 {
	if c == nil {
		return 0
	}
	return c.failures.Load()
}

// SetOnError sets a callback for asynchronous write failures. It runs on
// the client's error goroutine.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Close flushes queued points, closes the client and waits until every
// write failure has been reported. Later calls are no-ops.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	c.writeMu.Unlock()

	c.client.Close()
	<-c.drained
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(pingCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.writeMu.RLock()
	defer c.writeMu.RUnlock()
	return !c.closed
}
