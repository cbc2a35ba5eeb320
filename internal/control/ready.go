package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/clashxw/clashxw-core/internal/controlplane"
)

const (
	readyPollInterval = 100 * time.Millisecond
	readyDialTimeout  = 500 * time.Millisecond
)

// waitForReady polls the profile's control-plane port until it accepts a
// TCP connection. Profiles without a controller are ready immediately.
func (c *Controller) waitForReady(ctx context.Context, path string) error {
	if c.opts.ReadyTimeout <= 0 {
		return nil
	}

	details, ok := controlplane.ReadAPIDetails(path)
	if !ok {
		return nil
	}

	addr, err := dialAddress(details.Controller)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.opts.ReadyTimeout)
	c.logger.Debug("waiting for engine control plane", "address", addr)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for engine: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for engine on %s after %v", addr, c.opts.ReadyTimeout)
		}

		if !c.supervisor.IsRunning() {
			if last := c.supervisor.Status().LastError; last != "" {
				return fmt.Errorf("engine exited: %s", last)
			}
			return errors.New("engine exited before its control plane was ready")
		}

		conn, err := net.DialTimeout("tcp", addr, readyDialTimeout)
		if err == nil {
			conn.Close() //nolint:errcheck // Readiness check only
			c.logger.Info("engine control plane ready", "address", addr)
			return nil
		}

		time.Sleep(readyPollInterval)
	}
}

// dialAddress turns a controller host:port into an address the local host
// can dial. Wildcard listen addresses are dialled on loopback.
func dialAddress(controller string) (string, error) {
	host, port, err := net.SplitHostPort(controller)
	if err != nil {
		return "", fmt.Errorf("invalid controller address %q: %w", controller, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}
