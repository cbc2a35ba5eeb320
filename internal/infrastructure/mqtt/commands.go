package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// CommandHandler receives one engine command payload. Handlers run on
// paho goroutines; a returned error is logged.
type CommandHandler func(topic string, payload []byte) error

// HandleCommands subscribes handler to the engine command topic at the
// configured QoS, replacing any earlier handler. The subscription is
// re-established after every reconnect.
//
// Retained messages on the command topic are ignored so a stale command
// left on the broker cannot restart the engine on reconnect.
//
// Returns:
//   - error: ErrNotConnected, or ErrSubscribeFailed if the broker rejects it
func (c *Client) HandleCommands(handler CommandHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.cmdMu.Lock()
	c.commands = handler
	c.cmdMu.Unlock()

	if err := c.subscribeCommands(); err != nil {
		c.cmdMu.Lock()
		c.commands = nil
		c.cmdMu.Unlock()
		return err
	}
	return nil
}

func (c *Client) subscribeCommands() error {
	token := c.client.Subscribe(Topics{}.EngineCommand(), byte(c.cfg.QoS), c.onCommand)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// resubscribeCommands runs from the paho connect handler and must not
// wait on a token there.
func (c *Client) resubscribeCommands() {
	if c.commandHandler() == nil {
		return
	}
	c.client.Subscribe(Topics{}.EngineCommand(), byte(c.cfg.QoS), c.onCommand)
}

func (c *Client) commandHandler() CommandHandler {
	c.cmdMu.RLock()
	defer c.cmdMu.RUnlock()
	return c.commands
}

func (c *Client) onCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	if msg.Retained() {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("ignoring retained engine command", "topic", msg.Topic())
		}
		return
	}
	if handler := c.commandHandler(); handler != nil {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler with panic recovery.
func (c *Client) dispatch(handler CommandHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("engine command handler panic recovered", "topic", topic, "panic", r)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("engine command rejected", "topic", topic, "error", err)
		}
	}
}
