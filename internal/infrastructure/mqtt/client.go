package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/speechlink/internal/infrastructure/config"
)

// pahoClient is the subset of pahomqtt.Client the connection manager uses.
type pahoClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
}

// Client owns the single outbound connection to the message-bus broker.
//
// It wraps paho.mqtt.golang with an explicit ConnectionState lifecycle:
// Start begins connecting in the background, paho retries and reconnects on
// its own, Publish refuses to send unless Connected, and Stop tears
// everything down from any state.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cfg       config.MQTTConfig
	options   *pahomqtt.ClientOptions
	newClient func(*pahomqtt.ClientOptions) pahoClient

	// lifecycleMu serialises Start and Stop.
	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	client   pahoClient
	state    ConnectionState
	attempts int           // connection attempts since the last successful connect
	changed  chan struct{} // closed and replaced on every state change

	// Callbacks for connection events (optional).
	onConnect     func()
	onDisconnect  func(err error)
	onStateChange func(ConnectionState)
	callbackMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New creates a connection manager in the Disconnected state.
// No network activity happens until Start is called.
//
// It configures:
//  1. Connection options from config (broker URL, auth, TLS)
//  2. Last Will and Testament on the client status topic
//  3. Connect/lost/attempt handlers that drive ConnectionState
func New(cfg config.MQTTConfig) *Client {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:     cfg,
		options: opts,
		newClient: func(o *pahomqtt.ClientOptions) pahoClient {
			return pahomqtt.NewClient(o)
		},
		state:   StateDisconnected,
		changed: make(chan struct{}),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		c.handleConnectionAttempt(broker)
		return tlsCfg
	})

	return c
}

// Start begins connecting to the broker asynchronously and returns at once.
//
// The state moves Disconnected → Connecting; the OnConnect handler moves it
// to Connected when the transport is up. Calling Start while already
// started is a no-op.
func (c *Client) Start() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.client = c.newClient(c.options)
	c.attempts = 0
	client := c.client
	c.mu.Unlock()

	c.setState(StateConnecting, StateDisconnected)

	token := client.Connect()
	go c.awaitConnect(token)
}

// awaitConnect logs the outcome of the initial connect token.
// With ConnectRetry the token only completes once connected or when the
// client is stopped, so an error here is informational.
func (c *Client) awaitConnect(token pahomqtt.Token) {
	<-token.Done()
	if err := token.Error(); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Debug("MQTT connect token finished with error", "error", err)
		}
	}
}

// handleConnect is called by paho whenever a connection is established.
func (c *Client) handleConnect() {
	if !c.setState(StateConnected, StateConnecting, StateConnected) {
		// Stop raced with the connection; ignore
		return
	}

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleConnectionLost is called by paho when an established connection drops.
// paho reconnects automatically, so the state returns to Connecting.
func (c *Client) handleConnectionLost(err error) {
	if !c.setState(StateConnecting, StateConnected) {
		return
	}

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost, reconnecting", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// handleConnectionAttempt counts attempts and gives up once the configured
// ceiling is exceeded. Zero MaxAttempts means retry forever.
func (c *Client) handleConnectionAttempt(broker *url.URL) {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if logger := c.getLogger(); logger != nil && broker != nil {
		logger.Debug("MQTT connection attempt", "broker", broker.Host, "attempt", attempt)
	}

	maxAttempts := c.cfg.Reconnect.MaxAttempts
	if maxAttempts > 0 && attempt > maxAttempts {
		// Stop calls Disconnect, which must not run on paho's connect goroutine
		go c.giveUp(attempt - 1)
	}
}

// giveUp stops the client after too many failed connection attempts.
func (c *Client) giveUp(attempts int) {
	if logger := c.getLogger(); logger != nil {
		logger.Error("MQTT giving up on broker",
			"error", ErrConnectionFailed,
			"attempts", attempts,
			"broker", c.cfg.BrokerURL(),
		)
	}
	c.Stop() //nolint:errcheck // Stop never fails
}

// publishOnlineStatus publishes the retained online status for this client.
func (c *Client) publishOnlineStatus() {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return
	}

	topic := Topics{}.ClientStatus(c.cfg.Broker.ClientID)
	payload := buildOnlinePayload(c.cfg.Broker.ClientID)
	client.Publish(topic, 1, true, payload)
}

// Stop gracefully disconnects from the broker and releases the paho client.
//
// It performs:
//  1. Connecting/Connected → Closing
//  2. Publishes graceful offline status when connected
//  3. Disconnects, letting pending publishes drain for the quiesce period
//  4. Closing → Disconnected
//
// Safe to call from any state, including before Start and after a previous Stop.
func (c *Client) Stop() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.RLock()
	wasConnected := c.state == StateConnected
	client := c.client
	c.mu.RUnlock()

	if !c.setState(StateClosing, StateConnecting, StateConnected) {
		return nil
	}

	if client != nil {
		if wasConnected && client.IsConnected() {
			topic := Topics{}.ClientStatus(c.cfg.Broker.ClientID)
			payload := buildOfflinePayload(c.cfg.Broker.ClientID)
			token := client.Publish(topic, 1, true, payload)
			token.WaitTimeout(defaultPublishTimeout)
		}
		client.Disconnect(defaultDisconnectQuiesce)
	}

	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()

	c.setState(StateDisconnected, StateClosing)
	return nil
}

// setState moves to the target state if the current state is one of from
// (any state when from is empty). Observers are notified outside the lock.
// Returns false when the transition was not allowed.
func (c *Client) setState(to ConnectionState, from ...ConnectionState) bool {
	c.mu.Lock()
	if len(from) > 0 {
		allowed := false
		for _, s := range from {
			if c.state == s {
				allowed = true
				break
			}
		}
		if !allowed {
			c.mu.Unlock()
			return false
		}
	}
	prev := c.state
	c.state = to
	if prev != to {
		close(c.changed)
		c.changed = make(chan struct{})
	}
	c.mu.Unlock()

	if prev == to {
		return true
	}

	if logger := c.getLogger(); logger != nil {
		logger.Debug("MQTT state changed", "from", prev.String(), "to", to.String())
	}

	c.callbackMu.RLock()
	callback := c.onStateChange
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(to)
	}
	return true
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// WaitConnected blocks until the client is Connected or ctx is done.
// Returns ErrNotConnected if the client is stopped while waiting.
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		c.mu.RLock()
		state := c.state
		changed := c.changed
		c.mu.RUnlock()

		switch state {
		case StateConnected:
			return nil
		case StateDisconnected, StateClosing:
			return ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for broker: %w", ctx.Err())
		case <-changed:
		}
	}
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether the client is Connected and the underlying
// paho client agrees.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when an established
// connection is lost. The error describes why.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnStateChange sets a callback invoked after every ConnectionState transition.
func (c *Client) SetOnStateChange(callback func(ConnectionState)) {
	c.callbackMu.Lock()
	c.onStateChange = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection and delivery diagnostics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
