package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/speechlink/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Scheme:   "tcp",
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "speechlink-test",
		},
		QoS:   0,
		Topic: "peopleconnect/speech",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// fakeToken is a paho token that has already completed.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records calls made by Client. Handlers are driven by the test.
type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	connectCalls int
	disconnects  int
	publishes    []published
	publishErr   error
}

func (f *fakePaho) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return newFakeToken(nil)
}

func (f *fakePaho) Disconnect(_ uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	f.publishes = append(f.publishes, published{topic: topic, qos: qos, retained: retained, payload: data})
	return newFakeToken(f.publishErr)
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakePaho) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.publishes))
	copy(out, f.publishes)
	return out
}

// newTestClient builds a Client whose paho client is the returned fake.
func newTestClient(t *testing.T, cfg config.MQTTConfig) (*Client, *fakePaho) {
	t.Helper()
	fake := &fakePaho{}
	c := New(cfg)
	c.newClient = func(*pahomqtt.ClientOptions) pahoClient { return fake }
	return c, fake
}

// connect drives the client to Connected the way paho would.
func connect(t *testing.T, c *Client, fake *fakePaho) {
	t.Helper()
	c.Start()
	fake.setConnected(true)
	c.handleConnect()
	if got := c.State(); got != StateConnected {
		t.Fatalf("State() = %v, want connected", got)
	}
}

func waitForState(t *testing.T, c *Client, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", c.State(), want)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestNewStartsDisconnected(t *testing.T) {
	c, fake := newTestClient(t, testConfig())

	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Start")
	}
	if fake.connectCalls != 0 {
		t.Errorf("Connect called %d times before Start", fake.connectCalls)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	c, fake := newTestClient(t, testConfig())

	c.Start()
	c.Start()

	if got := c.State(); got != StateConnecting {
		t.Errorf("State() = %v, want connecting", got)
	}
	if fake.connectCalls != 1 {
		t.Errorf("Connect called %d times, want 1", fake.connectCalls)
	}
}

func TestHandleConnectPublishesOnlineStatus(t *testing.T) {
	c, fake := newTestClient(t, testConfig())

	var connected bool
	c.SetOnConnect(func() { connected = true })

	connect(t, c, fake)

	if !connected {
		t.Error("OnConnect callback not invoked")
	}
	pubs := fake.snapshot()
	if len(pubs) != 1 {
		t.Fatalf("publishes = %d, want 1", len(pubs))
	}
	if pubs[0].topic != "peopleconnect/client/speechlink-test/status" {
		t.Errorf("status topic = %q", pubs[0].topic)
	}
	if !pubs[0].retained || pubs[0].qos != 1 {
		t.Errorf("status message qos=%d retained=%v, want qos=1 retained", pubs[0].qos, pubs[0].retained)
	}
	if !strings.Contains(string(pubs[0].payload), `"status":"online"`) {
		t.Errorf("status payload = %s", pubs[0].payload)
	}
}

func TestHandleConnectIgnoredWhenStopped(t *testing.T) {
	c, fake := newTestClient(t, testConfig())

	c.handleConnect()

	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
	if len(fake.snapshot()) != 0 {
		t.Error("status published while disconnected")
	}
}

func TestConnectionLostReturnsToConnecting(t *testing.T) {
	c, fake := newTestClient(t, testConfig())

	var lostErr error
	c.SetOnDisconnect(func(err error) { lostErr = err })

	connect(t, c, fake)
	fake.setConnected(false)
	c.handleConnectionLost(errors.New("EOF"))

	if got := c.State(); got != StateConnecting {
		t.Errorf("State() = %v, want connecting", got)
	}
	if lostErr == nil {
		t.Error("OnDisconnect callback not invoked")
	}

	// Reconnect
	fake.setConnected(true)
	c.handleConnect()
	if got := c.State(); got != StateConnected {
		t.Errorf("State() after reconnect = %v, want connected", got)
	}
}

func TestStopFromConnected(t *testing.T) {
	c, fake := newTestClient(t, testConfig())
	connect(t, c, fake)

	var states []ConnectionState
	var mu sync.Mutex
	c.SetOnStateChange(func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := c.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
	if fake.disconnects != 1 {
		t.Errorf("Disconnect called %d times, want 1", fake.disconnects)
	}

	pubs := fake.snapshot()
	last := pubs[len(pubs)-1]
	if !strings.Contains(string(last.payload), "graceful_shutdown") {
		t.Errorf("last publish = %s, want graceful offline status", last.payload)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []ConnectionState{StateClosing, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("state changes = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state change %d = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestStopFromAnyState(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		c, fake := newTestClient(t, testConfig())
		if err := c.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		if fake.disconnects != 0 {
			t.Error("Disconnect called without a client")
		}
	})

	t.Run("while connecting", func(t *testing.T) {
		c, fake := newTestClient(t, testConfig())
		c.Start()
		if err := c.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		if got := c.State(); got != StateDisconnected {
			t.Errorf("State() = %v, want disconnected", got)
		}
		if len(fake.snapshot()) != 0 {
			t.Error("offline status published although never connected")
		}
	})

	t.Run("twice", func(t *testing.T) {
		c, fake := newTestClient(t, testConfig())
		connect(t, c, fake)
		_ = c.Stop()
		if err := c.Stop(); err != nil {
			t.Errorf("second Stop() error = %v", err)
		}
		if fake.disconnects != 1 {
			t.Errorf("Disconnect called %d times, want 1", fake.disconnects)
		}
	})
}

func TestRestartAfterStop(t *testing.T) {
	c, fake := newTestClient(t, testConfig())
	connect(t, c, fake)
	_ = c.Stop()

	c.Start()
	if got := c.State(); got != StateConnecting {
		t.Errorf("State() = %v, want connecting", got)
	}
	if fake.connectCalls != 2 {
		t.Errorf("Connect called %d times, want 2", fake.connectCalls)
	}
}

func TestMaxAttemptsGivesUp(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 2
	c, _ := newTestClient(t, cfg)
	c.Start()

	c.handleConnectionAttempt(nil)
	c.handleConnectionAttempt(nil)
	if got := c.State(); got != StateConnecting {
		t.Fatalf("State() after %d attempts = %v, want connecting", 2, got)
	}

	c.handleConnectionAttempt(nil)
	waitForState(t, c, StateDisconnected)
}

func TestUnlimitedAttempts(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	c.Start()

	for i := 0; i < 50; i++ {
		c.handleConnectionAttempt(nil)
	}
	time.Sleep(20 * time.Millisecond)

	if got := c.State(); got != StateConnecting {
		t.Errorf("State() = %v, want connecting", got)
	}
}

func TestAttemptsResetOnConnect(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 2
	c, fake := newTestClient(t, cfg)
	c.Start()

	c.handleConnectionAttempt(nil)
	c.handleConnectionAttempt(nil)
	fake.setConnected(true)
	c.handleConnect()
	c.handleConnectionLost(errors.New("reset"))
	c.handleConnectionAttempt(nil)
	time.Sleep(20 * time.Millisecond)

	if got := c.State(); got != StateConnecting {
		t.Errorf("State() = %v, want connecting", got)
	}
}

func TestWaitConnected(t *testing.T) {
	t.Run("connects", func(t *testing.T) {
		c, fake := newTestClient(t, testConfig())
		c.Start()

		errCh := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			errCh <- c.WaitConnected(ctx)
		}()

		time.Sleep(10 * time.Millisecond)
		fake.setConnected(true)
		c.handleConnect()

		if err := <-errCh; err != nil {
			t.Errorf("WaitConnected() error = %v", err)
		}
	})

	t.Run("context expires", func(t *testing.T) {
		c, _ := newTestClient(t, testConfig())
		c.Start()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := c.WaitConnected(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("WaitConnected() error = %v, want DeadlineExceeded", err)
		}
	})

	t.Run("not started", func(t *testing.T) {
		c, _ := newTestClient(t, testConfig())
		if err := c.WaitConnected(context.Background()); !errors.Is(err, ErrNotConnected) {
			t.Errorf("WaitConnected() error = %v, want ErrNotConnected", err)
		}
	})
}

func TestHealthCheck(t *testing.T) {
	c, fake := newTestClient(t, testConfig())

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() disconnected error = %v, want ErrNotConnected", err)
	}

	connect(t, c, fake)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() connected error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() cancelled error = %v, want Canceled", err)
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublishNotConnected(t *testing.T) {
	c, fake := newTestClient(t, testConfig())

	err := c.Publish("peopleconnect/speech", []byte(`{"speech":["AA=="]}`), 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() before Start error = %v, want ErrNotConnected", err)
	}

	c.Start()
	err = c.Publish("peopleconnect/speech", []byte(`{"speech":["AA=="]}`), 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() while connecting error = %v, want ErrNotConnected", err)
	}

	if len(fake.snapshot()) != 0 {
		t.Error("message reached paho while not connected")
	}
}

func TestPublishConnected(t *testing.T) {
	c, fake := newTestClient(t, testConfig())
	connect(t, c, fake)

	payload := []byte(`{"speech":["AA=="]}`)
	if err := c.Publish(Topics{}.Speech(), payload, 0, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	pubs := fake.snapshot()
	last := pubs[len(pubs)-1]
	if last.topic != "peopleconnect/speech" {
		t.Errorf("topic = %q", last.topic)
	}
	if string(last.payload) != string(payload) {
		t.Errorf("payload = %s, want %s", last.payload, payload)
	}
	if last.qos != 0 || last.retained {
		t.Errorf("qos=%d retained=%v, want qos=0 not retained", last.qos, last.retained)
	}
}

func TestPublishTransportDisagrees(t *testing.T) {
	c, fake := newTestClient(t, testConfig())
	connect(t, c, fake)

	// paho noticed the drop before the lost handler ran
	fake.setConnected(false)

	err := c.Publish(Topics{}.Speech(), []byte("x"), 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c, fake := newTestClient(t, testConfig())
	connect(t, c, fake)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"qos too high", "peopleconnect/speech", []byte("x"), 3, ErrInvalidQoS},
		{"payload too large", "peopleconnect/speech", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishDeliveryFailureIsLogged(t *testing.T) {
	c, fake := newTestClient(t, testConfig())
	logger := &mockLogger{}
	c.SetLogger(logger)
	connect(t, c, fake)

	fake.mu.Lock()
	fake.publishErr = errors.New("broker said no")
	fake.mu.Unlock()

	if err := c.Publish(Topics{}.Speech(), []byte("x"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v, want nil for async failure", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if logger.errorCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("delivery failure was not logged")
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		scheme     string
		path       string
		wantServer string
		wantTLS    bool
	}{
		{"tcp", "tcp", "", "tcp://127.0.0.1:1883", false},
		{"ssl", "ssl", "", "ssl://127.0.0.1:1883", true},
		{"websocket", "ws", "/mqtt", "ws://127.0.0.1:1883/mqtt", false},
		{"secure websocket", "wss", "/mqtt", "wss://127.0.0.1:1883/mqtt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Broker.Scheme = tt.scheme
			cfg.Broker.Path = tt.path

			opts := buildClientOptions(cfg)

			if len(opts.Servers) != 1 {
				t.Fatalf("Servers = %v, want one broker", opts.Servers)
			}
			if got := opts.Servers[0].String(); got != tt.wantServer {
				t.Errorf("server = %q, want %q", got, tt.wantServer)
			}
			if (opts.TLSConfig != nil) != tt.wantTLS {
				t.Errorf("TLSConfig set = %v, want %v", opts.TLSConfig != nil, tt.wantTLS)
			}
			if opts.ClientID != "speechlink-test" {
				t.Errorf("ClientID = %q", opts.ClientID)
			}
			if !opts.AutoReconnect || !opts.ConnectRetry {
				t.Error("AutoReconnect and ConnectRetry must both be enabled")
			}
			if opts.MaxReconnectInterval != 5*time.Second {
				t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
			}
		})
	}
}

func TestBuildClientOptionsAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "station"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if opts.Username != "station" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, "kitchen")

	if !opts.WillEnabled {
		t.Fatal("will not enabled")
	}
	if opts.WillTopic != "peopleconnect/client/kitchen/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if opts.WillQos != 1 || !opts.WillRetained {
		t.Errorf("will qos=%d retained=%v", opts.WillQos, opts.WillRetained)
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

// =============================================================================
// Topic and State Tests
// =============================================================================

func TestTopics(t *testing.T) {
	if got := (Topics{}).Speech(); got != "peopleconnect/speech" {
		t.Errorf("Speech() = %q", got)
	}
	if got := (Topics{}).ClientStatus("a1"); got != "peopleconnect/client/a1/status" {
		t.Errorf("ClientStatus() = %q", got)
	}
}

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateClosing, "closing"},
		{ConnectionState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestSetLogger(t *testing.T) {
	c := New(testConfig())

	logger := &mockLogger{}
	c.SetLogger(logger)
	if c.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	c.SetLogger(nil)
	if c.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Info(string, ...any)  {}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
