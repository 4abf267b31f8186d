// Package push receives push messages over MQTT and hands the decoded
// payloads to the notification dispatcher. The broker stands in for a
// platform push service; payloads may additionally be end-to-end encrypted
// with the Web Push aes128gcm coding.
package push

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kanbanhq/syncbox/internal/config"
	"github.com/kanbanhq/syncbox/internal/webpush"
)

// Source subscribes to the push topic and forwards each message to the
// handler. With aes128gcm encryption enabled, messages are decrypted with
// the local subscription keys first; anything that fails to decrypt is
// logged and dropped.
type Source struct {
	cfg          config.PushConfig
	subscription *webpush.Subscription
	handle       func(raw []byte)
	logger       *slog.Logger

	client        Client
	clientFactory func(opts *mqtt.ClientOptions) Client

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func NewSource(cfg config.PushConfig, sub *webpush.Subscription, handle func([]byte), logger *slog.Logger) *Source {
	return &Source{
		cfg:          cfg,
		subscription: sub,
		handle:       handle,
		logger:       logger.With("component", "push"),
		clientFactory: func(opts *mqtt.ClientOptions) Client {
			return &pahoClient{client: mqtt.NewClient(opts)}
		},
	}
}

// NewSourceWithClient injects a client factory for tests.
func NewSourceWithClient(cfg config.PushConfig, sub *webpush.Subscription, handle func([]byte), logger *slog.Logger, factory func(*mqtt.ClientOptions) Client) *Source {
	s := NewSource(cfg, sub, handle, logger)
	s.clientFactory = factory
	return s
}

func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.cfg.Encryption == "aes128gcm" && s.subscription == nil {
		return fmt.Errorf("push: aes128gcm requires a subscription")
	}

	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("syncbox-%d", time.Now().Unix())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(clientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // queued QoS 1 messages survive a reconnect
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		s.logger.Warn("push broker connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.logger.Info("push broker connected, subscribing", "topic", s.cfg.Topic)
		if err := s.subscribe(); err != nil {
			s.logger.Error("push subscribe failed", "error", err)
		}
	})

	s.client = s.clientFactory(opts)

	s.logger.Info("connecting to push broker", "broker", s.cfg.Broker, "clientId", clientID)
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("push: connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("push: connect: %w", err)
	}

	s.running = true
	s.logger.Info("push source started")
	return nil
}

func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.wg.Wait()
	s.logger.Info("push source stopped")
}

func (s *Source) subscribe() error {
	token := s.client.Subscribe(s.cfg.Topic, 1, s.handleMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("push: subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("push: subscribe %s: %w", s.cfg.Topic, err)
	}
	s.logger.Info("subscribed to push topic", "topic", s.cfg.Topic)
	return nil
}

func (s *Source) handleMessage(client mqtt.Client, msg mqtt.Message) {
	s.wg.Add(1)
	defer s.wg.Done()

	raw := msg.Payload()
	s.logger.Debug("push message received", "topic", msg.Topic(), "size", len(raw))

	if s.cfg.Encryption == "aes128gcm" {
		plaintext, err := s.subscription.Decrypt(raw)
		if err != nil {
			s.logger.Warn("dropping undecryptable push message", "error", err)
			return
		}
		raw = plaintext
	}

	s.handle(raw)
}
