package push

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kanbanhq/syncbox/internal/config"
	"github.com/kanbanhq/syncbox/internal/webpush"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	subTopic   string
	subQoS     byte
	handler    mqtt.MessageHandler
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectErr != nil {
		return &fakeToken{err: c.connectErr}
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subTopic = topic
	c.subQoS = qos
	c.handler = callback
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testPushConfig() config.PushConfig {
	return config.PushConfig{
		Enabled:    true,
		Broker:     "tcp://localhost:1883",
		Topic:      "kanbanhq/push",
		Encryption: "none",
	}
}

func startSource(t *testing.T, cfg config.PushConfig, sub *webpush.Subscription, handle func([]byte)) (*Source, *fakeClient) {
	t.Helper()
	client := &fakeClient{}
	src := NewSourceWithClient(cfg, sub, handle, slog.Default(), func(opts *mqtt.ClientOptions) Client {
		return client
	})
	if err := src.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(src.Stop)

	// The real client subscribes from its on-connect callback; drive the
	// fake the same way.
	if err := src.subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return src, client
}

func TestStartSubscribesToTopic(t *testing.T) {
	_, client := startSource(t, testPushConfig(), nil, func([]byte) {})
	if client.subTopic != "kanbanhq/push" || client.subQoS != 1 {
		t.Errorf("subscribed to %q qos %d, want kanbanhq/push qos 1", client.subTopic, client.subQoS)
	}
}

func TestStartConnectFailure(t *testing.T) {
	client := &fakeClient{connectErr: fmt.Errorf("connection refused")}
	src := NewSourceWithClient(testPushConfig(), nil, func([]byte) {}, slog.Default(), func(opts *mqtt.ClientOptions) Client {
		return client
	})
	if err := src.Start(); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestPlainMessageForwarded(t *testing.T) {
	var mu sync.Mutex
	var got [][]byte
	_, client := startSource(t, testPushConfig(), nil, func(raw []byte) {
		mu.Lock()
		got = append(got, raw)
		mu.Unlock()
	})

	payload := []byte(`{"type":"card-assigned","title":"hi"}`)
	client.handler(nil, &fakeMessage{topic: "kanbanhq/push", payload: payload})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || string(got[0]) != string(payload) {
		t.Errorf("handler got %v, want the raw payload", got)
	}
}

func TestEncryptedMessageDecrypted(t *testing.T) {
	// Keys and ciphertext from the RFC 8291 interop vector.
	sub := &webpush.Subscription{
		Endpoint:   "https://push.example.net/send/abc",
		PublicKey:  "BCVxsr7N_eNgVRqvHtD0zTZsEc6-VV-JvLexhqUzORcxaOzi6-AYWXvTBHm4bjyPjs7Vd8pZGH6SRpkNtoIAiw4",
		AuthSecret: "BTBZMqHH6r4Tts7J_aSIgg",
		PrivateKey: "q1dXpw3UpT5VOmu_cf_v6ih07Aems3njxI-JWgLcM94",
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(
		"DGv6ra1nlYgDCS1FRnbzlwAAEABBBP4z9KsN6nGRTbVYI_c7VJSPQTBtkgcy27ml" +
			"mlMoZIIgDll6e3vCYLocInmYWAmS6TlzAC8wEqKK6PBru3jl7A_yl95bQpu6cVPT" +
			"pK4Mqgkf1CXztLVBSt2Ks3oZwbuwXPXLWyouBWLVWGNWQexSgSxsj_Qulcy4a-fN")
	if err != nil {
		t.Fatal(err)
	}

	cfg := testPushConfig()
	cfg.Encryption = "aes128gcm"

	var mu sync.Mutex
	var got []byte
	_, client := startSource(t, cfg, sub, func(raw []byte) {
		mu.Lock()
		got = raw
		mu.Unlock()
	})

	client.handler(nil, &fakeMessage{topic: "kanbanhq/push", payload: ciphertext})

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "When I grow up, I want to be a watermelon" {
		t.Errorf("decrypted payload = %q", got)
	}
}

func TestUndecryptableMessageDropped(t *testing.T) {
	sub, err := webpush.Generate("https://push.example.net/send/abc")
	if err != nil {
		t.Fatal(err)
	}
	cfg := testPushConfig()
	cfg.Encryption = "aes128gcm"

	called := false
	_, client := startSource(t, cfg, sub, func([]byte) { called = true })

	client.handler(nil, &fakeMessage{topic: "kanbanhq/push", payload: []byte("not a push message")})
	if called {
		t.Error("garbage payload reached the handler")
	}
}

func TestEncryptionRequiresSubscription(t *testing.T) {
	cfg := testPushConfig()
	cfg.Encryption = "aes128gcm"
	src := NewSourceWithClient(cfg, nil, func([]byte) {}, slog.Default(), func(opts *mqtt.ClientOptions) Client {
		return &fakeClient{}
	})
	if err := src.Start(); err == nil {
		t.Fatal("expected error without subscription keys")
	}
}
