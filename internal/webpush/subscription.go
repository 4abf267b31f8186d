// Package webpush holds the client half of a Web Push channel: the
// subscription keying material and the aes128gcm decryption of incoming
// messages (RFC 8188 content coding, RFC 8291 key derivation).
package webpush

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Subscription is the locally persisted keying material for one push
// subscription. PrivateKey never leaves this file; the wire descriptor
// shared with the host application carries only the public half.
type Subscription struct {
	Endpoint   string `json:"endpoint"`
	PublicKey  string `json:"p256dh"`
	AuthSecret string `json:"auth"`
	PrivateKey string `json:"privateKey"`
}

// Descriptor is the wire form of a subscription, matching what browser
// push registrations serialize to.
type Descriptor struct {
	Endpoint string         `json:"endpoint"`
	Keys     DescriptorKeys `json:"keys"`
}

type DescriptorKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Generate creates a new subscription: a P-256 key pair plus the 16-byte
// auth secret.
func Generate(endpoint string) (*Subscription, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("webpush: generate key: %w", err)
	}

	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("webpush: generate auth secret: %w", err)
	}

	return &Subscription{
		Endpoint:   endpoint,
		PublicKey:  base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		AuthSecret: base64.RawURLEncoding.EncodeToString(auth),
		PrivateKey: base64.RawURLEncoding.EncodeToString(priv.Bytes()),
	}, nil
}

// Load reads a subscription from disk.
func Load(path string) (*Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("webpush: read subscription: %w", err)
	}
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("webpush: parse subscription: %w", err)
	}
	if _, _, _, err := sub.keyMaterial(); err != nil {
		return nil, err
	}
	return &sub, nil
}

// LoadOrGenerate loads the subscription at path, creating and persisting a
// fresh one when the file does not exist.
func LoadOrGenerate(path, endpoint string, logger *slog.Logger) (*Subscription, error) {
	sub, err := Load(path)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	sub, err = Generate(endpoint)
	if err != nil {
		return nil, err
	}
	if err := sub.Save(path); err != nil {
		return nil, err
	}
	logger.Info("generated push subscription", "path", path, "endpoint", endpoint)
	return sub, nil
}

// Save persists the subscription. The file holds a private key, so it is
// not group or world readable.
func (s *Subscription) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("webpush: marshal subscription: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("webpush: write subscription: %w", err)
	}
	return nil
}

// Descriptor returns the shareable wire form.
func (s *Subscription) Descriptor() Descriptor {
	return Descriptor{
		Endpoint: s.Endpoint,
		Keys:     DescriptorKeys{P256DH: s.PublicKey, Auth: s.AuthSecret},
	}
}

// keyMaterial decodes the stored fields into usable keys.
func (s *Subscription) keyMaterial() (priv *ecdh.PrivateKey, pub, auth []byte, err error) {
	privBytes, err := base64.RawURLEncoding.DecodeString(s.PrivateKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("webpush: decode private key: %w", err)
	}
	priv, err = ecdh.P256().NewPrivateKey(privBytes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("webpush: private key: %w", err)
	}

	pub, err = base64.RawURLEncoding.DecodeString(s.PublicKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("webpush: decode public key: %w", err)
	}
	auth, err = base64.RawURLEncoding.DecodeString(s.AuthSecret)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("webpush: decode auth secret: %w", err)
	}
	return priv, pub, auth, nil
}
