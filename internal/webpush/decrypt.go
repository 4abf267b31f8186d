package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	saltLen       = 16
	headerLen     = saltLen + 4 + 1 // salt | rs | idlen
	minRecordSize = 18              // delimiter byte + GCM tag
	pointLen      = 65              // uncompressed P-256 point

	keyInfoPrefix = "WebPush: info\x00"
	cekInfo       = "Content-Encoding: aes128gcm\x00"
	nonceInfo     = "Content-Encoding: nonce\x00"
)

// Decrypt opens an aes128gcm push message addressed to this subscription
// and returns the plaintext payload.
func (s *Subscription) Decrypt(message []byte) ([]byte, error) {
	priv, pub, auth, err := s.keyMaterial()
	if err != nil {
		return nil, err
	}
	return decrypt(message, priv, pub, auth)
}

func decrypt(message []byte, uaPriv *ecdh.PrivateKey, uaPub, authSecret []byte) ([]byte, error) {
	if len(message) < headerLen {
		return nil, fmt.Errorf("webpush: message shorter than coding header")
	}

	salt := message[:saltLen]
	recordSize := binary.BigEndian.Uint32(message[saltLen : saltLen+4])
	idLen := int(message[saltLen+4])

	if recordSize < minRecordSize {
		return nil, fmt.Errorf("webpush: record size %d below minimum", recordSize)
	}
	if idLen != pointLen {
		return nil, fmt.Errorf("webpush: keyid length %d, want %d byte sender key", idLen, pointLen)
	}
	if len(message) < headerLen+idLen+minRecordSize {
		return nil, fmt.Errorf("webpush: message truncated")
	}

	senderPub, err := ecdh.P256().NewPublicKey(message[headerLen : headerLen+idLen])
	if err != nil {
		return nil, fmt.Errorf("webpush: sender key: %w", err)
	}

	cek, baseNonce, err := deriveKeys(uaPriv, uaPub, senderPub, authSecret, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("webpush: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("webpush: gcm: %w", err)
	}

	body := message[headerLen+idLen:]
	var plaintext []byte
	for off, seq := 0, uint64(0); off < len(body); seq++ {
		end := off + int(recordSize)
		if end > len(body) {
			end = len(body)
		}
		record := body[off:end]
		if len(record) < minRecordSize {
			return nil, fmt.Errorf("webpush: record %d truncated", seq)
		}

		opened, err := gcm.Open(nil, recordNonce(baseNonce, seq), record, nil)
		if err != nil {
			return nil, fmt.Errorf("webpush: open record %d: %w", seq, err)
		}
		data, err := stripPadding(opened, end == len(body))
		if err != nil {
			return nil, fmt.Errorf("webpush: record %d: %w", seq, err)
		}
		plaintext = append(plaintext, data...)
		off = end
	}
	return plaintext, nil
}

// deriveKeys runs the RFC 8291 schedule: ECDH shared secret → IKM keyed by
// the auth secret and both public keys → CEK and nonce from the message
// salt.
func deriveKeys(uaPriv *ecdh.PrivateKey, uaPub []byte, senderPub *ecdh.PublicKey, authSecret, salt []byte) (cek, baseNonce []byte, err error) {
	shared, err := uaPriv.ECDH(senderPub)
	if err != nil {
		return nil, nil, fmt.Errorf("webpush: ecdh: %w", err)
	}

	keyInfo := make([]byte, 0, len(keyInfoPrefix)+2*pointLen)
	keyInfo = append(keyInfo, keyInfoPrefix...)
	keyInfo = append(keyInfo, uaPub...)
	keyInfo = append(keyInfo, senderPub.Bytes()...)

	prkKey := hkdf.Extract(sha256.New, shared, authSecret)
	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prkKey, keyInfo), ikm); err != nil {
		return nil, nil, fmt.Errorf("webpush: derive ikm: %w", err)
	}

	prk := hkdf.Extract(sha256.New, ikm, salt)
	cek = make([]byte, 16)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(cekInfo)), cek); err != nil {
		return nil, nil, fmt.Errorf("webpush: derive cek: %w", err)
	}
	baseNonce = make([]byte, 12)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(nonceInfo)), baseNonce); err != nil {
		return nil, nil, fmt.Errorf("webpush: derive nonce: %w", err)
	}
	return cek, baseNonce, nil
}

// recordNonce XORs the record sequence number into the base nonce.
func recordNonce(base []byte, seq uint64) []byte {
	nonce := make([]byte, 12)
	copy(nonce, base)
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], seq)
	for i := 0; i < 8; i++ {
		nonce[4+i] ^= counter[i]
	}
	return nonce
}

// stripPadding removes the RFC 8188 delimiter: trailing zeros, then 0x02
// for the final record or 0x01 otherwise.
func stripPadding(record []byte, final bool) ([]byte, error) {
	i := len(record) - 1
	for i >= 0 && record[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, fmt.Errorf("no padding delimiter")
	}
	want := byte(0x01)
	if final {
		want = 0x02
	}
	if record[i] != want {
		return nil, fmt.Errorf("padding delimiter %#x, want %#x", record[i], want)
	}
	return record[:i], nil
}
