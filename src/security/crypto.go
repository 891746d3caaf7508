package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptedPrefix marks an env value that holds an encrypted secret.
const EncryptedPrefix = "enc:"

var (
	ErrInvalidKey        = errors.New("credentials key must be 32 bytes, base64 encoded")
	ErrMalformedCipher   = errors.New("malformed encrypted value")
	ErrDecryptionFailure = errors.New("unable to decrypt value with the configured key")
)

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// EncryptWithKey seals plain with XChaCha20-Poly1305 and returns
// base64(nonce || ciphertext).
func EncryptWithKey(encodedKey, plain string) (string, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func DecryptWithKey(encodedKey, encrypted string) (string, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil || len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformedCipher
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailure
	}
	return string(plain), nil
}

// EncryptString encrypts with EXCHANGE_CREDENTIALS_KEY.
func EncryptString(plain string) (string, error) {
	return EncryptWithKey(GetConfig().ExchangeCRKey, plain)
}

// DecryptString decrypts with EXCHANGE_CREDENTIALS_KEY.
func DecryptString(encrypted string) (string, error) {
	return DecryptWithKey(GetConfig().ExchangeCRKey, encrypted)
}

// ResolveSecret returns value as is, or decrypted when it carries EncryptedPrefix.
func ResolveSecret(value string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	return DecryptString(strings.TrimPrefix(value, EncryptedPrefix))
}
