// Package codec protects stored phone numbers.
//
// Two independent values are derived from a phone number: a deterministic
// keyed digest used for lookup and uniqueness, and an AES-GCM ciphertext that
// preserves the plaintext for display and delivery. The digest is never
// decrypted and the ciphertext is never compared.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the required length of the master key in bytes.
const KeySize = 32

const (
	encryptionInfo = "smsauth/phone-encryption/v1"
	lookupInfo     = "smsauth/phone-lookup/v1"
)

var (
	// ErrDecrypt is returned when a ciphertext fails authentication or is malformed.
	ErrDecrypt = errors.New("phone decryption failed")
	// ErrKeySize is returned for master keys of the wrong length.
	ErrKeySize = fmt.Errorf("codec key must be %d bytes", KeySize)
)

// Codec hashes and encrypts phone numbers with keys derived from one master key.
type Codec struct {
	aead    cipher.AEAD
	hashKey []byte
}

// New derives the encryption and lookup keys from master via HKDF-SHA256.
func New(master []byte) (*Codec, error) {
	if len(master) != KeySize {
		return nil, ErrKeySize
	}

	encKey, err := derive(master, encryptionInfo)
	if err != nil {
		return nil, err
	}
	hashKey, err := derive(master, lookupInfo)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Codec{aead: aead, hashKey: hashKey}, nil
}

// Hash returns the hex HMAC-SHA256 of phone under the lookup key.
func (c *Codec) Hash(phone string) string {
	mac := hmac.New(sha256.New, c.hashKey)
	mac.Write([]byte(phone))
	return hex.EncodeToString(mac.Sum(nil))
}

// Encrypt seals phone with a fresh random nonce. The nonce is prefixed to the
// returned ciphertext.
func (c *Codec) Encrypt(phone string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(phone), nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any integrity or key
// mismatch yields ErrDecrypt.
func (c *Codec) Decrypt(ciphertext []byte) (string, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

func derive(master []byte, info string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	return key, nil
}
