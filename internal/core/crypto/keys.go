// Package crypto holds the login server's RSA key pair and the password hashing
// used for stored credentials.
package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

const (
	// DefaultKeyBits leaves room for passwords well over 100 bytes under OAEP with SHA-256.
	DefaultKeyBits = 2048

	publicKeyBlockType  = "RSA PUBLIC KEY"
	privateKeyBlockType = "RSA PRIVATE KEY"
)

// ErrKeyMismatch is returned when a loaded public key does not belong to the
// loaded private key.
var ErrKeyMismatch = errors.New("public key does not match private key")

// KeyPair is an RSA key pair along with the PEM form of its public half, which is
// what gets sent to clients in the authentication challenge.
type KeyPair struct {
	private   *rsa.PrivateKey
	publicPEM string
}

// GenerateKeyPair creates a new key pair of the requested size.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	return newKeyPair(privateKey)
}

// LoadKeyPair reads a PEM public key and a PEM private key from disk and checks
// that they form a working pair before returning them.
func LoadKeyPair(publicKeyFile, privateKeyFile string) (*KeyPair, error) {
	privateBytes, err := os.ReadFile(privateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	privateKey, err := parsePrivateKey(privateBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", privateKeyFile, err)
	}

	publicBytes, err := os.ReadFile(publicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	publicKey, err := ParsePublicKey(string(publicBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", publicKeyFile, err)
	}

	if !publicKey.Equal(&privateKey.PublicKey) {
		return nil, ErrKeyMismatch
	}

	kp, err := newKeyPair(privateKey)
	if err != nil {
		return nil, err
	}
	if err := kp.selfCheck(); err != nil {
		return nil, err
	}
	return kp, nil
}

func newKeyPair(privateKey *rsa.PrivateKey) (*KeyPair, error) {
	if err := privateKey.Validate(); err != nil {
		return nil, fmt.Errorf("validating RSA key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  publicKeyBlockType,
		Bytes: x509.MarshalPKCS1PublicKey(&privateKey.PublicKey),
	})
	return &KeyPair{private: privateKey, publicPEM: string(publicPEM)}, nil
}

// selfCheck encrypts and decrypts a probe to catch corrupted key files at
// startup rather than on the first login.
func (k *KeyPair) selfCheck() error {
	probe := []byte("PlayPG key check")
	ciphertext, err := Encrypt(k.PublicKey(), probe)
	if err != nil {
		return fmt.Errorf("key self-check: %w", err)
	}
	plaintext, err := k.Decrypt(ciphertext)
	if err != nil {
		return fmt.Errorf("key self-check: %w", err)
	}
	if !bytes.Equal(probe, plaintext) {
		return errors.New("key self-check: decrypted probe does not match")
	}
	return nil
}

func (k *KeyPair) PublicKey() *rsa.PublicKey { return &k.private.PublicKey }

// PublicKeyPEM returns the PEM encoded public key.
func (k *KeyPair) PublicKeyPEM() string { return k.publicPEM }

// Decrypt reverses Encrypt using the private key.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.private, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// WriteFiles writes the public and private keys to the given paths as PEM. The
// private key file is only readable by its owner.
func (k *KeyPair) WriteFiles(publicKeyFile, privateKeyFile string) error {
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  privateKeyBlockType,
		Bytes: x509.MarshalPKCS1PrivateKey(k.private),
	})
	if err := os.WriteFile(privateKeyFile, privatePEM, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(publicKeyFile, []byte(k.publicPEM), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// Encrypt encrypts plaintext with RSA-OAEP (SHA-256) for the holder of the
// matching private key.
func Encrypt(publicKey *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	return ciphertext, nil
}

// ParsePublicKey decodes a PEM public key as sent in authentication challenges.
// Both PKCS#1 and PKIX encodings are accepted.
func ParsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", parsed)
	}
	return key, nil
}

func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}
	return key, nil
}
