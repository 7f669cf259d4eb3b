package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeyPair holds the RSA halves used by the codec. Private is nil for verify-only codecs.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// LoadKeyPair reads PEM encoded keys from disk. An empty privatePath loads a verify-only pair.
func LoadKeyPair(privatePath, publicPath string) (KeyPair, error) {
	var pair KeyPair
	if strings.TrimSpace(publicPath) == "" {
		return KeyPair{}, errors.New("public key path is required")
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read public key: %w", err)
	}
	if pair.Public, err = ParsePublicKeyPEM(pubPEM); err != nil {
		return KeyPair{}, fmt.Errorf("parse public key: %w", err)
	}
	if strings.TrimSpace(privatePath) == "" {
		return pair, nil
	}
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read private key: %w", err)
	}
	if pair.Private, err = ParsePrivateKeyPEM(privPEM); err != nil {
		return KeyPair{}, fmt.Errorf("parse private key: %w", err)
	}
	if !pair.Private.PublicKey.Equal(pair.Public) {
		return KeyPair{}, errors.New("public key does not match private key")
	}
	return pair, nil
}

// ParsePrivateKeyPEM accepts PKCS#1 and PKCS#8 RSA private keys.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

// ParsePublicKeyPEM accepts PKIX and PKCS#1 RSA public keys.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}

// GenerateKeyPEM creates a new RSA key pair encoded as PKCS#8 and PKIX PEM blocks.
func GenerateKeyPEM(bits int) (privatePEM, publicPEM []byte, err error) {
	if bits < 2048 {
		return nil, nil, fmt.Errorf("%w: key size must be at least 2048 bits", ErrInvalidInput)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privatePEM, publicPEM, nil
}
