package trust

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// SignAlgorithm is the only signature algorithm the agent accepts
const SignAlgorithm = "SHA512"

var errBadPEM = errors.New("no PEM block found")

// KeyPolicy signs locally with a private key held by this process
type KeyPolicy struct {
	certPEM string
	key     *rsa.PrivateKey
}

// NewKeyPolicy creates a policy from a PEM certificate and a PEM RSA key
// (PKCS#1 or PKCS#8).
func NewKeyPolicy(certPEM, keyPEM string) (*KeyPolicy, error) {
	if _, err := ParseCertificate(certPEM); err != nil {
		return nil, err
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return &KeyPolicy{certPEM: certPEM, key: key}, nil
}

// Name implements Policy
func (p *KeyPolicy) Name() string {
	return "local-key"
}

// Certificate implements Policy
func (p *KeyPolicy) Certificate(ctx context.Context) (string, error) {
	return p.certPEM, nil
}

// Sign implements Policy
func (p *KeyPolicy) Sign(ctx context.Context, payload string) (string, error) {
	return SignPayload(p.key, payload)
}

// SignPayload returns the base64 RSA PKCS#1 v1.5 SHA-512 signature of payload
func SignPayload(key *rsa.PrivateKey, payload string) (string, error) {
	digest := sha512.Sum512([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA512, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature of payload against a PEM certificate
func Verify(certPEM, payload, signature string) error {
	cert, err := ParseCertificate(certPEM)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("certificate does not carry an RSA key")
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}

	digest := sha512.Sum512([]byte(payload))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA512, digest[:], sig)
}

// ParseCertificate decodes the first certificate of a PEM bundle
func ParseCertificate(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errBadPEM
	}
	return x509.ParseCertificate(block.Bytes)
}

func parsePrivateKey(keyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, errBadPEM
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}
