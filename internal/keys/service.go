// internal/keys/service.go
//
// Package keys implements terminal key provisioning: the enrollment RSA
// keypair held in an isolated keystore, and unwrapping of backend-delivered
// wrapped symmetric keys.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

// PaddingScheme names one RSA decryption scheme in the fallback order.
type PaddingScheme string

const (
	PaddingOAEPSHA256 PaddingScheme = "oaep-sha256"
	PaddingOAEPSHA1   PaddingScheme = "oaep-sha1"
	PaddingPKCS1v15   PaddingScheme = "pkcs1v15"
)

// DefaultPaddingOrder is tried in sequence; the backend's scheme varies
// across deployments and firmware, so we avoid a hard version coupling.
var DefaultPaddingOrder = []PaddingScheme{
	PaddingOAEPSHA256,
	PaddingOAEPSHA1,
	PaddingPKCS1v15,
}

const keyFileName = "terminal_rsa.pem"

// UnwrapError reports that every configured padding scheme was attempted.
// It deliberately carries no detail about individual scheme failures so a
// caller (or log reader) cannot tell which scheme came closest.
type UnwrapError struct {
	Schemes []PaddingScheme
}

func (e *UnwrapError) Error() string {
	names := make([]string, len(e.Schemes))
	for i, s := range e.Schemes {
		names[i] = string(s)
	}
	return fmt.Sprintf("key unwrap failed after attempting schemes: %s", strings.Join(names, ", "))
}

func (e *UnwrapError) Unwrap() error { return domain.ErrUnwrapFailure }

// Service owns the terminal's asymmetric keypair and performs key
// unwrapping. The private key never leaves the keystore directory.
type Service struct {
	dir     string
	bits    int
	schemes []PaddingScheme
	logger  *zap.Logger

	mu  sync.Mutex
	key *rsa.PrivateKey
}

func NewService(keystoreDir string, bits int, schemes []PaddingScheme, logger *zap.Logger) *Service {
	if bits == 0 {
		bits = 2048
	}
	if len(schemes) == 0 {
		schemes = DefaultPaddingOrder
	}
	return &Service{
		dir:     keystoreDir,
		bits:    bits,
		schemes: schemes,
		logger:  logger,
	}
}

// EnsureKeypair loads the keypair from the keystore, creating it on first
// use. It is idempotent. An existing key that fails to parse, has the wrong
// size, or fails the self-check is replaced; regenerated reports that the
// backend's stored public key is now stale and re-enrollment is required.
func (s *Service) EnsureKeypair(ctx context.Context) (regenerated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		return false, nil
	}

	path := filepath.Join(s.dir, keyFileName)
	data, readErr := os.ReadFile(path)
	if readErr == nil {
		key, loadErr := parsePrivateKey(data)
		if loadErr == nil && key.N.BitLen() == s.bits && selfCheck(key) == nil {
			s.key = key
			return false, nil
		}
		s.logger.Warn("existing terminal keypair is incompatible, regenerating",
			zap.Error(loadErr),
			zap.String("path", path))
		regenerated = true
	} else if !os.IsNotExist(readErr) {
		return false, fmt.Errorf("failed to read keystore: %w", readErr)
	}

	key, err := rsa.GenerateKey(rand.Reader, s.bits)
	if err != nil {
		return false, fmt.Errorf("failed to generate keypair: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return false, fmt.Errorf("failed to create keystore dir: %w", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return false, fmt.Errorf("failed to write keystore: %w", err)
	}

	s.key = key
	s.logger.Info("terminal keypair ready",
		zap.Int("bits", s.bits),
		zap.Bool("regenerated", regenerated))
	return regenerated, nil
}

// ExportPublicKey returns the PKIX PEM encoding of the public key for
// out-of-band backend enrollment.
func (s *Service) ExportPublicKey(ctx context.Context) (string, error) {
	if _, err := s.EnsureKeypair(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	der, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// Unwrap decrypts a backend-delivered wrapped key blob and returns the raw
// key material. Every configured padding scheme is attempted on every call
// so failure cost does not depend on which scheme would have matched.
func (s *Service) Unwrap(ctx context.Context, wrappedB64 string) ([]byte, error) {
	if _, err := s.EnsureKeypair(ctx); err != nil {
		return nil, err
	}

	wrapped, err := base64.StdEncoding.DecodeString(strings.TrimSpace(wrappedB64))
	if err != nil {
		return nil, &UnwrapError{Schemes: s.schemes}
	}

	s.mu.Lock()
	key := s.key
	s.mu.Unlock()

	var plaintext []byte
	for _, scheme := range s.schemes {
		pt, err := decrypt(key, scheme, wrapped)
		if err == nil && plaintext == nil {
			plaintext = pt
		}
		// No early break: all schemes run regardless of success so the
		// failure path and the success path do comparable work.
	}
	if plaintext == nil {
		return nil, &UnwrapError{Schemes: s.schemes}
	}

	return maybeDecodeNested(plaintext), nil
}

func decrypt(key *rsa.PrivateKey, scheme PaddingScheme, ciphertext []byte) ([]byte, error) {
	switch scheme {
	case PaddingOAEPSHA256:
		return rsa.DecryptOAEP(sha256.New(), nil, key, ciphertext, nil)
	case PaddingOAEPSHA1:
		return rsa.DecryptOAEP(sha1.New(), nil, key, ciphertext, nil)
	case PaddingPKCS1v15:
		return rsa.DecryptPKCS1v15(nil, key, ciphertext)
	default:
		return nil, fmt.Errorf("unknown padding scheme %q", scheme)
	}
}

// maybeDecodeNested handles a known backend quirk where the wrapped payload
// is itself the base64 text of the key rather than its raw bytes.
// Compatibility shim only: the heuristic is not extended beyond standard
// base64 of the common symmetric key lengths, and any inner decode failure
// returns the outer plaintext unchanged.
func maybeDecodeNested(plaintext []byte) []byte {
	if !looksBase64(plaintext) {
		return plaintext
	}
	inner, err := base64.StdEncoding.DecodeString(string(plaintext))
	if err != nil {
		return plaintext
	}
	switch len(inner) {
	case 16, 24, 32:
		return inner
	}
	return plaintext
}

func looksBase64(b []byte) bool {
	// Plausible length window: base64 of a 16/24/32-byte key.
	if len(b) < 22 || len(b) > 46 || len(b)%4 != 0 {
		return false
	}
	for _, c := range b {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '=':
		default:
			return false
		}
	}
	return true
}

func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in keystore")
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
		return nil, fmt.Errorf("keystore does not hold an RSA key")
	}
	return key, nil
}

// selfCheck round-trips a probe through the keypair to catch a stored key
// whose halves no longer match.
func selfCheck(key *rsa.PrivateKey) error {
	probe := []byte("keystore-self-check")
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, probe, nil)
	if err != nil {
		return err
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), nil, key, ct, nil)
	if err != nil {
		return err
	}
	if string(pt) != string(probe) {
		return fmt.Errorf("self-check mismatch")
	}
	return nil
}
