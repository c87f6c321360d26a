package keys

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

// testKey returns key material that can never be mistaken for base64 text,
// so the nested-decoding shim stays out of the way.
func testKey(size int) []byte {
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	key[0] = 0x01
	return key
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(t.TempDir(), 2048, nil, zap.NewNop())
}

func publicKeyOf(t *testing.T, s *Service) *rsa.PublicKey {
	t.Helper()
	pemStr, err := s.ExportPublicKey(context.Background())
	if err != nil {
		t.Fatalf("failed to export public key: %v", err)
	}
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		t.Fatal("exported key is not PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		t.Fatalf("exported key does not parse: %v", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		t.Fatal("exported key is not RSA")
	}
	return pub
}

func TestEnsureKeypairIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1 := NewService(dir, 2048, nil, zap.NewNop())
	if regenerated, err := s1.EnsureKeypair(ctx); err != nil || regenerated {
		t.Fatalf("first EnsureKeypair: regenerated=%v err=%v", regenerated, err)
	}
	if regenerated, err := s1.EnsureKeypair(ctx); err != nil || regenerated {
		t.Fatalf("second EnsureKeypair: regenerated=%v err=%v", regenerated, err)
	}

	// A fresh service on the same keystore must load the same key.
	s2 := NewService(dir, 2048, nil, zap.NewNop())
	if regenerated, err := s2.EnsureKeypair(ctx); err != nil || regenerated {
		t.Fatalf("reload EnsureKeypair: regenerated=%v err=%v", regenerated, err)
	}
	if publicKeyOf(t, s1).N.Cmp(publicKeyOf(t, s2).N) != 0 {
		t.Fatal("keystore reload produced a different keypair")
	}
}

func TestUnwrapEachPaddingScheme(t *testing.T) {
	s := newTestService(t)
	pub := publicKeyOf(t, s)
	key := testKey(32)
	ctx := context.Background()

	wrap := func(t *testing.T, scheme PaddingScheme) string {
		t.Helper()
		var ct []byte
		var err error
		switch scheme {
		case PaddingOAEPSHA256:
			ct, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
		case PaddingOAEPSHA1:
			ct, err = rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, key, nil)
		case PaddingPKCS1v15:
			ct, err = rsa.EncryptPKCS1v15(rand.Reader, pub, key)
		}
		if err != nil {
			t.Fatalf("failed to wrap: %v", err)
		}
		return base64.StdEncoding.EncodeToString(ct)
	}

	for _, scheme := range DefaultPaddingOrder {
		t.Run(string(scheme), func(t *testing.T) {
			got, err := s.Unwrap(ctx, wrap(t, scheme))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, key) {
				t.Fatal("unwrapped key does not match original")
			}
		})
	}
}

func TestUnwrapIdempotent(t *testing.T) {
	s := newTestService(t)
	pub := publicKeyOf(t, s)
	key := testKey(16)
	ctx := context.Background()

	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		t.Fatalf("failed to wrap: %v", err)
	}
	blob := base64.StdEncoding.EncodeToString(ct)

	first, err := s.Unwrap(ctx, blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.Unwrap(ctx, blob)
	if err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("repeated unwrap produced different key bytes")
	}
}

func TestUnwrapDoubleEncodedShim(t *testing.T) {
	s := newTestService(t)
	pub := publicKeyOf(t, s)
	ctx := context.Background()

	inner := testKey(32)
	// Some backends wrap the base64 text of the key instead of its bytes.
	plaintext := []byte(base64.StdEncoding.EncodeToString(inner))

	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		t.Fatalf("failed to wrap: %v", err)
	}

	got, err := s.Unwrap(ctx, base64.StdEncoding.EncodeToString(ct))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, inner) {
		t.Fatal("nested base64 payload was not decoded")
	}
}

func TestUnwrapShimLeavesImplausibleLengthsAlone(t *testing.T) {
	s := newTestService(t)
	pub := publicKeyOf(t, s)
	ctx := context.Background()

	// Base64 of 20 bytes: valid base64, but 20 is not a symmetric key
	// length the shim recognises, so the outer plaintext must come back.
	plaintext := []byte(base64.StdEncoding.EncodeToString(testKey(20)))

	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		t.Fatalf("failed to wrap: %v", err)
	}

	got, err := s.Unwrap(ctx, base64.StdEncoding.EncodeToString(ct))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatal("shim decoded a payload outside the plausible key lengths")
	}
}

func TestRotationInvalidatesOldBlobs(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1 := NewService(dir, 2048, nil, zap.NewNop())
	oldPub := publicKeyOf(t, s1)

	key := testKey(32)
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, oldPub, key, nil)
	if err != nil {
		t.Fatalf("failed to wrap: %v", err)
	}
	blob := base64.StdEncoding.EncodeToString(ct)

	// Corrupt the stored key the way a damaged keystore would present it.
	if err := os.WriteFile(filepath.Join(dir, keyFileName), []byte("not a key"), 0600); err != nil {
		t.Fatalf("failed to corrupt keystore: %v", err)
	}

	s2 := NewService(dir, 2048, nil, zap.NewNop())
	regenerated, err := s2.EnsureKeypair(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !regenerated {
		t.Fatal("expected regeneration of incompatible keypair")
	}

	// The old blob must fail cleanly, naming every attempted scheme.
	_, err = s2.Unwrap(ctx, blob)
	if err == nil {
		t.Fatal("expected unwrap failure for blob wrapped to the old key")
	}
	if !errors.Is(err, domain.ErrUnwrapFailure) {
		t.Fatalf("expected ErrUnwrapFailure, got %v", err)
	}
	var unwrapErr *UnwrapError
	if !errors.As(err, &unwrapErr) {
		t.Fatalf("expected *UnwrapError, got %T", err)
	}
	if len(unwrapErr.Schemes) != len(DefaultPaddingOrder) {
		t.Fatalf("expected all schemes reported, got %v", unwrapErr.Schemes)
	}
}

func TestUnwrapRejectsInvalidBase64(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Unwrap(context.Background(), "!!not base64!!"); !errors.Is(err, domain.ErrUnwrapFailure) {
		t.Fatalf("expected ErrUnwrapFailure, got %v", err)
	}
}

func TestKCV(t *testing.T) {
	key1 := testKey(16)
	key2 := testKey(16)

	kcv1, err := KCV(key1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kcv1) != 6 {
		t.Fatalf("expected 6 hex chars, got %q", kcv1)
	}

	again, _ := KCV(key1)
	if again != kcv1 {
		t.Fatal("kcv is not deterministic")
	}

	kcv2, _ := KCV(key2)
	if kcv2 == kcv1 {
		t.Fatal("distinct keys produced the same kcv")
	}

	if _, err := KCV(testKey(7)); err == nil {
		t.Fatal("expected error for invalid key length")
	}
}
