package signing_test

import (
	"testing"

	"github.com/runlater/core/internal/signing"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	secret := []byte("super-secret")
	body := []byte(`{"x":1}`)

	sig := signing.Sign(secret, body)
	if !signing.Verify(secret, body, sig) {
		t.Fatal("expected signature to verify with the signing secret")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"x":1}`)
	sig := signing.Sign([]byte("secret-a"), body)
	if signing.Verify([]byte("secret-b"), body, sig) {
		t.Fatal("expected verification to fail with a different secret")
	}
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	secret := []byte("super-secret")
	sig := signing.Sign(secret, []byte(`{"x":1}`))
	if signing.Verify(secret, []byte(`{"x":2}`), sig) {
		t.Fatal("expected verification to fail for a modified body")
	}
}

func TestSign_Format(t *testing.T) {
	sig := signing.Sign([]byte("s"), []byte("b"))
	if len(sig) != len("sha256=")+64 {
		t.Fatalf("signature length = %d, want sha256= prefix plus 64 hex chars", len(sig))
	}
	if sig[:7] != "sha256=" {
		t.Fatalf("signature %q missing sha256= prefix", sig)
	}
}
