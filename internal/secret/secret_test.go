package secret

import (
	"bytes"
	"context"
	"testing"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestAESGCM_RoundTrip(t *testing.T) {
	a, err := NewAESGCM(testKey)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("sk-mcp-credential")
	ciphertext, err := a.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := a.Decrypt(context.Background(), ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip = %q, want %q", got, plaintext)
	}
}

func TestAESGCM_TamperDetected(t *testing.T) {
	a, err := NewAESGCM(testKey)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext, err := a.Encrypt(context.Background(), []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff

	if _, err := a.Decrypt(context.Background(), ciphertext); err == nil {
		t.Fatal("tampered ciphertext decrypted")
	}
}

func TestAESGCM_ShortCiphertext(t *testing.T) {
	a, err := NewAESGCM(testKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Decrypt(context.Background(), []byte{1, 2, 3}); err == nil {
		t.Fatal("short ciphertext accepted")
	}
}

func TestNewAESGCM_RejectsBadKey(t *testing.T) {
	if _, err := NewAESGCM([]byte("too short")); err == nil {
		t.Fatal("short key accepted")
	}
}
