package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestFieldCipherRoundTrip(t *testing.T) {
	c, err := NewFieldCipher("test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	plaintext := []byte(`{"carbon_footprint":25.5,"recyclable":true}`)
	sealed, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains([]byte(sealed), []byte("carbon_footprint")) {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypt = %q, want %q", got, plaintext)
	}
}

func TestFieldCipherFreshNonce(t *testing.T) {
	c, err := NewFieldCipher("test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	a, _ := c.Encrypt([]byte("same"))
	b, _ := c.Encrypt([]byte("same"))
	if a == b {
		t.Error("expected distinct ciphertexts for identical plaintexts")
	}
}

func TestFieldCipherWrongKey(t *testing.T) {
	c1, _ := NewFieldCipher("secret-one")
	c2, _ := NewFieldCipher("secret-two")

	sealed, err := c1.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c2.Decrypt(sealed); err == nil {
		t.Fatal("expected error decrypting with wrong key")
	}
}

func TestFieldCipherMalformed(t *testing.T) {
	c, _ := NewFieldCipher("test-secret")

	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "%%%"},
		{"too short", "AAAA"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.input)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestNewFieldCipherEmptySecret(t *testing.T) {
	if _, err := NewFieldCipher("  "); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("err = %v, want ErrEmptySecret", err)
	}
}
