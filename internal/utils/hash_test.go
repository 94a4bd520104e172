package utils

import "testing"

func TestNewMagicLinkTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := NewMagicLinkToken()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(token.Raw) != 43 {
			t.Fatalf("len = %d, want 43", len(token.Raw))
		}
		if token.Hash != HashToken(token.Raw) {
			t.Fatalf("hash %q does not match raw token", token.Hash)
		}
		if seen[token.Raw] {
			t.Fatalf("duplicate token %q", token.Raw)
		}
		seen[token.Raw] = true
	}
}

func TestNewRefreshTokenLength(t *testing.T) {
	token, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(token.Raw) != 64 {
		t.Fatalf("len = %d, want 64", len(token.Raw))
	}
}

func TestHashToken(t *testing.T) {
	if got := HashToken("abc"); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("HashToken(abc) = %q", got)
	}
	if HashToken(" abc\n") != HashToken("abc") {
		t.Error("surrounding whitespace should not change the hash")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("distinct inputs collide")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}
