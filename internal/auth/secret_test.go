package auth

import (
	"strings"
	"testing"
)

func TestHashSecret_RoundTrip(t *testing.T) {
	code := "ANSxKkzaZpBfWYdOaCDm"

	hash, err := HashSecret(code)
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if strings.Contains(hash, code) {
		t.Error("hash contains the secret")
	}

	ok, err := VerifySecret(code, hash)
	if err != nil {
		t.Fatalf("VerifySecret() error = %v", err)
	}
	if !ok {
		t.Error("VerifySecret() = false for the hashed secret")
	}

	ok, err = VerifySecret("other-code", hash)
	if err != nil {
		t.Fatalf("VerifySecret() error = %v", err)
	}
	if ok {
		t.Error("VerifySecret() = true for a different secret")
	}
}

func TestHashSecret_UniqueSalts(t *testing.T) {
	a, err := HashSecret("same")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	b, err := HashSecret("same")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if a == b {
		t.Error("two hashes of the same secret should have different salts")
	}
}

func TestHashSecret_PHCFormat(t *testing.T) {
	hash, err := HashSecret("test")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Fatalf("PHC format should have 6 $-delimited parts, got %d: %q", len(parts), hash)
	}
	if parts[1] != "argon2id" || parts[2] != "v=19" || parts[3] != "m=65536,t=3,p=1" {
		t.Errorf("unexpected PHC header %q", strings.Join(parts[:4], "$"))
	}
}

func TestVerifySecret_InvalidFormat(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not PHC", "plaintext"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=1$salt$hash"},
		{"too few parts", "$argon2id$v=19$m=65536,t=3,p=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifySecret("code", tt.hash); err == nil {
				t.Error("VerifySecret() should return error for invalid hash format")
			}
		})
	}
}
