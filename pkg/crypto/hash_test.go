package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashToken_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"hex token", "3f9a0c1d2e"},
		{"symbols", "t0k3n!#$%^&*()"},
		{"near limit", strings.Repeat("a", 70)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashToken(tt.token, bcrypt.MinCost)
			if err != nil {
				t.Fatalf("HashToken failed: %v", err)
			}
			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("hash should start with bcrypt prefix, got %q", hash)
			}
			if err := VerifyToken(tt.token, hash); err != nil {
				t.Errorf("VerifyToken() error = %v", err)
			}
			if err := VerifyToken(tt.token+"x", hash); !errors.Is(err, ErrTokenMismatch) {
				t.Errorf("VerifyToken(wrong) error = %v, want ErrTokenMismatch", err)
			}
		})
	}
}

func TestHashToken_Errors(t *testing.T) {
	if _, err := HashToken("", bcrypt.MinCost); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("empty token error = %v", err)
	}
	if _, err := HashToken(strings.Repeat("a", 73), bcrypt.MinCost); !errors.Is(err, ErrTokenTooLong) {
		t.Errorf("long token error = %v", err)
	}
}

func TestHashToken_CostClamped(t *testing.T) {
	hash, err := HashToken("token", 1)
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil || cost != bcrypt.MinCost {
		t.Errorf("cost = %d (%v), want %d", cost, err, bcrypt.MinCost)
	}
}

func TestVerifyToken_InvalidInput(t *testing.T) {
	if err := VerifyToken("", "$2a$04$abc"); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("empty token error = %v", err)
	}
	if err := VerifyToken("token", ""); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("empty hash error = %v", err)
	}
	if err := VerifyToken("token", "not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("malformed hash error = %v", err)
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(16)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	b, _ := GenerateToken(16)
	if a == b {
		t.Error("tokens should differ")
	}
	// Слишком длинный токен не поместился бы в bcrypt
	c, _ := GenerateToken(100)
	if len(c) != 64 {
		t.Errorf("len = %d, want 64 for fallback size", len(c))
	}
}
