package authinfra

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestServiceTokens_IssueAndAuthorize(t *testing.T) {
	tokens := NewServiceTokens("secret", time.Hour)

	signed, exp, err := tokens.Issue("check-alerts")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if exp.IsZero() {
		t.Fatal("expected expiry")
	}

	claims, err := tokens.Authorize(signed)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if claims.Subject != "check-alerts" || claims.Role != RoleService {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestServiceTokens_Rejects(t *testing.T) {
	tokens := NewServiceTokens("secret", time.Hour)

	t.Run("wrong_secret", func(t *testing.T) {
		signed, _, _ := NewServiceTokens("other", time.Hour).Issue("x")
		if _, err := tokens.Parse(signed); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		old := NewServiceTokens("secret", time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		signed, _, _ := old.Issue("x")
		if _, err := tokens.Parse(signed); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("wrong_role", func(t *testing.T) {
		claims := Claims{Role: "user", RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "x",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tokens.Authorize(signed); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("empty_subject", func(t *testing.T) {
		if _, _, err := tokens.Issue(" "); err == nil {
			t.Error("expected error for empty subject")
		}
	})
}
