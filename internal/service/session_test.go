package service

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSessionSecret = "0123456789abcdef0123456789abcdef"

func newTestSessionService() *SessionService {
	return NewSessionService(testSessionSecret, "catalog-module", nil, testLogger())
}

// TestSessionService_IssueVerify проверяет выпуск и проверку токена.
func TestSessionService_IssueVerify(t *testing.T) {
	svc := newTestSessionService()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	token, expiresAt, err := svc.Issue("user-1", []string{"admin", "customer"})
	if err != nil {
		t.Fatalf("Issue() ошибка: %v", err)
	}
	if want := now.Add(7 * 24 * time.Hour); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, ожидается %v", expiresAt, want)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q, ожидается user-1", claims.Subject)
	}
	if !slices.Equal(claims.Roles, []string{"admin", "customer"}) {
		t.Errorf("roles = %v", claims.Roles)
	}
	if claims.Issuer != "catalog-module" || claims.ID == "" {
		t.Errorf("iss = %q, jti = %q", claims.Issuer, claims.ID)
	}

	// Токены уникальны даже при одинаковом времени выпуска
	other, _, err := svc.Issue("user-1", nil)
	if err != nil {
		t.Fatalf("Issue() ошибка: %v", err)
	}
	if other == token {
		t.Error("два токена совпадают")
	}
}

func TestSessionService_Expired(t *testing.T) {
	svc := newTestSessionService()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	token, _, err := svc.Issue("user-1", nil)
	if err != nil {
		t.Fatalf("Issue() ошибка: %v", err)
	}

	now = now.Add(7*24*time.Hour - time.Minute)
	if _, err := svc.Verify(token); err != nil {
		t.Errorf("Verify() за минуту до истечения ошибка: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := svc.Verify(token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Verify() после истечения error = %v, ожидается ErrUnauthorized", err)
	}
}

func TestSessionService_InvalidTokens(t *testing.T) {
	svc := newTestSessionService()
	token, _, err := svc.Issue("user-1", []string{"customer"})
	if err != nil {
		t.Fatalf("Issue() ошибка: %v", err)
	}

	foreign := NewSessionService("another-secret-another-secret-123", "catalog-module", nil, testLogger())
	foreignToken, _, _ := foreign.Issue("user-1", []string{"admin"})

	otherIssuer := NewSessionService(testSessionSecret, "someone-else", nil, testLogger())
	otherIssuerToken, _, _ := otherIssuer.Issue("user-1", nil)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1", "iss": "catalog-module", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"пустой токен", ""},
		{"мусор", "not.a.token"},
		{"чужой секрет", foreignToken},
		{"чужой issuer", otherIssuerToken},
		{"изменённый payload", tampered},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(tt.token); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Verify() error = %v, ожидается ErrUnauthorized", err)
			}
		})
	}
}

// TestSessionService_Revoke проверяет идемпотентность отзыва.
func TestSessionService_Revoke(t *testing.T) {
	svc := newTestSessionService()
	token, _, err := svc.Issue("user-1", nil)
	if err != nil {
		t.Fatalf("Issue() ошибка: %v", err)
	}
	other, _, _ := svc.Issue("user-2", nil)

	if svc.IsRevoked(token) {
		t.Fatal("IsRevoked() = true для неотозванного токена")
	}

	svc.Revoke(token)
	svc.Revoke(token)

	if !svc.IsRevoked(token) {
		t.Error("IsRevoked() = false после двойного отзыва")
	}
	if svc.IsRevoked(other) {
		t.Error("отзыв затронул другой токен")
	}
	if _, err := svc.Verify(token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("Verify() error = %v, ожидается ErrTokenRevoked", err)
	}
	if _, err := svc.Verify(other); err != nil {
		t.Errorf("Verify() другого токена ошибка: %v", err)
	}
}

// TestRevocationSet_Concurrent проверяет конкурентное добавление.
func TestRevocationSet_Concurrent(t *testing.T) {
	rs := NewRevocationSet()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rs.Add("token-" + strings.Repeat("x", i%10))
			rs.Contains("token-x")
		}(i)
	}
	wg.Wait()

	if rs.Len() != 10 {
		t.Errorf("Len() = %d, ожидается 10", rs.Len())
	}
}
