package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignVerifyRoundTripCarriesTenantAndRole(t *testing.T) {
	k, err := NewKeyring("s3cret")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	token, err := k.Sign(Claims{Sub: "user-1", Email: "a@b.ch", TenantID: "tenant-1", Role: RoleKingAdmin})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := k.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.TenantID != "tenant-1" || claims.Role != RoleKingAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejects(t *testing.T) {
	k, _ := NewKeyring("s3cret")
	other, _ := NewKeyring("other")
	good, _ := k.Sign(Claims{Sub: "user-1"})
	forged, _ := other.Sign(Claims{Sub: "user-1"})

	expiredKeyring, _ := NewKeyring("s3cret")
	expiredKeyring.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, _ := expiredKeyring.Sign(Claims{Sub: "user-1"})

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "garbage", token: "abc", want: ErrInvalidToken},
		{name: "wrong secret", token: forged, want: ErrInvalidToken},
		{name: "tampered payload", token: strings.Replace(good, ".", ".x", 1), want: ErrInvalidToken},
		{name: "expired", token: expired, want: ErrExpiredToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := k.Verify(tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestKeyringFromEnvRequiresSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")
	if _, err := KeyringFromEnv(); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}
