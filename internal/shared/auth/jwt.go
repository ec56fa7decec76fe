package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Platform roles carried in the role claim.
const (
	RoleKingAdmin   = "king_admin"
	RoleTenantAdmin = "tenant_admin"
	RoleBroker      = "broker"
	RoleClient      = "client"
)

// Claims represents the identity contained in a JWT.
type Claims struct {
	Sub      string `json:"sub"`
	Email    string `json:"email,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Iat      int64  `json:"iat,omitempty"`
}

var (
	ErrMissingSecret = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
)

var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Keyring signs and verifies HS256 tokens with one shared secret.
type Keyring struct {
	secret []byte
	now    func() time.Time
	ttl    time.Duration
}

// NewKeyring builds a keyring for the given secret.
func NewKeyring(secret string) (*Keyring, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Keyring{secret: []byte(secret), now: time.Now, ttl: 24 * time.Hour}, nil
}

// KeyringFromEnv reads JWT_SECRET. Outside production an empty secret falls back to a dev key.
func KeyringFromEnv() (*Keyring, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	env := strings.ToLower(strings.TrimSpace(os.Getenv("ENV")))
	if secret == "" {
		if env == "production" || env == "prod" {
			return nil, fmt.Errorf("%w: JWT_SECRET required in production", ErrMissingSecret)
		}
		secret = "dev-secret"
	}
	return NewKeyring(secret)
}

// Sign issues a token for the claims, filling iat/exp when unset.
func (k *Keyring) Sign(claims Claims) (string, error) {
	if claims.Sub == "" {
		return "", errors.New("sub is required")
	}
	now := k.now().UTC()
	if claims.Iat == 0 {
		claims.Iat = now.Unix()
	}
	if claims.Exp == 0 {
		claims.Exp = now.Add(k.ttl).Unix()
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := encodedHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return unsigned + "." + k.signature(unsigned), nil
}

// Verify checks signature and expiry and returns the claims.
func (k *Keyring) Verify(token string) (Claims, error) {
	head, sig, ok := cutLast(token)
	if !ok || strings.Count(head, ".") != 1 {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(k.signature(head))) {
		return Claims{}, ErrInvalidToken
	}
	_, rawPayload, _ := strings.Cut(head, ".")
	payload, err := base64.RawURLEncoding.DecodeString(rawPayload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Sub == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.Exp > 0 && k.now().UTC().Unix() > claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (k *Keyring) signature(input string) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func cutLast(token string) (string, string, bool) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}
