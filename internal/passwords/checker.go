// Package passwords checks passwords against a breach corpus without
// revealing them.
package passwords

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrEmptyPassword = errors.New("password is required")

// RangeFetcher returns the breached suffixes for a SHA-1 prefix.
type RangeFetcher interface {
	Range(ctx context.Context, prefix string) (map[string]int, error)
}

// Result reports how often a password appears in known breaches.
type Result struct {
	Breached bool `json:"breached"`
	Count    int  `json:"count"`
}

// Checker only ever sends the first five hex characters of the hash upstream.
type Checker struct {
	Ranges RangeFetcher
}

func (c *Checker) Check(ctx context.Context, password string) (Result, error) {
	if password == "" {
		return Result{}, ErrEmptyPassword
	}
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	suffixes, err := c.Ranges.Range(ctx, digest[:5])
	if err != nil {
		return Result{}, err
	}
	count := suffixes[digest[5:]]
	return Result{Breached: count > 0, Count: count}, nil
}
