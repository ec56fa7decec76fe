package passwords

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"brokercrm-backend/internal/shared/resilience"
)

func fastExecutor() *resilience.Executor {
	cfg := resilience.DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	cfg.BreakerEnabled = false
	return resilience.NewExecutor(cfg)
}

func hashParts(pw string) (string, string) {
	sum := sha1.Sum([]byte(pw))
	d := strings.ToUpper(hex.EncodeToString(sum[:]))
	return d[:5], d[5:]
}

func TestCheckFindsBreachedPassword(t *testing.T) {
	prefix, suffix := hashParts("password123")
	var calls int32
	var gotPadding, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		gotPadding = r.Header.Get("Add-Padding")
		gotPath = r.URL.Path
		fmt.Fprintf(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n%s:42\r\nFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF:0\r\n", suffix)
	}))
	defer srv.Close()

	checker := &Checker{Ranges: NewRangeClient(RangeConfig{BaseURL: srv.URL, Executor: fastExecutor()})}
	res, err := checker.Check(context.Background(), "password123")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Breached || res.Count != 42 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotPath != "/range/"+prefix || gotPadding != "true" {
		t.Fatalf("unexpected request path=%s padding=%s", gotPath, gotPadding)
	}

	// Second lookup for the same prefix is served from cache.
	if _, err := checker.Check(context.Background(), "password123"); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}
}

func TestCheckIgnoresPaddingRows(t *testing.T) {
	_, suffix := hashParts("correct horse battery staple")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s:0\n", suffix)
	}))
	defer srv.Close()

	checker := &Checker{Ranges: NewRangeClient(RangeConfig{BaseURL: srv.URL, Executor: fastExecutor()})}
	res, err := checker.Check(context.Background(), "correct horse battery staple")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Breached || res.Count != 0 {
		t.Fatalf("padding row must not count as breach: %+v", res)
	}
}

func TestRangeRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ABC:1\n")
	}))
	defer srv.Close()

	got, err := NewRangeClient(RangeConfig{BaseURL: srv.URL, Executor: fastExecutor()}).Range(context.Background(), "abcde")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if got["ABC"] != 1 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected result %v after %d calls", got, calls)
	}
}

func TestRangeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewRangeClient(RangeConfig{BaseURL: srv.URL, Executor: fastExecutor()}).Range(context.Background(), "ABCDE")
	if err == nil || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected single failed call, got err=%v calls=%d", err, calls)
	}
}
