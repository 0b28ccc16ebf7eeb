package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := Claims{
		Sub:  "ops-1",
		Role: "operator",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}
	token, err := SignHS256(claims, "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, "test-secret")
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if *parsed != claims {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, _ := SignHS256(Claims{Sub: "ops-1", Exp: 1000}, "s")
	if _, err := parseAndVerify(token, "s", time.Unix(999, 0)); err != nil {
		t.Fatalf("token should be valid before exp: %v", err)
	}
	if _, err := parseAndVerify(token, "s", time.Unix(1001, 0)); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestAlgNoneRejected(t *testing.T) {
	token, _ := SignHS256(Claims{Sub: "ops-1"}, "s")
	parts := strings.Split(token, ".")
	parts[0] = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	if _, err := ParseAndVerifyHS256(strings.Join(parts, "."), "s"); err == nil {
		t.Fatal("expected alg=none to fail")
	}
	if _, err := ParseAndVerifyHS256(token, ""); err == nil {
		t.Fatal("empty secret must never verify")
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("s", "admin", "operator")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok || c.Sub != "ops-1" {
			t.Fatalf("claims missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(authz string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox/dead-letters", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	operator, _ := SignHS256(Claims{Sub: "ops-1", Role: "operator"}, "s")
	viewer, _ := SignHS256(Claims{Sub: "ops-1", Role: "viewer"}, "s")

	if code := call(""); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code := call("Bearer garbage"); code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}
	if code := call("Bearer " + viewer); code != http.StatusForbidden {
		t.Fatalf("wrong role: %d", code)
	}
	if code := call("bearer " + operator); code != http.StatusNoContent {
		t.Fatalf("operator: %d", code)
	}
}

func TestAuthenticateIsOptional(t *testing.T) {
	var gotSub string
	h := Authenticate("s")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = ""
		if c, ok := ClaimsFromContext(r.Context()); ok {
			gotSub = c.Sub
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(authz string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call(""); code != http.StatusNoContent || gotSub != "" {
		t.Fatalf("anonymous: code=%d sub=%q", code, gotSub)
	}
	tok, _ := SignHS256(Claims{Sub: "u-7", Role: "admin"}, "s")
	if code := call("Bearer " + tok); code != http.StatusNoContent || gotSub != "u-7" {
		t.Fatalf("signed: code=%d sub=%q", code, gotSub)
	}
	if code := call("Bearer garbage"); code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}
}
