package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	a := New("test-secret")

	token, expiresIn, err := a.IssueAccessToken("admin-1", "owner@example.com")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if expiresIn != 7*24*3600 {
		t.Errorf("expiresIn = %d, want 604800", expiresIn)
	}

	claims, err := a.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.AdminID() != "admin-1" {
		t.Errorf("AdminID = %q, want admin-1", claims.AdminID())
	}
	if claims.Email != "owner@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
}

func TestPendingTokenRoundTrip(t *testing.T) {
	a := New("test-secret")

	token, err := a.IssuePendingToken("admin-1")
	if err != nil {
		t.Fatalf("IssuePendingToken: %v", err)
	}
	adminID, err := a.ValidatePendingToken(token)
	if err != nil {
		t.Fatalf("ValidatePendingToken: %v", err)
	}
	if adminID != "admin-1" {
		t.Errorf("adminID = %q, want admin-1", adminID)
	}
}

func TestTokenTypeMismatch(t *testing.T) {
	a := New("test-secret")

	pending, err := a.IssuePendingToken("admin-1")
	if err != nil {
		t.Fatalf("IssuePendingToken: %v", err)
	}
	access, _, err := a.IssueAccessToken("admin-1", "owner@example.com")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	// A pending token must never grant access, and vice versa.
	if _, err := a.ValidateAccessToken(pending); err == nil {
		t.Error("pending token accepted as access token")
	}
	if _, err := a.ValidatePendingToken(access); err == nil {
		t.Error("access token accepted as pending token")
	}
}

func TestTokenWrongSecret(t *testing.T) {
	a := New("secret-a")
	b := New("secret-b")

	token, _, err := a.IssueAccessToken("admin-1", "owner@example.com")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := b.ValidateAccessToken(token); err == nil {
		t.Error("token signed with a different secret was accepted")
	}
}

func TestTokenGarbage(t *testing.T) {
	a := New("test-secret")
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := a.ValidateAccessToken(tok); err == nil {
			t.Errorf("ValidateAccessToken(%q) accepted", tok)
		}
	}
}

func TestMiddleware(t *testing.T) {
	a := New("test-secret")
	token, _, err := a.IssueAccessToken("admin-1", "owner@example.com")
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	var seen *Claims
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
	}))

	// Bearer header.
	req := httptest.NewRequest("GET", "/api/v1/albums", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d with valid token", rec.Code)
	}
	if seen == nil || seen.AdminID() != "admin-1" {
		t.Fatalf("claims not injected: %+v", seen)
	}

	// Query parameter fallback for download links.
	seen = nil
	req = httptest.NewRequest("GET", "/api/v1/files/x?token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen == nil {
		t.Errorf("query token rejected: status %d", rec.Code)
	}

	// No token at all.
	req = httptest.NewRequest("GET", "/api/v1/albums", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d without token, want 401", rec.Code)
	}

	// Wrong token type.
	pending, _ := a.IssuePendingToken("admin-1")
	req = httptest.NewRequest("GET", "/api/v1/albums", nil)
	req.Header.Set("Authorization", "Bearer "+pending)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d with pending token, want 401", rec.Code)
	}
}

func TestGetClaimsEmptyContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if c := GetClaims(req.Context()); c != nil {
		t.Errorf("GetClaims on bare context = %+v, want nil", c)
	}
}
