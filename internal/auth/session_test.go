package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginLogoutNotifies(t *testing.T) {
	s := NewSession(StaticVerifier{"good": {Login: "reefkeeper"}})
	var states []State
	cancel := s.Subscribe(func(st State) { states = append(states, st) })

	if s.CurrentToken() != "" {
		t.Fatalf("new session should be signed out")
	}
	u, err := s.Login(context.Background(), " good ")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.DisplayName != "reefkeeper" {
		t.Fatalf("display name should fall back to login, got %q", u.DisplayName)
	}
	if s.CurrentToken() != "good" {
		t.Fatalf("token not set")
	}
	if cur, ok := s.CurrentUser(); !ok || cur.Login != "reefkeeper" {
		t.Fatalf("unexpected user %+v", cur)
	}
	s.Logout()
	if s.CurrentToken() != "" {
		t.Fatalf("logout must clear token")
	}
	if len(states) != 2 || !states[0].Authenticated || states[1].Authenticated {
		t.Fatalf("unexpected notifications %+v", states)
	}
	cancel()
	cancel()
	_, _ = s.Login(context.Background(), "good")
	if len(states) != 2 {
		t.Fatalf("cancelled subscriber was notified")
	}
}

func TestLoginRejectedTokenSignsOut(t *testing.T) {
	s := NewSession(StaticVerifier{"good": {Login: "a"}})
	if _, err := s.Login(context.Background(), "good"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := s.Login(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if s.CurrentToken() != "" {
		t.Fatalf("rejected login must sign out")
	}
	if _, err := s.Login(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token must be rejected")
	}
}

type failingVerifier struct{ err error }

func (f failingVerifier) Verify(context.Context, string) (User, error) { return User{}, f.err }

func TestLoginVerifierOutageKeepsSession(t *testing.T) {
	v := &switchVerifier{Verifier: StaticVerifier{"good": {Login: "a"}}}
	s := NewSession(v)
	if _, err := s.Login(context.Background(), "good"); err != nil {
		t.Fatalf("login: %v", err)
	}
	outage := errors.New("dial tcp: connection refused")
	v.Verifier = failingVerifier{err: outage}
	if _, err := s.Login(context.Background(), "good"); !errors.Is(err, outage) {
		t.Fatalf("expected verifier error, got %v", err)
	}
	if s.CurrentToken() != "good" {
		t.Fatalf("verification outage must not sign out")
	}
	if u, ok := s.CurrentUser(); !ok || u.Login != "a" {
		t.Fatalf("user lost: %+v", u)
	}
}

type switchVerifier struct{ Verifier }

func TestGitHubVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "reefkeeper", "name": "Reef Keeper", "avatar_url": "https://avatars.example/1"})
	}))
	defer srv.Close()

	v, err := NewGitHubVerifier(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	u, err := v.Verify(context.Background(), "good")
	if err != nil || u.Login != "reefkeeper" || u.DisplayName != "Reef Keeper" {
		t.Fatalf("verify: %+v %v", u, err)
	}
	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}
