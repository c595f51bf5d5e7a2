package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndParse(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Sign(Principal{UserID: "admin-1", Role: RoleAdmin}, secret, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := Parse(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.UserID != "admin-1" || p.Role != RoleAdmin {
		t.Fatalf("unexpected principal %+v", p)
	}

	if _, err := Parse(token, []byte("other")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	expired, _ := Sign(Principal{UserID: "u"}, secret, -time.Minute)
	if _, err := Parse(expired, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry failure, got %v", err)
	}
}

func TestParseDefaultsToUserRole(t *testing.T) {
	secret := []byte("s")
	token, _ := Sign(Principal{UserID: "u-1"}, secret, time.Minute)
	p, err := Parse(token, secret)
	if err != nil || p.Role != RoleUser {
		t.Fatalf("expected user role, got %+v %v", p, err)
	}
}
