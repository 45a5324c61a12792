package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(KindInvalidCredentials, "room mismatch")
	wrapped := fmt.Errorf("verify: %w", base)

	if got := KindOf(wrapped); got != KindInvalidCredentials {
		t.Fatalf("KindOf = %q, want %q", got, KindInvalidCredentials)
	}
	if !errors.Is(wrapped, New(KindInvalidCredentials, "")) {
		t.Fatal("errors.Is should match on kind regardless of detail")
	}
	if errors.Is(wrapped, New(KindAccountBlocked, "")) {
		t.Fatal("errors.Is matched a different kind")
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("KindOf(plain) = %q, want %q", got, KindUnknown)
	}
	if KindOf(nil) != "" {
		t.Fatal("KindOf(nil) should be empty")
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindPersistence, nil, "noop"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestDescribeHidesAdminNoteOutsideDevMode(t *testing.T) {
	err := Wrap(KindRouterAuthFailed, errors.New("invalid user name or password (6)"), "")

	prod := Describe(err, false)
	if prod.AdminNote != "" {
		t.Errorf("admin note leaked in production: %q", prod.AdminNote)
	}
	if prod.Title != "Router Authentication Failed" {
		t.Errorf("Title = %q", prod.Title)
	}
	if len(prod.Suggestions) == 0 {
		t.Error("expected suggestions")
	}

	dev := Describe(err, true)
	if !strings.Contains(dev.AdminNote, "MIKROTIK_USERNAME") {
		t.Errorf("dev admin note = %q, want env var hint", dev.AdminNote)
	}
}

func TestDescribeAppendsDetail(t *testing.T) {
	d := Describe(New(KindAccountBlocked, "This device was blocked on 2024-05-01."), false)
	if !strings.HasSuffix(d.Message, "blocked on 2024-05-01.") {
		t.Errorf("Message = %q", d.Message)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindMissingInput:         http.StatusBadRequest,
		KindInvalidCredentials:   http.StatusUnauthorized,
		KindAccountBlocked:       http.StatusForbidden,
		KindRouterConnectTimeout: http.StatusBadGateway,
		KindPersistence:          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := HTTPStatus(New(kind, "")); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestIsRouter(t *testing.T) {
	if !IsRouter(New(KindRouterAPIError, "")) {
		t.Error("RouterAPIError should be a router kind")
	}
	if IsRouter(New(KindPersistence, "")) {
		t.Error("Persistence should not be a router kind")
	}
}
