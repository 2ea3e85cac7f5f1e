package tokenvault

import (
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/sreorch/internal/orcherr"
)

func TestGetOrCreateMintsAndVerifies(t *testing.T) {
	v, err := New("test-signing-key", time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	token, err := v.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ThreadID != "thread-1" || claims.TenantID != "tenant-a" || claims.TeamID != "team-a" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestGetOrCreateReusesWithinThreshold(t *testing.T) {
	v, err := New("test-signing-key", time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := v.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := v.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("expected cached token to be reused")
	}
}

func TestGetOrCreateRemintsNearExpiry(t *testing.T) {
	v, err := New("test-signing-key", time.Minute, 2*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := v.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := v.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected a fresh token since ttl is below reuse threshold")
	}
}

func TestVerifyRejectsForeignToken(t *testing.T) {
	v, err := New("test-signing-key", time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	other, err := New("other-signing-key", time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	token, err := other.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Verify(token); !errors.Is(err, orcherr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign token, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v, err := New("test-signing-key", -time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}
	// GetOrCreate mints here: nothing is cached for thread-1 yet, and a
	// negative ttl produces an already-expired token immediately.
	token, err := v.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Verify(token); !errors.Is(err, orcherr.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRevokeForcesRemint(t *testing.T) {
	v, err := New("test-signing-key", time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	first, err := v.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatal(err)
	}
	v.Revoke("thread-1")
	second, err := v.GetOrCreate("thread-1", "tenant-a", "team-a")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected a new token after revoke")
	}
}
