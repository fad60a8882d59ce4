package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
)

type fakeCreds struct {
	devices map[string]string
	users   map[string]*domain.Identity
	err     error
	calls   int
}

func (f *fakeCreds) GetDeviceKey(ctx context.Context, apiKey string) (string, error) {
	f.calls++
	return f.devices[apiKey], f.err
}

func (f *fakeCreds) GetUserToken(ctx context.Context, token string) (*domain.Identity, error) {
	f.calls++
	return f.users[token], f.err
}

func newResolver(creds CredentialStore) *Resolver {
	cfg := &config.Config{
		AuthCacheTTLSeconds: 60,
		DeviceKeys:          map[string]string{"static-key": "st-001"},
	}
	return NewResolver(cfg, creds)
}

func TestResolveDevice(t *testing.T) {
	creds := &fakeCreds{devices: map[string]string{"redis-key": "rd-002"}}
	r := newResolver(creds)

	tests := []struct {
		name      string
		key       string
		wantPlate string
		wantErr   bool
	}{
		{"static key", "static-key", "ST-001", false},
		{"redis key", "redis-key", "RD-002", false},
		{"unknown key", "nope", "", true},
		{"empty key", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := r.ResolveDevice(context.Background(), tt.key)
			if tt.wantErr {
				var ae *domain.AuthError
				if !errors.As(err, &ae) {
					t.Fatalf("ResolveDevice() error = %v, want AuthError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveDevice() error = %v", err)
			}
			if id.Plate != tt.wantPlate || !id.IsDevice() {
				t.Errorf("ResolveDevice() = %+v, want plate %s", id, tt.wantPlate)
			}
		})
	}
}

func TestResolveUserCaches(t *testing.T) {
	creds := &fakeCreds{users: map[string]*domain.Identity{
		"tok": {UserID: "u1", Role: domain.RoleCompanyAdmin, CompanyID: "c1"},
		"bad": {UserID: "u2", Role: "ROOT"},
	}}
	r := newResolver(creds)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		id, err := r.ResolveUser(context.Background(), "tok")
		if err != nil {
			t.Fatalf("ResolveUser() error = %v", err)
		}
		if id.UserID != "u1" || id.Role != domain.RoleCompanyAdmin {
			t.Fatalf("ResolveUser() = %+v", id)
		}
	}
	if creds.calls != 1 {
		t.Errorf("credential store calls = %d, want 1", creds.calls)
	}

	now = now.Add(2 * time.Minute)
	r.ResolveUser(context.Background(), "tok")
	if creds.calls != 2 {
		t.Errorf("expired entry was not refreshed, calls = %d", creds.calls)
	}

	if _, err := r.ResolveUser(context.Background(), "bad"); err == nil {
		t.Error("ResolveUser() accepted an unknown role")
	}
}

func TestResolveStoreFailure(t *testing.T) {
	r := newResolver(&fakeCreds{err: errors.New("redis down")})

	_, err := r.ResolveUser(context.Background(), "tok")
	var te *domain.TransientStoreError
	if !errors.As(err, &te) {
		t.Errorf("ResolveUser() error = %v, want TransientStoreError", err)
	}
}
