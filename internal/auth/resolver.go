package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
)

// CredentialStore looks up credentials issued outside this service.
type CredentialStore interface {
	GetDeviceKey(ctx context.Context, apiKey string) (string, error)
	GetUserToken(ctx context.Context, token string) (*domain.Identity, error)
}

type cacheEntry struct {
	identity  domain.Identity
	expiresAt time.Time
}

// Resolver turns request credentials into identities.
type Resolver struct {
	localCache sync.Map
	creds      CredentialStore
	ttl        time.Duration
	staticKeys map[string]string
	now        func() time.Time
}

func NewResolver(cfg *config.Config, creds CredentialStore) *Resolver {
	staticKeys := make(map[string]string, len(cfg.DeviceKeys))
	for k, plate := range cfg.DeviceKeys {
		if k != "" && plate != "" {
			staticKeys[k] = strings.ToUpper(plate)
		}
	}

	return &Resolver{
		creds:      creds,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		now:        time.Now,
	}
}

// ResolveDevice returns the device identity for an API key.
func (r *Resolver) ResolveDevice(ctx context.Context, apiKey string) (domain.Identity, error) {
	if apiKey == "" {
		return domain.Identity{}, &domain.AuthError{Msg: "missing device credentials"}
	}

	// Level 0: static config keys
	if plate, ok := r.staticKeys[apiKey]; ok {
		return domain.Identity{Plate: plate}, nil
	}

	return r.resolve(ctx, "device:"+apiKey, func() (*domain.Identity, error) {
		plate, err := r.creds.GetDeviceKey(ctx, apiKey)
		if err != nil || plate == "" {
			return nil, err
		}
		return &domain.Identity{Plate: strings.ToUpper(plate)}, nil
	})
}

// ResolveUser returns the user identity for a bearer token.
func (r *Resolver) ResolveUser(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, &domain.AuthError{Msg: "missing user credentials"}
	}

	return r.resolve(ctx, "user:"+token, func() (*domain.Identity, error) {
		id, err := r.creds.GetUserToken(ctx, token)
		if err != nil || id == nil {
			return nil, err
		}
		if id.UserID == "" || !id.Role.Valid() {
			return nil, nil
		}
		return id, nil
	})
}

func (r *Resolver) resolve(ctx context.Context, cacheKey string, lookup func() (*domain.Identity, error)) (domain.Identity, error) {
	// Level 1: in-memory cache
	if raw, ok := r.localCache.Load(cacheKey); ok {
		entry := raw.(cacheEntry)
		if r.now().Before(entry.expiresAt) {
			return entry.identity, nil
		}
		r.localCache.Delete(cacheKey)
	}

	if r.creds == nil {
		return domain.Identity{}, &domain.AuthError{Msg: "invalid credentials"}
	}

	// Level 2: credential store lookup
	id, err := lookup()
	if err != nil {
		return domain.Identity{}, domain.StoreFailure("resolve credentials", err)
	}
	if id == nil {
		return domain.Identity{}, &domain.AuthError{Msg: "invalid credentials"}
	}

	r.localCache.Store(cacheKey, cacheEntry{
		identity:  *id,
		expiresAt: r.now().Add(r.ttl),
	})
	return *id, nil
}
