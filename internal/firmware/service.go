package firmware

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
)

var (
	// ErrNoSketch means nothing was uploaded yet.
	ErrNoSketch = errors.New("no sketch uploaded")
	// ErrUpToDate means the device already runs the current sketch.
	ErrUpToDate = errors.New("sketch is up to date")
)

type Auditor interface {
	Audit(e domain.AuditEntry)
}

type Service struct {
	storage Storage
	cache   *Cache
	audit   Auditor
	logger  log.Logger
}

func NewService(storage Storage, cache *Cache, audit Auditor, logger log.Logger) *Service {
	return &Service{
		storage: storage,
		cache:   cache,
		audit:   audit,
		logger:  logger.WithName("firmware"),
	}
}

// Upload replaces the sketch with the base64 decoded blob.
func (s *Service) Upload(ctx context.Context, id domain.Identity, encoded string) (*Info, error) {
	if err := id.RequireSuperAdmin(); err != nil {
		return nil, err
	}
	if encoded == "" {
		return nil, domain.Invalid("base64 is required")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.Invalid("base64 must be valid base64")
	}
	if len(data) == 0 {
		return nil, domain.Invalid("sketch is empty")
	}

	if err := s.storage.Save(ctx, data); err != nil {
		return nil, domain.StoreFailure("save sketch", err)
	}
	if err := s.cache.Refresh(ctx); err != nil {
		return nil, domain.StoreFailure("refresh sketch info", err)
	}

	info := s.cache.Info()
	if s.audit != nil && info != nil {
		s.audit.Audit(domain.AuditEntry{
			Action:    "UPDATE",
			UserID:    id.UserID,
			Section:   "sketch",
			Change:    fmt.Sprintf("uploaded sketch %s (%d bytes)", info.Hash, info.Size),
			CreatedAt: time.Now().UTC(),
		})
	}
	return info, nil
}

func (s *Service) Info(ctx context.Context, id domain.Identity) (*Info, error) {
	if err := id.RequireSuperAdmin(); err != nil {
		return nil, err
	}
	return s.cache.Info(), nil
}

// Download opens the sketch unless the device already has it. The caller
// closes the reader.
func (s *Service) Download(ctx context.Context, currentHash string) (*Info, io.ReadCloser, error) {
	info := s.cache.Info()
	if info == nil {
		return nil, nil, ErrNoSketch
	}
	if currentHash == info.Hash {
		return nil, nil, ErrUpToDate
	}

	r, err := s.storage.Open(ctx)
	if isNotExist(err) {
		return nil, nil, ErrNoSketch
	}
	if err != nil {
		return nil, nil, domain.StoreFailure("open sketch", err)
	}
	return info, r, nil
}
