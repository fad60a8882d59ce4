package firmware

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"fleet-monitor/telematics/internal/log"
)

type Info struct {
	Hash          string    `json:"hash"`
	Size          int64     `json:"size"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Cache holds the hash and size of the current sketch. Readers block while a
// recompute is running.
type Cache struct {
	storage Storage
	logger  log.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	computing bool
	info      *Info
}

func NewCache(storage Storage, logger log.Logger) *Cache {
	c := &Cache{storage: storage, logger: logger.WithName("firmware-cache")}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Info returns the cached description, or nil when there is no sketch.
func (c *Cache) Info() *Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.computing {
		c.cond.Wait()
	}
	if c.info == nil {
		return nil
	}
	info := *c.info
	return &info
}

// Refresh recomputes the description from storage. Concurrent refreshes run
// one after another.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	for c.computing {
		c.cond.Wait()
	}
	c.computing = true
	c.mu.Unlock()

	info, err := c.compute(ctx)

	c.mu.Lock()
	if err == nil {
		c.info = info
	}
	c.computing = false
	c.cond.Broadcast()
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if info != nil {
		c.logger.Info("sketch loaded", "hash", info.Hash, "size", info.Size)
	}
	return nil
}

func (c *Cache) compute(ctx context.Context) (*Info, error) {
	size, modified, err := c.storage.Stat(ctx)
	if isNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r, err := c.storage.Open(ctx)
	if isNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("hash sketch: %w", err)
	}
	if size == 0 {
		return nil, nil
	}

	return &Info{
		Hash:          hex.EncodeToString(h.Sum(nil)),
		Size:          size,
		LastUpdatedAt: modified.UTC(),
	}, nil
}
