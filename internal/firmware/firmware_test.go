package firmware

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
)

var (
	root = domain.Identity{UserID: "root", Role: domain.RoleSuperAdmin}
	user = domain.Identity{UserID: "u1", Role: domain.RoleUser}
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newService(t *testing.T) (*Service, *FSStorage, *Cache) {
	t.Helper()
	storage := NewFSStorage(t.TempDir(), "sketch.bin")
	cache := NewCache(storage, log.NewNopLogger())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	return NewService(storage, cache, nil, log.NewNopLogger()), storage, cache
}

func TestUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	if _, _, err := svc.Download(ctx, ""); !errors.Is(err, ErrNoSketch) {
		t.Fatalf("Download() before upload error = %v, want ErrNoSketch", err)
	}

	tests := []struct {
		name       string
		id         domain.Identity
		body       string
		wantStatus int
	}{
		{"user", user, base64.StdEncoding.EncodeToString([]byte("x")), http.StatusForbidden},
		{"empty", root, "", http.StatusBadRequest},
		{"not base64", root, "%%%", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(ctx, tt.id, tt.body)
			if got := domain.HTTPStatus(err); got != tt.wantStatus {
				t.Errorf("Upload() error = %v, status %d, want %d", err, got, tt.wantStatus)
			}
		})
	}

	blob := "void setup() {}"
	info, err := svc.Upload(ctx, root, base64.StdEncoding.EncodeToString([]byte(blob)))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if info.Hash != md5hex(blob) || info.Size != int64(len(blob)) {
		t.Errorf("info = %+v, want hash %s size %d", info, md5hex(blob), len(blob))
	}

	if _, _, err := svc.Download(ctx, info.Hash); !errors.Is(err, ErrUpToDate) {
		t.Errorf("Download(current hash) error = %v, want ErrUpToDate", err)
	}

	got, r, err := svc.Download(ctx, "old")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != blob || got.Size != int64(len(blob)) {
		t.Errorf("downloaded %q (%d), want %q", data, got.Size, blob)
	}
}

// gatedStorage blocks Open until release is closed.
type gatedStorage struct {
	data    string
	opened  chan struct{}
	release chan struct{}
}

func (g *gatedStorage) Save(context.Context, []byte) error { return nil }

func (g *gatedStorage) Open(context.Context) (io.ReadCloser, error) {
	close(g.opened)
	<-g.release
	return io.NopCloser(strings.NewReader(g.data)), nil
}

func (g *gatedStorage) Stat(context.Context) (int64, time.Time, error) {
	return int64(len(g.data)), time.Unix(1700000000, 0), nil
}

func TestCacheReadersWaitForRecompute(t *testing.T) {
	storage := &gatedStorage{data: "v2", opened: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(storage, log.NewNopLogger())

	refreshed := make(chan error, 1)
	go func() { refreshed <- cache.Refresh(context.Background()) }()
	<-storage.opened

	got := make(chan *Info, 1)
	go func() { got <- cache.Info() }()

	select {
	case info := <-got:
		t.Fatalf("Info() returned %+v while recomputing", info)
	case <-time.After(50 * time.Millisecond):
	}

	close(storage.release)
	if err := <-refreshed; err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	select {
	case info := <-got:
		if info == nil || info.Hash != md5hex("v2") {
			t.Errorf("Info() = %+v, want hash of v2", info)
		}
	case <-time.After(time.Second):
		t.Fatal("Info() did not return after recompute")
	}
}

func TestWatchRefreshesOnExternalChange(t *testing.T) {
	storage := NewFSStorage(t.TempDir(), "sketch.bin")
	cache := NewCache(storage, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- storage.Watch(ctx, func() { _ = cache.Refresh(ctx) }, log.NewNopLogger())
	}()

	want := md5hex("external")
	deadline := time.Now().Add(3 * time.Second)
	wrote := false
	for time.Now().Before(deadline) {
		// the watcher may not be registered on the first attempt
		if !wrote || cache.Info() == nil {
			if err := os.WriteFile(storage.Path(), []byte("external"), 0o644); err != nil {
				t.Fatal(err)
			}
			wrote = true
		}
		if info := cache.Info(); info != nil && info.Hash == want {
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch() error = %v", err)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("cache was not refreshed after the sketch changed on disk")
}
