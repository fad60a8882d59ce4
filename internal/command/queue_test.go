package command

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/store"
)

type auditLog struct {
	entries []domain.AuditEntry
}

func (a *auditLog) Audit(e domain.AuditEntry) { a.entries = append(a.entries, e) }

var (
	owner    = domain.Identity{UserID: "u1", Role: domain.RoleUser}
	stranger = domain.Identity{UserID: "u9", Role: domain.RoleUser}
	admin    = domain.Identity{UserID: "a1", Role: domain.RoleCompanyAdmin, CompanyID: "c1"}
)

func setup(t *testing.T) (*Queue, *domain.Vehicle, *auditLog) {
	t.Helper()
	mem := store.NewMemoryStore()
	v := mem.AddVehicle(&domain.Vehicle{NumberPlate: "ZX-9", CompanyID: "c1", UserIDs: []string{"u1"}})
	audit := &auditLog{}
	return NewQueue(mem, audit, log.NewNopLogger()), v, audit
}

func TestCreateValidation(t *testing.T) {
	q, v, _ := setup(t)

	tests := []struct {
		name       string
		id         domain.Identity
		code       domain.CommandCode
		wantStatus int
	}{
		{"unknown code", owner, "SELF_DESTRUCT", http.StatusBadRequest},
		{"zone code", owner, domain.CommandCreateGeofence, http.StatusBadRequest},
		{"no rights", stranger, domain.CommandEngineLock, http.StatusForbidden},
		{"device identity", domain.Identity{Plate: "ZX-9"}, domain.CommandEngineLock, http.StatusUnauthorized},
		{"unknown vehicle", owner, domain.CommandEngineLock, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vehicleID := v.ID
			if tt.wantStatus == http.StatusNotFound {
				vehicleID = "missing"
			}
			_, _, err := q.Create(context.Background(), tt.id, vehicleID, tt.code)
			if got := domain.HTTPStatus(err); got != tt.wantStatus {
				t.Errorf("Create() error = %v, status %d, want %d", err, got, tt.wantStatus)
			}
		})
	}
}

func TestCreateCoalescesPendingEngineCommands(t *testing.T) {
	q, v, audit := setup(t)
	ctx := context.Background()

	first, created, err := q.Create(ctx, owner, v.ID, domain.CommandEngineLock)
	if err != nil || !created {
		t.Fatalf("Create() = %v, %v", created, err)
	}
	second, created, err := q.Create(ctx, admin, v.ID, domain.CommandEngineLock)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("second ENGINE_LOCK was not coalesced")
	}
	if _, created, _ := q.Create(ctx, owner, v.ID, domain.CommandEngineUnlock); !created {
		t.Error("ENGINE_UNLOCK should not coalesce with ENGINE_LOCK")
	}

	if n, _ := q.PendingCount(ctx, owner, "zx-9"); n != 1 {
		t.Errorf("PendingCount() = %d, want the unlock alone", n)
	}
	if len(audit.entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(audit.entries))
	}
}

func TestLatestEngineIntentWins(t *testing.T) {
	tests := []struct {
		name  string
		steps []domain.CommandCode
		want  domain.CommandCode
	}{
		{"lock unlock lock", []domain.CommandCode{domain.CommandEngineLock, domain.CommandEngineUnlock, domain.CommandEngineLock}, domain.CommandEngineLock},
		{"unlock lock unlock", []domain.CommandCode{domain.CommandEngineUnlock, domain.CommandEngineLock, domain.CommandEngineUnlock}, domain.CommandEngineUnlock},
		{"repeated lock", []domain.CommandCode{domain.CommandEngineLock, domain.CommandEngineLock}, domain.CommandEngineLock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, v, _ := setup(t)
			ctx := context.Background()
			for _, code := range tt.steps {
				if _, _, err := q.Create(ctx, owner, v.ID, code); err != nil {
					t.Fatalf("Create(%s) error = %v", code, err)
				}
			}

			got, err := q.Poll(ctx, "ZX-9")
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if len(got) != 1 || got[0].Code != tt.want {
				t.Errorf("delivered %+v, want only %s", got, tt.want)
			}
		})
	}
}

func TestViolationLockReplacesPendingUnlock(t *testing.T) {
	q, v, _ := setup(t)
	ctx := context.Background()

	q.Create(ctx, owner, v.ID, domain.CommandEngineUnlock)
	if _, created, err := q.EnqueueEngineLock(ctx, v.ID, ""); err != nil || !created {
		t.Fatalf("EnqueueEngineLock() = %v, %v", created, err)
	}

	got, _ := q.Poll(ctx, "ZX-9")
	if len(got) != 1 || got[0].Code != domain.CommandEngineLock {
		t.Errorf("delivered %+v, want only ENGINE_LOCK", got)
	}
}

func TestConcurrentPollsDeliverEachCommandOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	v := mem.AddVehicle(&domain.Vehicle{NumberPlate: "ZX-9", CompanyID: "c1", UserIDs: []string{"u1"}})
	q := NewQueue(mem, nil, log.NewNopLogger())
	ctx := context.Background()

	const queued = 50
	for i := 0; i < queued; i++ {
		if err := mem.InsertCommands(ctx, &domain.ControllerCommand{VehicleID: v.ID, Code: domain.CommandUpdateGeofence}); err != nil {
			t.Fatalf("InsertCommands() error = %v", err)
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := q.Poll(ctx, "ZX-9")
			if err != nil {
				t.Errorf("Poll() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, c := range got {
				seen[c.ID]++
			}
		}()
	}
	wg.Wait()

	if len(seen) != queued {
		t.Errorf("delivered %d distinct commands, want %d", len(seen), queued)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("command %s delivered %d times", id, n)
		}
	}
}

func TestPollDeliversOnce(t *testing.T) {
	q, v, _ := setup(t)
	ctx := context.Background()

	q.Create(ctx, owner, v.ID, domain.CommandEngineLock)

	got, err := q.Poll(ctx, "ZX-9")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(got) != 1 || got[0].Code != domain.CommandEngineLock || !got[0].IsExecuted {
		t.Fatalf("first poll = %+v", got)
	}

	again, _ := q.Poll(ctx, "ZX-9")
	if len(again) != 0 {
		t.Errorf("second poll returned %d commands, want 0", len(again))
	}

	q.Create(ctx, owner, v.ID, domain.CommandEngineUnlock)
	next, _ := q.Poll(ctx, "ZX-9")
	if len(next) != 1 || next[0].Code != domain.CommandEngineUnlock {
		t.Errorf("poll after new command = %+v", next)
	}
}

func TestPollUnknownPlate(t *testing.T) {
	q, _, _ := setup(t)

	_, err := q.Poll(context.Background(), "NOPE")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Poll() error = %v, want NotFoundError", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending command is removed", func(t *testing.T) {
		q, v, _ := setup(t)
		cmd, _, _ := q.Create(ctx, owner, v.ID, domain.CommandEngineLock)

		if _, err := q.Cancel(ctx, owner, cmd.ID); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if got, _ := q.Poll(ctx, "ZX-9"); len(got) != 0 {
			t.Errorf("cancelled command was delivered: %+v", got)
		}
	})

	t.Run("delivered command conflicts", func(t *testing.T) {
		q, v, _ := setup(t)
		cmd, _, _ := q.Create(ctx, owner, v.ID, domain.CommandEngineLock)
		q.Poll(ctx, "ZX-9")

		_, err := q.Cancel(ctx, owner, cmd.ID)
		var ce *domain.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("Cancel() error = %v, want ConflictError", err)
		}
		if ce.Msg != "Cannot cancel - command already executed by vehicle" {
			t.Errorf("message = %q", ce.Msg)
		}
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		q, v, _ := setup(t)
		cmd, _, _ := q.Create(ctx, owner, v.ID, domain.CommandEngineLock)

		_, err := q.Cancel(ctx, stranger, cmd.ID)
		var pe *domain.PermissionError
		if !errors.As(err, &pe) {
			t.Errorf("Cancel() error = %v, want PermissionError", err)
		}
	})

	t.Run("missing command", func(t *testing.T) {
		q, _, _ := setup(t)

		_, err := q.Cancel(ctx, owner, "missing")
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Cancel() error = %v, want NotFoundError", err)
		}
	})
}

func TestListRequiresAccess(t *testing.T) {
	q, v, _ := setup(t)
	ctx := context.Background()
	q.Create(ctx, owner, v.ID, domain.CommandEngineLock)

	cmds, total, err := q.List(ctx, admin, "ZX-9", domain.CommandQuery{Sort: domain.Sort{Field: domain.SortCreatedAt, Desc: true}})
	if err != nil || total != 1 || len(cmds) != 1 {
		t.Errorf("List(admin) = %d/%d, %v", len(cmds), total, err)
	}

	_, _, err = q.List(ctx, stranger, "ZX-9", domain.CommandQuery{})
	var pe *domain.PermissionError
	if !errors.As(err, &pe) {
		t.Errorf("List(stranger) error = %v, want PermissionError", err)
	}
}
