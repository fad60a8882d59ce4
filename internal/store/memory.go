package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/telematics/internal/domain"
)

// MemoryStore keeps all state in process. It backs tests and the "memory"
// store backend; a single mutex serializes every operation.
type MemoryStore struct {
	mu sync.Mutex

	vehicles map[string]*domain.Vehicle
	plates   map[string]string
	points   map[string][]*domain.TrackingPoint
	commands []*domain.ControllerCommand
	routes   map[string]*domain.Route

	violations []*domain.Violation
	sos        []*domain.SOSAlert
	audit      []domain.AuditEntry

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles: make(map[string]*domain.Vehicle),
		plates:   make(map[string]string),
		points:   make(map[string][]*domain.TrackingPoint),
		routes:   make(map[string]*domain.Route),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for created_at/updated_at.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AddVehicle registers a vehicle. Missing ids are generated.
func (m *MemoryStore) AddVehicle(v *domain.Vehicle) *domain.Vehicle {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := cloneVehicle(v)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.NumberPlate = strings.ToUpper(c.NumberPlate)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
		c.UpdatedAt = c.CreatedAt
	}
	if c.Route != nil {
		m.routes[c.Route.ID] = cloneRoute(c.Route)
	}
	m.vehicles[c.ID] = c
	m.plates[c.NumberPlate] = c.ID
	return cloneVehicle(c)
}

func (m *MemoryStore) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vehicles[id]
	if !ok {
		return nil, domain.NotFound("vehicle", id)
	}
	return m.hydrate(v), nil
}

func (m *MemoryStore) GetVehicleByPlate(ctx context.Context, plate string) (*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.plates[strings.ToUpper(plate)]
	if !ok {
		return nil, domain.NotFound("vehicle", plate)
	}
	return m.hydrate(m.vehicles[id]), nil
}

// hydrate returns a copy of v with its route resolved. Callers hold mu.
func (m *MemoryStore) hydrate(v *domain.Vehicle) *domain.Vehicle {
	c := cloneVehicle(v)
	if c.Route != nil {
		if r, ok := m.routes[c.Route.ID]; ok {
			c.Route = cloneRoute(r)
		}
	}
	return c
}

func (m *MemoryStore) AdvanceLastSeen(ctx context.Context, vehicleID string, seen time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vehicles[vehicleID]
	if !ok {
		return false, domain.NotFound("vehicle", vehicleID)
	}
	if v.LastSeen != nil && !seen.After(*v.LastSeen) {
		return false, nil
	}
	t := seen
	v.LastSeen = &t
	v.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) UpdateModem(ctx context.Context, vehicleID string, info domain.ModemInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vehicles[vehicleID]
	if !ok {
		return domain.NotFound("vehicle", vehicleID)
	}
	mi := info
	v.Modem = &mi
	return nil
}

func (m *MemoryStore) SaveLeadingPoint(ctx context.Context, p *domain.TrackingPoint, shouldMerge func(prev *domain.TrackingPoint) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vehicles[p.VehicleID]; !ok {
		return false, domain.NotFound("vehicle", p.VehicleID)
	}

	history := m.points[p.VehicleID]
	if n := len(history); n > 0 {
		prev := history[n-1]
		if shouldMerge(clonePoint(prev)) {
			p.ID = prev.ID
			p.CreatedAt = prev.CreatedAt
			p.UpdatedAt = m.now()
			history[n-1] = clonePoint(p)
			return true, nil
		}
	}
	m.insertPointLocked(p)
	return false, nil
}

func (m *MemoryStore) InsertPoint(ctx context.Context, p *domain.TrackingPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vehicles[p.VehicleID]; !ok {
		return domain.NotFound("vehicle", p.VehicleID)
	}
	m.insertPointLocked(p)
	return nil
}

func (m *MemoryStore) insertPointLocked(p *domain.TrackingPoint) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = m.now()
	p.UpdatedAt = p.CreatedAt
	m.points[p.VehicleID] = append(m.points[p.VehicleID], clonePoint(p))
}

// PointsInRange returns points whose time_from or time_to lies in (from, to],
// ordered by time_from.
func (m *MemoryStore) PointsInRange(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.TrackingPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := func(t time.Time) bool { return t.After(from) && !t.After(to) }
	var out []domain.TrackingPoint
	for _, p := range m.points[vehicleID] {
		if in(p.TimeFrom) || in(p.TimeTo) {
			out = append(out, *clonePoint(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeFrom.Before(out[j].TimeFrom) })
	return out, nil
}

// History returns points whose time_from lies in (from, to], ordered by time_from.
func (m *MemoryStore) History(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.TrackingPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.TrackingPoint
	for _, p := range m.points[vehicleID] {
		if p.TimeFrom.After(from) && !p.TimeFrom.After(to) {
			out = append(out, *clonePoint(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimeFrom.Before(out[j].TimeFrom) })
	return out, nil
}

// PointCount is the number of stored points for a vehicle.
func (m *MemoryStore) PointCount(vehicleID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points[vehicleID])
}

func (m *MemoryStore) InsertCommands(ctx context.Context, cmds ...*domain.ControllerCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range cmds {
		if _, ok := m.vehicles[c.VehicleID]; !ok {
			return domain.NotFound("vehicle", c.VehicleID)
		}
	}
	for _, c := range cmds {
		m.insertCommandLocked(c)
	}
	return nil
}

func (m *MemoryStore) insertCommandLocked(c *domain.ControllerCommand) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.IsExecuted = false
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	m.commands = append(m.commands, cloneCommand(c))
}

func (m *MemoryStore) InsertCommandUnlessPending(ctx context.Context, c *domain.ControllerCommand) (*domain.ControllerCommand, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vehicles[c.VehicleID]; !ok {
		return nil, false, domain.NotFound("vehicle", c.VehicleID)
	}
	cmd, inserted := m.enqueueEngineLocked(c)
	return cloneCommand(cmd), inserted, nil
}

// enqueueEngineLocked keeps at most one pending engine command per vehicle,
// replacing one with the opposite code.
func (m *MemoryStore) enqueueEngineLocked(c *domain.ControllerCommand) (*domain.ControllerCommand, bool) {
	for i := len(m.commands) - 1; i >= 0; i-- {
		existing := m.commands[i]
		if existing.VehicleID == c.VehicleID && existing.Code.IsEngine() && !existing.IsExecuted {
			if existing.Code == c.Code {
				return existing, false
			}
			break
		}
	}

	kept := m.commands[:0]
	for _, existing := range m.commands {
		if existing.VehicleID == c.VehicleID && existing.Code.IsEngine() && !existing.IsExecuted {
			continue
		}
		kept = append(kept, existing)
	}
	m.commands = kept
	m.insertCommandLocked(c)
	return c, true
}

func (m *MemoryStore) DrainPending(ctx context.Context, vehicleID string) ([]domain.ControllerCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := []domain.ControllerCommand{}
	for _, c := range m.commands {
		if c.VehicleID != vehicleID || c.IsExecuted {
			continue
		}
		c.IsExecuted = true
		c.UpdatedAt = now
		out = append(out, *cloneCommand(c))
	}
	return out, nil
}

func (m *MemoryStore) GetCommand(ctx context.Context, id string) (*domain.ControllerCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.commands {
		if c.ID == id {
			return cloneCommand(c), nil
		}
	}
	return nil, domain.NotFound("command", id)
}

func (m *MemoryStore) DeletePendingCommand(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.commands {
		if c.ID != id {
			continue
		}
		if c.IsExecuted {
			return false, nil
		}
		m.commands = append(m.commands[:i], m.commands[i+1:]...)
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) ListCommands(ctx context.Context, vehicleID string, q domain.CommandQuery) ([]domain.ControllerCommand, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []domain.ControllerCommand
	for _, c := range m.commands {
		if c.VehicleID == vehicleID {
			all = append(all, *cloneCommand(c))
		}
	}

	less := commandLess(q.Sort.Field)
	sort.SliceStable(all, func(i, j int) bool {
		if q.Sort.Desc {
			return less(&all[j], &all[i])
		}
		return less(&all[i], &all[j])
	})

	total := len(all)
	page := q.Page.Normalize()
	if page.Offset >= total {
		return []domain.ControllerCommand{}, total, nil
	}
	end := page.Offset + page.Limit
	if end > total {
		end = total
	}
	return all[page.Offset:end], total, nil
}

func commandLess(f domain.SortField) func(a, b *domain.ControllerCommand) bool {
	switch f {
	case domain.SortUpdatedAt:
		return func(a, b *domain.ControllerCommand) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	case domain.SortCode:
		return func(a, b *domain.ControllerCommand) bool { return a.Code < b.Code }
	case domain.SortIsExecuted:
		return func(a, b *domain.ControllerCommand) bool { return !a.IsExecuted && b.IsExecuted }
	default:
		return func(a, b *domain.ControllerCommand) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
}

func (m *MemoryStore) CountPendingCommands(ctx context.Context, vehicleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.commands {
		if c.VehicleID == vehicleID && !c.IsExecuted {
			n++
		}
	}
	return n, nil
}

// UpdateZone applies mutate to the vehicle and stores the resulting zone fields
// together with the returned commands. Nothing is stored if mutate fails.
func (m *MemoryStore) UpdateZone(ctx context.Context, vehicleID string, mutate func(v *domain.Vehicle) ([]*domain.ControllerCommand, error)) (*domain.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.vehicles[vehicleID]
	if !ok {
		return nil, domain.NotFound("vehicle", vehicleID)
	}
	v := m.hydrate(stored)

	cmds, err := mutate(v)
	if err != nil {
		return nil, err
	}
	if v.Route != nil {
		if _, ok := m.routes[v.Route.ID]; !ok {
			return nil, domain.NotFound("route", v.Route.ID)
		}
	}

	now := m.now()
	if v.Geofence != nil {
		if v.Geofence.ID == "" {
			v.Geofence.ID = uuid.NewString()
			v.Geofence.CreatedAt = now
		}
		v.Geofence.VehicleID = v.ID
		v.Geofence.UpdatedAt = now
	}
	v.UpdatedAt = now

	for _, c := range cmds {
		c.VehicleID = v.ID
		if c.Code.IsEngine() {
			m.enqueueEngineLocked(c)
			continue
		}
		m.insertCommandLocked(c)
	}

	m.vehicles[vehicleID] = cloneVehicle(v)
	return cloneVehicle(v), nil
}

func (m *MemoryStore) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.routes[id]
	if !ok {
		return nil, domain.NotFound("route", id)
	}
	return cloneRoute(r), nil
}

func (m *MemoryStore) ListRoutes(ctx context.Context) ([]domain.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Route, 0, len(m.routes))
	for _, r := range m.routes {
		out = append(out, *cloneRoute(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateRoute(ctx context.Context, r *domain.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = m.now()
	r.UpdatedAt = r.CreatedAt
	m.routes[r.ID] = cloneRoute(r)
	return nil
}

func (m *MemoryStore) UpdateRoute(ctx context.Context, r *domain.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.routes[r.ID]
	if !ok {
		return domain.NotFound("route", r.ID)
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = m.now()
	m.routes[r.ID] = cloneRoute(r)
	return nil
}

// RouteVehicles returns the ids of vehicles currently assigned to the route.
func (m *MemoryStore) RouteVehicles(ctx context.Context, routeID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, v := range m.vehicles {
		if v.Route != nil && v.Route.ID == routeID {
			ids = append(ids, v.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) DeleteRoute(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.routes[id]; !ok {
		return domain.NotFound("route", id)
	}
	for _, v := range m.vehicles {
		if v.Route != nil && v.Route.ID == id {
			return &domain.ConflictError{Msg: "route is assigned to a vehicle"}
		}
	}
	delete(m.routes, id)
	return nil
}

func (m *MemoryStore) InsertViolations(ctx context.Context, vs []*domain.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, v := range vs {
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		v.CreatedAt = now
		c := *v
		m.violations = append(m.violations, &c)
	}
	return nil
}

func (m *MemoryStore) ListViolations(ctx context.Context, scope domain.Scope, page domain.Page) ([]domain.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Violation
	for i := len(m.violations) - 1; i >= 0; i-- {
		v := m.violations[i]
		if veh, ok := m.vehicles[v.VehicleID]; ok && scope.Matches(veh) {
			out = append(out, *v)
		}
	}
	return paginate(out, page), nil
}

func (m *MemoryStore) InsertSOSAlert(ctx context.Context, a *domain.SOSAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = m.now()
	c := *a
	m.sos = append(m.sos, &c)
	return nil
}

func (m *MemoryStore) ListSOSAlerts(ctx context.Context, scope domain.Scope, page domain.Page) ([]domain.SOSAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.SOSAlert
	for i := len(m.sos) - 1; i >= 0; i-- {
		a := m.sos[i]
		if veh, ok := m.vehicles[a.VehicleID]; ok && scope.Matches(veh) {
			out = append(out, *a)
		}
	}
	return paginate(out, page), nil
}

func (m *MemoryStore) SetHelpDispatched(ctx context.Context, id string, dispatched bool) (*domain.SOSAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.sos {
		if a.ID == id {
			a.HelpDispatched = dispatched
			c := *a
			return &c, nil
		}
	}
	return nil, domain.NotFound("sos alert", id)
}

func (m *MemoryStore) InsertAuditEntries(ctx context.Context, entries []domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, entries...)
	return nil
}

// AuditEntries returns a copy of everything recorded so far.
func (m *MemoryStore) AuditEntries() []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.audit...)
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func paginate[T any](items []T, page domain.Page) []T {
	p := page.Normalize()
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

func clonePoint(p *domain.TrackingPoint) *domain.TrackingPoint {
	c := *p
	return &c
}

func cloneCommand(c *domain.ControllerCommand) *domain.ControllerCommand {
	out := *c
	if c.Payload != nil {
		out.Payload = append([]byte(nil), c.Payload...)
	}
	return &out
}

func cloneRoute(r *domain.Route) *domain.Route {
	out := *r
	out.Bounds = append([]domain.LatLng(nil), r.Bounds...)
	return &out
}

func cloneVehicle(v *domain.Vehicle) *domain.Vehicle {
	out := *v
	out.UserIDs = append([]string(nil), v.UserIDs...)
	out.GeofenceAlertRecipients = append([]string(nil), v.GeofenceAlertRecipients...)
	if v.LastSeen != nil {
		t := *v.LastSeen
		out.LastSeen = &t
	}
	if v.Geofence != nil {
		g := *v.Geofence
		g.Geometry = append([]domain.LatLng(nil), v.Geofence.Geometry...)
		out.Geofence = &g
	}
	if v.Route != nil {
		out.Route = cloneRoute(v.Route)
	}
	if v.Modem != nil {
		mi := *v.Modem
		out.Modem = &mi
	}
	return &out
}
