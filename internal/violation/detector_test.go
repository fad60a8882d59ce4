package violation

import (
	"context"
	"net/http"
	"testing"

	"fleet-monitor/telematics/internal/command"
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/store"
)

type noticeLog struct {
	notices []*domain.Notice
}

func (n *noticeLog) Notify(notice *domain.Notice) { n.notices = append(n.notices, notice) }

func ptr(f float64) *float64 { return &f }

func entry(t domain.ViolationType) Entry {
	return Entry{Type: t, Data: &EntryData{
		Lat: ptr(-17.8), Lon: ptr(31.05), Speed: ptr(42), Satellites: ptr(9), HDOP: ptr(0.9), Course: ptr(180),
	}}
}

func setup(t *testing.T, v *domain.Vehicle) (*Detector, *store.MemoryStore, *domain.Vehicle, *noticeLog) {
	t.Helper()
	mem := store.NewMemoryStore()
	added := mem.AddVehicle(v)
	notices := &noticeLog{}
	queue := command.NewQueue(mem, nil, log.NewNopLogger())
	return NewDetector(mem, queue, notices, nil, log.NewNopLogger()), mem, added, notices
}

func TestReportValidate(t *testing.T) {
	missingLat := entry(domain.ViolationGeofence)
	missingLat.Data.Lat = nil
	fractional := entry(domain.ViolationRoute)
	fractional.Data.Satellites = ptr(4.5)

	tests := []struct {
		name    string
		report  Report
		wantErr bool
	}{
		{"ok", Report{Violations: []Entry{entry(domain.ViolationGeofence)}}, false},
		{"empty", Report{}, true},
		{"unknown type", Report{Violations: []Entry{entry("SPEEDING")}}, true},
		{"no data", Report{Violations: []Entry{{Type: domain.ViolationRoute}}}, true},
		{"missing lat", Report{Violations: []Entry{missingLat}}, true},
		{"fractional satellites", Report{Violations: []Entry{fractional}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.report.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReport(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		vehicle     domain.Vehicle
		reported    domain.ViolationType
		wantType    domain.ViolationType
		wantNotices int
		wantLock    bool
	}{
		{
			name:     "geofence without zone becomes route",
			vehicle:  domain.Vehicle{NumberPlate: "P1", CompanyID: "c1"},
			reported: domain.ViolationGeofence,
			wantType: domain.ViolationRoute,
		},
		{
			name: "geofence with recipients notifies",
			vehicle: domain.Vehicle{
				NumberPlate:             "P2",
				CompanyID:               "c1",
				Geofence:                &domain.Geofence{ID: "g1"},
				GeofenceAlertRecipients: []string{"ops@example.com"},
			},
			reported:    domain.ViolationGeofence,
			wantType:    domain.ViolationGeofence,
			wantNotices: 1,
		},
		{
			name: "route report never notifies",
			vehicle: domain.Vehicle{
				NumberPlate:             "P3",
				Route:                   &domain.Route{ID: "r1"},
				GeofenceAlertRecipients: []string{"ops@example.com"},
			},
			reported: domain.ViolationRoute,
			wantType: domain.ViolationRoute,
		},
		{
			name: "geofence report on a route vehicle stays silent",
			vehicle: domain.Vehicle{
				NumberPlate:             "P5",
				Route:                   &domain.Route{ID: "r1"},
				GeofenceAlertRecipients: []string{"ops@example.com"},
			},
			reported: domain.ViolationGeofence,
			wantType: domain.ViolationRoute,
		},
		{
			name: "lock flag queues engine lock",
			vehicle: domain.Vehicle{
				NumberPlate:           "P4",
				Geofence:              &domain.Geofence{ID: "g1"},
				LockEngineOnViolation: true,
				UserIDs:               []string{"u1"},
			},
			reported: domain.ViolationGeofence,
			wantType: domain.ViolationGeofence,
			wantLock: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, mem, v, notices := setup(t, &tt.vehicle)

			recs, err := d.Report(ctx, v.NumberPlate, &Report{Violations: []Entry{entry(tt.reported)}})
			if err != nil {
				t.Fatalf("Report() error = %v", err)
			}
			if len(recs) != 1 || recs[0].Type != tt.wantType {
				t.Fatalf("records = %+v, want type %s", recs, tt.wantType)
			}
			if recs[0].UserID != v.PrimaryUserID() || recs[0].Satellites != 9 {
				t.Errorf("record = %+v", recs[0])
			}
			if len(notices.notices) != tt.wantNotices {
				t.Errorf("notices = %d, want %d", len(notices.notices), tt.wantNotices)
			}

			cmds, _ := mem.DrainPending(ctx, v.ID)
			gotLock := len(cmds) == 1 && cmds[0].Code == domain.CommandEngineLock
			if gotLock != tt.wantLock {
				t.Errorf("commands = %+v, want lock %v", cmds, tt.wantLock)
			}
		})
	}
}

func TestReportReusesPendingLock(t *testing.T) {
	ctx := context.Background()
	d, mem, v, _ := setup(t, &domain.Vehicle{NumberPlate: "L1", LockEngineOnViolation: true})

	for i := 0; i < 3; i++ {
		if _, err := d.Report(ctx, v.NumberPlate, &Report{Violations: []Entry{entry(domain.ViolationRoute)}}); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := mem.CountPendingCommands(ctx, v.ID); n != 1 {
		t.Errorf("pending commands = %d, want 1", n)
	}
}

func TestRecordSOS(t *testing.T) {
	ctx := context.Background()
	d, _, v, notices := setup(t, &domain.Vehicle{NumberPlate: "S1", CompanyID: "c1", UserIDs: []string{"driver"}})

	if _, err := d.RecordSOS(ctx, v.NumberPlate, &SOSReport{Type: "ALIENS", Lat: ptr(1), Lon: ptr(1)}); domain.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("bad type error = %v", err)
	}
	if _, err := d.RecordSOS(ctx, "NOPE", &SOSReport{Type: domain.SOSFire, Lat: ptr(1), Lon: ptr(1)}); domain.HTTPStatus(err) != http.StatusNotFound {
		t.Errorf("unknown plate error = %v", err)
	}

	a, err := d.RecordSOS(ctx, v.NumberPlate, &SOSReport{Type: domain.SOSMedical, Lat: ptr(-1), Lon: ptr(2)})
	if err != nil {
		t.Fatalf("RecordSOS() error = %v", err)
	}
	if a.UserID != "driver" || a.HelpDispatched {
		t.Errorf("alert = %+v", a)
	}
	if len(notices.notices) != 1 || notices.notices[0].Kind != domain.NoticeSOS || notices.notices[0].CompanyID != "c1" {
		t.Errorf("notices = %+v", notices.notices)
	}

	if _, err := d.SetHelpDispatched(ctx, domain.Identity{UserID: "driver", Role: domain.RoleUser}, a.ID, true); domain.HTTPStatus(err) != http.StatusForbidden {
		t.Errorf("user dispatch error = %v", err)
	}
	got, err := d.SetHelpDispatched(ctx, domain.Identity{UserID: "root", Role: domain.RoleSuperAdmin}, a.ID, true)
	if err != nil || !got.HelpDispatched {
		t.Errorf("SetHelpDispatched() = %+v, %v", got, err)
	}
}

func TestListScope(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	mine := mem.AddVehicle(&domain.Vehicle{NumberPlate: "M1", CompanyID: "c1", UserIDs: []string{"u1"}})
	other := mem.AddVehicle(&domain.Vehicle{NumberPlate: "O1", CompanyID: "c2", UserIDs: []string{"u2"}})
	d := NewDetector(mem, nil, nil, nil, log.NewNopLogger())

	for _, plate := range []string{mine.NumberPlate, other.NumberPlate} {
		if _, err := d.Report(ctx, plate, &Report{Violations: []Entry{entry(domain.ViolationRoute)}}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name       string
		id         domain.Identity
		vehicleID  string
		want       int
		wantStatus int
	}{
		{"super admin sees all", domain.Identity{UserID: "root", Role: domain.RoleSuperAdmin}, "", 2, http.StatusOK},
		{"company admin", domain.Identity{UserID: "a", Role: domain.RoleCompanyAdmin, CompanyID: "c2"}, "", 1, http.StatusOK},
		{"user", domain.Identity{UserID: "u1", Role: domain.RoleUser}, "", 1, http.StatusOK},
		{"user filter own", domain.Identity{UserID: "u1", Role: domain.RoleUser}, mine.ID, 1, http.StatusOK},
		{"user filter other", domain.Identity{UserID: "u1", Role: domain.RoleUser}, other.ID, 0, http.StatusForbidden},
		{"device", domain.Identity{Plate: "M1"}, "", 0, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ListViolations(ctx, tt.id, tt.vehicleID, domain.Page{})
			if status := domain.HTTPStatus(err); status != tt.wantStatus {
				t.Fatalf("ListViolations() error = %v, status %d, want %d", err, status, tt.wantStatus)
			}
			if len(got) != tt.want {
				t.Errorf("got %d violations, want %d", len(got), tt.want)
			}
		})
	}
}
