package store

// Migration is a named, idempotent DDL statement.
type Migration struct {
	Name string
	SQL  string
}

// Schema lists the tables in dependency order.
var Schema = []Migration{
	{"companies", `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"routes", `
CREATE TABLE IF NOT EXISTS routes (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	bounds     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"vehicles", `
CREATE TABLE IF NOT EXISTS vehicles (
	id                        TEXT PRIMARY KEY,
	number_plate              TEXT NOT NULL UNIQUE,
	type                      TEXT NOT NULL DEFAULT '',
	company_id                TEXT NOT NULL DEFAULT '',
	last_seen                 TIMESTAMPTZ,
	route_id                  TEXT REFERENCES routes(id),
	lock_engine_on_violation  BOOLEAN NOT NULL DEFAULT FALSE,
	geofence_alert_recipients TEXT[] NOT NULL DEFAULT '{}',
	modem_info                JSONB,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"vehicle_users", `
CREATE TABLE IF NOT EXISTS vehicle_users (
	vehicle_id  TEXT NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
	user_id     TEXT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (vehicle_id, user_id)
)`},
	{"geofences", `
CREATE TABLE IF NOT EXISTS geofences (
	id         TEXT PRIMARY KEY,
	vehicle_id TEXT NOT NULL UNIQUE REFERENCES vehicles(id) ON DELETE CASCADE,
	geometry   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"tracking_data", `
CREATE TABLE IF NOT EXISTS tracking_data (
	id                       TEXT PRIMARY KEY,
	vehicle_id               TEXT NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
	lat                      DOUBLE PRECISION NOT NULL,
	lon                      DOUBLE PRECISION NOT NULL,
	speed                    DOUBLE PRECISION NOT NULL DEFAULT 0,
	altitude                 DOUBLE PRECISION NOT NULL DEFAULT 0,
	course                   DOUBLE PRECISION NOT NULL DEFAULT 0,
	satellites               INTEGER NOT NULL DEFAULT 0,
	hdop                     DOUBLE PRECISION NOT NULL DEFAULT 0,
	age                      DOUBLE PRECISION NOT NULL DEFAULT 0,
	time_from                TIMESTAMPTZ NOT NULL,
	time_to                  TIMESTAMPTZ NOT NULL,
	state                    TEXT NOT NULL DEFAULT 'MOVING',
	ignition                 BOOLEAN NOT NULL DEFAULT FALSE,
	battery_percentage       DOUBLE PRECISION NOT NULL DEFAULT 0,
	fuel_level               DOUBLE PRECISION NOT NULL DEFAULT 0,
	mileage                  DOUBLE PRECISION NOT NULL DEFAULT 0,
	signal_strength          DOUBLE PRECISION NOT NULL DEFAULT 0,
	operator_name            TEXT NOT NULL DEFAULT '',
	ip_address               TEXT NOT NULL DEFAULT '',
	public_ip_address        TEXT NOT NULL DEFAULT '',
	ccid                     TEXT NOT NULL DEFAULT '',
	imei                     TEXT NOT NULL DEFAULT '',
	imsi                     TEXT NOT NULL DEFAULT '',
	geofence_id              TEXT NOT NULL DEFAULT '',
	route_id                 TEXT NOT NULL DEFAULT '',
	geofence_violation_state TEXT NOT NULL DEFAULT '',
	is_engine_locked         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"tracking_data_latest_idx", `
CREATE INDEX IF NOT EXISTS tracking_data_latest_idx ON tracking_data (vehicle_id, created_at DESC)`},
	{"tracking_data_time_idx", `
CREATE INDEX IF NOT EXISTS tracking_data_time_idx ON tracking_data (vehicle_id, time_from)`},
	{"controller_commands", `
CREATE TABLE IF NOT EXISTS controller_commands (
	id          TEXT PRIMARY KEY,
	vehicle_id  TEXT NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
	code        TEXT NOT NULL,
	payload     JSONB,
	is_executed BOOLEAN NOT NULL DEFAULT FALSE,
	created_by  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"controller_commands_pending_idx", `
CREATE INDEX IF NOT EXISTS controller_commands_pending_idx
	ON controller_commands (vehicle_id, created_at) WHERE is_executed = FALSE`},
	{"violations", `
CREATE TABLE IF NOT EXISTS violations (
	id         TEXT PRIMARY KEY,
	vehicle_id TEXT NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
	company_id TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	lat        DOUBLE PRECISION NOT NULL,
	lon        DOUBLE PRECISION NOT NULL,
	speed      DOUBLE PRECISION NOT NULL DEFAULT 0,
	satellites INTEGER NOT NULL DEFAULT 0,
	hdop       DOUBLE PRECISION NOT NULL DEFAULT 0,
	course     DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"sos_alerts", `
CREATE TABLE IF NOT EXISTS sos_alerts (
	id              TEXT PRIMARY KEY,
	vehicle_id      TEXT NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL DEFAULT '',
	type            TEXT NOT NULL,
	lat             DOUBLE PRECISION NOT NULL,
	lon             DOUBLE PRECISION NOT NULL,
	help_dispatched BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{"audit_logs", `
CREATE TABLE IF NOT EXISTS audit_logs (
	id         BIGSERIAL PRIMARY KEY,
	action     TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	section    TEXT NOT NULL,
	change     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
}
