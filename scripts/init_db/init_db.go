package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/store"
)

func main() {
	// config.Load reads .env before the environment
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, cfg.PostgresURL())
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_schema(ctx, conn)
	step2_demo_fleet(ctx, conn)
	step3_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

func step1_schema(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Schema ──────────────────────────────")

	for _, m := range store.Schema {
		execOrFatal(ctx, conn, m.SQL, m.Name)
	}
}

func step2_demo_fleet(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: Demo fleet ──────────────────────────")

	execOrFatal(ctx, conn, `
		INSERT INTO companies (id, name) VALUES ('demo-company', 'Demo Logistics')
		ON CONFLICT (id) DO NOTHING
	`, "company demo-company")

	vehicles := []struct {
		id, plate, kind string
	}{
		{"demo-truck-1", "KA-01-AB-1234", "truck"},
		{"demo-van-1", "KA-02-CD-5678", "van"},
	}
	for _, v := range vehicles {
		_, err := conn.Exec(ctx, `
			INSERT INTO vehicles (id, number_plate, type, company_id)
			VALUES ($1, $2, $3, 'demo-company')
			ON CONFLICT (id) DO NOTHING
		`, v.id, v.plate, v.kind)
		if err != nil {
			log.Fatalf("FAILED: vehicle %s\nError: %v", v.plate, err)
		}
		_, err = conn.Exec(ctx, `
			INSERT INTO vehicle_users (vehicle_id, user_id) VALUES ($1, 'demo-user')
			ON CONFLICT DO NOTHING
		`, v.id)
		if err != nil {
			log.Fatalf("FAILED: assign demo-user to %s\nError: %v", v.plate, err)
		}
		fmt.Printf("  ✓ vehicle %-16s → %s\n", v.plate, v.id)
	}
}

func step3_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	tables := []string{"vehicles", "tracking_data", "controller_commands", "violations", "sos_alerts", "audit_logs"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var vehicles int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM vehicles`).Scan(&vehicles); err != nil {
		log.Fatalf("Vehicle count failed: %v", err)
	}
	fmt.Printf("  ✓ vehicles registered: %d\n", vehicles)
}

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}
