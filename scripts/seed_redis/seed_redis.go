package main

import (
	"context"
	"fmt"
	"log"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/store"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	rdb, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	defer rdb.Close()
	fmt.Println("✓ Connected")

	step1_device_keys(ctx, rdb)
	step2_user_tokens(ctx, rdb)
	step3_verify(ctx, rdb)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/telematicsd serve")
}

// Device keys never expire; controllers are flashed with them.
var deviceKeys = map[string]string{
	"demo_truck_key": "KA-01-AB-1234",
	"demo_van_key":   "KA-02-CD-5678",
}

var userTokens = map[string]domain.Identity{
	"demo_root_token":  {UserID: "demo-root", Role: domain.RoleSuperAdmin},
	"demo_admin_token": {UserID: "demo-admin", Role: domain.RoleCompanyAdmin, CompanyID: "demo-company"},
	"demo_user_token":  {UserID: "demo-user", Role: domain.RoleUser, CompanyID: "demo-company"},
}

func step1_device_keys(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 1: Device keys ─────────────────────────")

	for key, plate := range deviceKeys {
		if err := rdb.SetDeviceKey(ctx, key, plate); err != nil {
			log.Fatalf("Failed to set device key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-20s → %s\n", key, plate)
	}
}

func step2_user_tokens(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 2: User tokens ─────────────────────────")

	for token, id := range userTokens {
		if err := rdb.SetUserToken(ctx, token, id, 0); err != nil {
			log.Fatalf("Failed to set user token %s: %v", token, err)
		}
		fmt.Printf("  ✓ %-20s → %s (%s)\n", token, id.UserID, id.Role)
	}
}

func step3_verify(ctx context.Context, rdb *store.RedisStore) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	plate, err := rdb.GetDeviceKey(ctx, "demo_truck_key")
	if err != nil || plate == "" {
		log.Fatalf("Spot check failed: %q %v", plate, err)
	}
	fmt.Printf("  ✓ spot check: demo_truck_key → %s\n", plate)

	id, err := rdb.GetUserToken(ctx, "demo_user_token")
	if err != nil || id == nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: demo_user_token → %s\n", id.UserID)
}
