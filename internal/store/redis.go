package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/domain"
)

const liveStateTTL = 10 * time.Minute

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func TelemetryChannel(companyID string) string {
	return fmt.Sprintf("fleet:%s:telemetry", companyID)
}

func AlertChannel(companyID string) string {
	return fmt.Sprintf("fleet:%s:alerts", companyID)
}

// UpdateLiveState writes the latest position of a vehicle, indexes it for
// radius queries and publishes it to the company's telemetry channel.
func (r *RedisStore) UpdateLiveState(ctx context.Context, ev *domain.PointEvent) error {
	p := ev.Point
	stateData := map[string]interface{}{
		"vehicle_id":    ev.VehicleID,
		"company_id":    ev.CompanyID,
		"plate":         ev.Plate,
		"lat":           p.Lat,
		"lon":           p.Lon,
		"speed":         p.Speed,
		"course":        p.Course,
		"fuel_level":    p.FuelLevel,
		"battery":       p.BatteryPercentage,
		"state":         string(p.State),
		"ignition":      p.Ignition,
		"zone_state":    string(p.GeofenceViolationState),
		"engine_locked": p.IsEngineLocked,
		"time_from":     p.TimeFrom.Unix(),
		"received_at":   ev.ReceivedAt.Unix(),
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	vehicleStateKey := fmt.Sprintf("vehicle:%s:state", ev.VehicleID)
	geoKey := fmt.Sprintf("fleet:%s:geo", ev.CompanyID)

	pipe := r.client.Pipeline()

	pipe.HSet(ctx, vehicleStateKey, stateData)
	pipe.Expire(ctx, vehicleStateKey, liveStateTTL)
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      ev.VehicleID,
		Longitude: p.Lon,
		Latitude:  p.Lat,
	})
	pipe.Publish(ctx, TelemetryChannel(ev.CompanyID), pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// LiveState returns the cached state hash of a vehicle, empty when expired.
func (r *RedisStore) LiveState(ctx context.Context, vehicleID string) (map[string]string, error) {
	return r.client.HGetAll(ctx, fmt.Sprintf("vehicle:%s:state", vehicleID)).Result()
}

// GetDeviceKey returns the plate bound to apiKey, or "" if unknown.
func (r *RedisStore) GetDeviceKey(ctx context.Context, apiKey string) (string, error) {
	val, err := r.client.Get(ctx, fmt.Sprintf("vehicle:auth:%s", apiKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) SetDeviceKey(ctx context.Context, apiKey, plate string) error {
	return r.client.Set(ctx, fmt.Sprintf("vehicle:auth:%s", apiKey), plate, 0).Err()
}

// GetUserToken returns the identity bound to a bearer token, or nil.
func (r *RedisStore) GetUserToken(ctx context.Context, token string) (*domain.Identity, error) {
	raw, err := r.client.Get(ctx, fmt.Sprintf("user:auth:%s", token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get user token failed: %w", err)
	}

	var id domain.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("decode user token: %w", err)
	}
	return &id, nil
}

func (r *RedisStore) SetUserToken(ctx context.Context, token string, id domain.Identity, ttl time.Duration) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, fmt.Sprintf("user:auth:%s", token), raw, ttl).Err()
}

// AcquireNotifyDedup reports whether this is the first notification of kind
// for the vehicle within window.
func (r *RedisStore) AcquireNotifyDedup(ctx context.Context, vehicleID, kind string, window time.Duration) (bool, error) {
	key := fmt.Sprintf("notify:%s:%s", vehicleID, kind)
	ok, err := r.client.SetNX(ctx, key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) PublishAlert(ctx context.Context, companyID string, payload []byte) error {
	return r.client.Publish(ctx, AlertChannel(companyID), payload).Err()
}

// Subscribe opens a subscription to the telemetry and alert channels of a company.
func (r *RedisStore) Subscribe(ctx context.Context, companyID string) *redis.PubSub {
	return r.client.Subscribe(ctx, TelemetryChannel(companyID), AlertChannel(companyID))
}
