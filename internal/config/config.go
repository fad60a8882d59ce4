package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Store backend: "postgres" or "memory"
	StoreBackend string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Pipeline channels
	StateChannelSize   int
	ArchiveChannelSize int
	NotifyChannelSize  int
	AuditChannelSize   int

	// Batch writer tuning
	AuditBatchSize         int
	AuditFlushIntervalMS   int
	ArchiveBatchSize       int
	ArchiveFlushIntervalMS int

	// Worker counts
	StateWriterWorkers int
	NotifyWorkers      int

	// Auth
	AuthCacheTTLSeconds int
	DeviceKeys          map[string]string // api key -> plate

	// Ingestion
	MergeRadiusMeters float64

	// Notifications
	Notifiers          []string
	NotifyDedupSeconds int
	NotifyTimeout      time.Duration

	// Firmware
	FirmwareBackend string
	FirmwareDir     string
	FirmwareObject  string

	S3         S3Options
	Kafka      KafkaOptions
	AMQP       AMQPOptions
	ClickHouse ClickHouseOptions
}

var defaults = map[string]any{
	"http_port":                 "8001",
	"store_backend":             "postgres",
	"db_host":                   "localhost",
	"db_port":                   "5432",
	"db_user":                   "fleet_user",
	"db_password":               "fleet_password",
	"db_name":                   "fleet_monitor",
	"db_max_conns":              15,
	"redis_addr":                "localhost:6379",
	"redis_password":            "",
	"redis_db":                  0,
	"state_channel_size":        50000,
	"archive_channel_size":      10000,
	"notify_channel_size":       1000,
	"audit_channel_size":        1000,
	"audit_batch_size":          100,
	"audit_flush_interval_ms":   500,
	"archive_batch_size":        500,
	"archive_flush_interval_ms": 1000,
	"state_writer_workers":      5,
	"notify_workers":            3,
	"auth_cache_ttl_seconds":    300,
	"valid_api_keys":            "",
	"merge_radius_meters":       15.0,
	"notifiers":                 "log,redis",
	"notify_dedup_seconds":      0,
	"notify_timeout_ms":         5000,
	"firmware_backend":          "fs",
	"firmware_dir":              "./sketches",
	"firmware_object":           "sketch.bin",
	"s3_endpoint":               "localhost:9000",
	"s3_access_key_id":          "minioadmin",
	"s3_secret_access_key":      "minioadmin",
	"s3_use_ssl":                false,
	"s3_bucket_name":            "firmware",
	"s3_region":                 "us-east-1",
	"kafka_brokers":             "localhost:9092",
	"kafka_topic":               "fleet.violations",
	"amqp_host":                 "localhost",
	"amqp_port":                 5672,
	"amqp_username":             "guest",
	"amqp_password":             "guest",
	"amqp_exchange":             "fleet",
	"amqp_queue":                "geofence.notifications",
	"clickhouse_enabled":        false,
	"clickhouse_addr":           "localhost:9000",
	"clickhouse_database":       "fleet",
	"clickhouse_username":       "default",
	"clickhouse_password":       "",
}

// Load reads configuration from defaults, an optional config file, a .env file
// and the process environment, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		HTTPPort:               v.GetString("http_port"),
		StoreBackend:           v.GetString("store_backend"),
		DBHost:                 v.GetString("db_host"),
		DBPort:                 v.GetString("db_port"),
		DBUser:                 v.GetString("db_user"),
		DBPassword:             v.GetString("db_password"),
		DBName:                 v.GetString("db_name"),
		DBMaxConns:             v.GetInt32("db_max_conns"),
		RedisAddr:              v.GetString("redis_addr"),
		RedisPassword:          v.GetString("redis_password"),
		RedisDB:                v.GetInt("redis_db"),
		StateChannelSize:       v.GetInt("state_channel_size"),
		ArchiveChannelSize:     v.GetInt("archive_channel_size"),
		NotifyChannelSize:      v.GetInt("notify_channel_size"),
		AuditChannelSize:       v.GetInt("audit_channel_size"),
		AuditBatchSize:         v.GetInt("audit_batch_size"),
		AuditFlushIntervalMS:   v.GetInt("audit_flush_interval_ms"),
		ArchiveBatchSize:       v.GetInt("archive_batch_size"),
		ArchiveFlushIntervalMS: v.GetInt("archive_flush_interval_ms"),
		StateWriterWorkers:     v.GetInt("state_writer_workers"),
		NotifyWorkers:          v.GetInt("notify_workers"),
		AuthCacheTTLSeconds:    v.GetInt("auth_cache_ttl_seconds"),
		DeviceKeys:             parseDeviceKeys(v.GetString("valid_api_keys")),
		MergeRadiusMeters:      v.GetFloat64("merge_radius_meters"),
		Notifiers:              splitList(v.GetString("notifiers")),
		NotifyDedupSeconds:     v.GetInt("notify_dedup_seconds"),
		NotifyTimeout:          time.Duration(v.GetInt("notify_timeout_ms")) * time.Millisecond,
		FirmwareBackend:        v.GetString("firmware_backend"),
		FirmwareDir:            v.GetString("firmware_dir"),
		FirmwareObject:         v.GetString("firmware_object"),
		S3: S3Options{
			Endpoint:        v.GetString("s3_endpoint"),
			AccessKeyID:     v.GetString("s3_access_key_id"),
			SecretAccessKey: v.GetString("s3_secret_access_key"),
			UseSSL:          v.GetBool("s3_use_ssl"),
			BucketName:      v.GetString("s3_bucket_name"),
			Region:          v.GetString("s3_region"),
		},
		Kafka: KafkaOptions{
			Brokers: splitList(v.GetString("kafka_brokers")),
			Topic:   v.GetString("kafka_topic"),
		},
		AMQP: AMQPOptions{
			Host:     v.GetString("amqp_host"),
			Port:     v.GetInt("amqp_port"),
			Username: v.GetString("amqp_username"),
			Password: v.GetString("amqp_password"),
			Exchange: v.GetString("amqp_exchange"),
			Queue:    v.GetString("amqp_queue"),
		},
		ClickHouse: ClickHouseOptions{
			Enabled:  v.GetBool("clickhouse_enabled"),
			Addr:     v.GetString("clickhouse_addr"),
			Database: v.GetString("clickhouse_database"),
			Username: v.GetString("clickhouse_username"),
			Password: v.GetString("clickhouse_password"),
		},
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}
	return cfg, nil
}

func (c *Config) Validate() []error {
	var errs []error

	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store_backend must be postgres or memory, got %q", c.StoreBackend))
	}
	switch c.FirmwareBackend {
	case "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("firmware_backend must be fs or s3, got %q", c.FirmwareBackend))
	}
	if c.MergeRadiusMeters < 0 {
		errs = append(errs, fmt.Errorf("merge_radius_meters must not be negative"))
	}
	for _, n := range c.Notifiers {
		switch n {
		case "log", "redis":
		case "kafka":
			errs = append(errs, c.Kafka.Validate()...)
		case "amqp":
			errs = append(errs, c.AMQP.Validate()...)
		default:
			errs = append(errs, fmt.Errorf("unknown notifier %q", n))
		}
	}
	if c.FirmwareBackend == "s3" {
		errs = append(errs, c.S3.Validate()...)
	}
	if c.ClickHouse.Enabled {
		errs = append(errs, c.ClickHouse.Validate()...)
	}
	return errs
}

// PostgresURL builds the pgx connection string.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBMaxConns,
	)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDeviceKeys reads "key:PLATE,key2:PLATE2".
func parseDeviceKeys(s string) map[string]string {
	keys := make(map[string]string)
	for _, pair := range splitList(s) {
		key, plate, ok := strings.Cut(pair, ":")
		if !ok || key == "" || plate == "" {
			continue
		}
		keys[key] = strings.ToUpper(plate)
	}
	return keys
}
