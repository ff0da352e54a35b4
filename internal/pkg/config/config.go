// internal/pkg/config/config.go
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration shared by every storepulse binary.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Segment   SegmentConfig   `yaml:"segment"`
	Cache     CacheConfig     `yaml:"cache"`
	Ledger    LedgerConfig    `yaml:"ledger"`
}

type ServiceConfig struct {
	Name           string   `yaml:"name"`
	Environment    string   `yaml:"environment"`
	HTTPPort       int      `yaml:"http_port"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // mysql | postgres
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addrs     []string `yaml:"addrs"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	SalesIngestedTopic string   `yaml:"sales_ingested_topic"`
	SegmentEventsTopic string   `yaml:"segment_events_topic"`
	ConsumerGroup      string   `yaml:"consumer_group"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	LockRoot       string        `yaml:"lock_root"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	DataID      string `yaml:"data_id"`
}

type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	JaegerEndpoint string  `yaml:"jaeger_endpoint"`
	SampleRatio    float64 `yaml:"sample_ratio"`
}

type SegmentConfig struct {
	LockBackend          string        `yaml:"lock_backend"` // local | zookeeper
	RecalculationTimeout time.Duration `yaml:"recalculation_timeout"`
	BackfillConcurrency  int           `yaml:"backfill_concurrency"`
}

type CacheConfig struct {
	LocalTTL      time.Duration `yaml:"local_ttl"`
	LocalCleanup  time.Duration `yaml:"local_cleanup"`
	LocalDisabled bool          `yaml:"local_disabled"`
}

type LedgerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ServiceName string        `yaml:"service_name"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when neither a file nor the environment says otherwise.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "segment-service",
			Environment: "development",
			HTTPPort:    8090,
			LogLevel:    "info",
		},
		Database: DatabaseConfig{
			Driver:          "mysql",
			Host:            "localhost",
			Port:            3306,
			User:            "root",
			Name:            "storepulse",
			MaxOpenConns:    20,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addrs:     []string{"localhost:6379"},
			KeyPrefix: "storepulse",
		},
		Kafka: KafkaConfig{
			Brokers:            []string{"localhost:9092"},
			SalesIngestedTopic: "sales.ingested",
			SegmentEventsTopic: "segment.recalculated",
			ConsumerGroup:      "segment-worker-group",
		},
		Zookeeper: ZookeeperConfig{
			Servers:        []string{"localhost:2181"},
			SessionTimeout: 10 * time.Second,
			LockRoot:       "/segment_locks",
		},
		Nacos: NacosConfig{
			ServerAddrs: "localhost:8848",
			Group:       "DEFAULT_GROUP",
			DataID:      "storepulse.yaml",
		},
		Tracing: TracingConfig{
			Enabled:        true,
			JaegerEndpoint: "http://localhost:14268/api/traces",
			SampleRatio:    1,
		},
		Segment: SegmentConfig{
			LockBackend:          "local",
			RecalculationTimeout: 2 * time.Minute,
			BackfillConcurrency:  4,
		},
		Cache: CacheConfig{
			LocalTTL:     time.Minute,
			LocalCleanup: 5 * time.Minute,
		},
		Ledger: LedgerConfig{
			ServiceName: "sales-ledger-service",
			Timeout:     10 * time.Second,
		},
	}
}

// Load reads the YAML file at path (a missing file is not an error) and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.Overlay(raw); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Overlay merges a YAML document over the current values. Keys absent from raw keep their value.
func (c *Config) Overlay(raw []byte) error {
	return yaml.Unmarshal(raw, c)
}

func (c *Config) applyEnv() {
	c.Service.Environment = envOrDefault("SERVICE_ENVIRONMENT", c.Service.Environment)
	c.Service.HTTPPort = envInt("HTTP_PORT", c.Service.HTTPPort)
	c.Service.LogLevel = envOrDefault("LOG_LEVEL", c.Service.LogLevel)
	c.Service.AllowedOrigins = envCSV("CORS_ALLOWED_ORIGINS", c.Service.AllowedOrigins)

	c.Database.Driver = envOrDefault("DB_DRIVER", c.Database.Driver)
	c.Database.Host = envOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = envInt("DB_PORT", c.Database.Port)
	c.Database.User = envOrDefault("DB_USER", c.Database.User)
	c.Database.Password = envOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.Name = envOrDefault("DB_NAME", c.Database.Name)
	c.Database.AutoMigrate = envBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Redis.Addrs = envCSV("REDIS_ADDRS", c.Redis.Addrs)
	c.Redis.Password = envOrDefault("REDIS_PASSWORD", c.Redis.Password)

	c.Kafka.Brokers = envCSV("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Zookeeper.Servers = envCSV("ZOOKEEPER_SERVERS", c.Zookeeper.Servers)

	c.Nacos.Enabled = envBool("NACOS_ENABLED", c.Nacos.Enabled)
	c.Nacos.ServerAddrs = envOrDefault("NACOS_SERVER_ADDRS", c.Nacos.ServerAddrs)
	c.Nacos.Namespace = envOrDefault("NACOS_NAMESPACE", c.Nacos.Namespace)
	c.Nacos.Group = envOrDefault("NACOS_GROUP", c.Nacos.Group)

	c.Tracing.Enabled = envBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.JaegerEndpoint = envOrDefault("JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)

	c.Segment.LockBackend = envOrDefault("SEGMENT_LOCK_BACKEND", c.Segment.LockBackend)
	c.Ledger.Enabled = envBool("LEDGER_ENABLED", c.Ledger.Enabled)
	c.Ledger.BaseURL = envOrDefault("LEDGER_BASE_URL", c.Ledger.BaseURL)
}

// Validate rejects settings no binary can start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (supported: mysql, postgres)", c.Database.Driver)
	}
	switch c.Segment.LockBackend {
	case "local", "zookeeper":
	default:
		return fmt.Errorf("unsupported segment lock backend %q (supported: local, zookeeper)", c.Segment.LockBackend)
	}
	if c.Segment.LockBackend == "zookeeper" && len(c.Zookeeper.Servers) == 0 {
		return fmt.Errorf("zookeeper lock backend requires zookeeper.servers")
	}
	if c.Service.HTTPPort <= 0 {
		return fmt.Errorf("invalid http port %d", c.Service.HTTPPort)
	}
	return nil
}

// DSN renders the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			d.Host, d.Port, d.User, d.Password, d.Name)
	}
	mc := mysqldriver.NewConfig()
	mc.User = d.User
	mc.Passwd = d.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	mc.DBName = d.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func envOrDefault(name, fallback string) string {
	if value, ok := os.LookupEnv(name); ok && value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, v := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
