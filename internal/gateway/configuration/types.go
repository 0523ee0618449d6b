package configuration

import (
	"time"

	"github.com/G-Research/analytics-gateway/internal/common/config"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
)

type GatewayConfig struct {
	HttpPort    uint16 `validate:"required"`
	MetricsPort uint16 `validate:"required"`
	EnableCors  bool
	// Username of the super admin created on startup if it does not exist yet.
	SuperAdmin string
	// How long to wait for the datastore to answer on startup.
	RedisStartupTimeout time.Duration `validate:"gt=0"`

	Logging          logging.Config
	Redis            config.RedisConfig
	AlgorithmService AlgorithmServiceConfig
	ResultCache      ResultCacheConfig
	Validation       ValidationConfig
	Quota            QuotaConfig
	Liveness         LivenessConfig
	Heartbeat        HeartbeatConfig
	Audit            AuditConfig
	Lifecycle        LifecycleConfig
}

type AlgorithmServiceConfig struct {
	Url          string        `validate:"required,url"`
	Timeout      time.Duration `validate:"gt=0"`
	ListCacheTtl time.Duration
	RetryMax     int `validate:"gte=0"`
}

type ResultCacheConfig struct {
	Url      string        `validate:"required,url"`
	Timeout  time.Duration `validate:"gt=0"`
	RetryMax int           `validate:"gte=0"`
}

type ValidationConfig struct {
	// Directory holding one JSON schema per enabled algorithm, plus core.json.
	AlgorithmsDirectory string `validate:"required"`
	// Fields of each schema that must fall on an hour boundary. Every enabled algorithm needs
	// an entry, even an empty one.
	TimeRules       map[string][]string
	SchemaCacheSize int `validate:"gt=0"`
}

type QuotaConfig struct {
	DefaultAllotment int           `validate:"gte=0"`
	RefreshWindow    time.Duration `validate:"gt=0"`
	RefreshInterval  time.Duration `validate:"gt=0"`
}

type LivenessConfig struct {
	RequiredServiceTypes []string      `validate:"required"`
	HeartbeatWindow      time.Duration `validate:"gt=0"`
}

type HeartbeatConfig struct {
	Interval time.Duration `validate:"gt=0"`
	Version  string
	Hostname string
}

// AuditConfig places the request audit files. A file is rotated once it grows past MaxSizeMB;
// rotated files are kept for MaxAgeDays, at most MaxBackups of them. Zero keeps them all.
type AuditConfig struct {
	Directory  string `validate:"required"`
	MaxSizeMB  int    `validate:"gte=0"`
	MaxBackups int    `validate:"gte=0"`
	MaxAgeDays int    `validate:"gte=0"`
}

type LifecycleConfig struct {
	MaxCancelAttempts int `validate:"gt=0"`
}
