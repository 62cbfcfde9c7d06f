package core

const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultPageSize       = 50
	DefaultRegion         = "us-east-1"
)

type Config struct {
	MaxUploadBytes int64
	PageSize       int
	Region         string
	Instance       InstanceInfo
}

type ConfigOption func(*Config)

func WithMaxUploadBytes(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadBytes = n
	}
}

func WithPageSize(n int) ConfigOption {
	return func(cfg *Config) {
		cfg.PageSize = n
	}
}

func WithRegion(region string) ConfigOption {
	return func(cfg *Config) {
		cfg.Region = region
	}
}

// WithInstanceInfo sets the source of the availability zone and region
// reported by GET /. Without it a StaticInstanceInfo for Region is used.
func WithInstanceInfo(info InstanceInfo) ConfigOption {
	return func(cfg *Config) {
		cfg.Instance = info
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		MaxUploadBytes: DefaultMaxUploadBytes,
		PageSize:       DefaultPageSize,
		Region:         DefaultRegion,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Instance == nil {
		cfg.Instance = StaticInstanceInfo{Region: cfg.Region}
	}
	return cfg
}
