package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	BlobDriverS3    = "s3"
	BlobDriverLocal = "local"

	RecordDriverSQLite = "sqlite"
	RecordDriverMemory = "memory"
)

type Blobs struct {
	Driver       string `yaml:"driver"`
	Bucket       string `yaml:"bucket"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Secure       bool   `yaml:"secure"`
	PathStyle    bool   `yaml:"path_style"`
	CreateBucket bool   `yaml:"create_bucket"`
	Directory    string `yaml:"directory"`
}

type Records struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// File is the on-disk configuration of the pixvault server.
type File struct {
	Listen         string  `yaml:"listen"`
	LogLevel       string  `yaml:"log_level"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
	PageSize       int     `yaml:"page_size"`
	Blobs          Blobs   `yaml:"blobs"`
	Records        Records `yaml:"records"`
}

// Default returns a configuration that runs entirely on the local machine.
func Default() *File {
	return &File{
		Listen:         ":8000",
		LogLevel:       "info",
		MaxUploadBytes: 10 << 20,
		PageSize:       50,
		Blobs: Blobs{
			Driver:    BlobDriverLocal,
			Region:    "us-east-1",
			Secure:    true,
			Directory: "data/assets",
		},
		Records: Records{
			Driver: RecordDriverSQLite,
			Path:   "data/metadata.sqlite",
		},
	}
}

// Load reads the YAML file at path on top of Default. An empty path yields
// the defaults.
func Load(path string) (*File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides settings from the environment using lookup, usually
// os.LookupEnv. Setting AWS_S3_BUCKET switches the blob driver to s3.
func (c *File) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("AWS_S3_BUCKET"); ok && v != "" {
		c.Blobs.Driver = BlobDriverS3
		c.Blobs.Bucket = v
	}
	if v, ok := lookup("AWS_REGION"); ok && v != "" {
		c.Blobs.Region = v
	}
	if v, ok := lookup("S3_ENDPOINT"); ok && v != "" {
		c.Blobs.Endpoint = v
	}
	if v, ok := lookup("AWS_ACCESS_KEY_ID"); ok {
		c.Blobs.AccessKey = v
	}
	if v, ok := lookup("AWS_SECRET_ACCESS_KEY"); ok {
		c.Blobs.SecretKey = v
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		c.Records.Driver = RecordDriverSQLite
		c.Records.Path = v
	}
	if v, ok := lookup("PIXVAULT_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup("PIXVAULT_MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid PIXVAULT_MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

// Validate checks the configuration for settings the server cannot run with.
func (c *File) Validate() error {
	var errs []error

	switch c.Blobs.Driver {
	case BlobDriverS3:
		if c.Blobs.Bucket == "" {
			errs = append(errs, errors.New("blobs.bucket is required for the s3 driver"))
		}
	case BlobDriverLocal:
		if c.Blobs.Directory == "" {
			errs = append(errs, errors.New("blobs.directory is required for the local driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blobs.Driver))
	}

	switch c.Records.Driver {
	case RecordDriverSQLite:
		if c.Records.Path == "" {
			errs = append(errs, errors.New("records.path is required for the sqlite driver"))
		}
	case RecordDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown record driver %q", c.Records.Driver))
	}

	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}

	return errors.Join(errs...)
}
