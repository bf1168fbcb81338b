package app

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

type HeaderConfig struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type CategoryConfig struct {
	Course string `toml:"course"`
	Item   string `toml:"item"`
}

type Config struct {
	Server struct {
		Port       string `toml:"port"`
		EnableAuth bool   `toml:"enable_auth"`
	} `toml:"server"`

	Auth struct {
		RedisURL         string `toml:"redis_url"`
		TokenHeader      string `toml:"token_header"`
		TokenKeyTemplate string `toml:"token_key_template"`
	} `toml:"auth"`

	API struct {
		ScorerIDHeader  string         `toml:"scorer_id_header"`
		RequiredHeaders []HeaderConfig `toml:"required_headers"`
	} `toml:"api"`

	Database struct {
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Grading struct {
		LeaseDurationMinutes int `toml:"lease_duration_minutes"`
	} `toml:"grading"`

	Notify struct {
		Enabled  bool   `toml:"enabled"`
		RedisURL string `toml:"redis_url"`
		Stream   string `toml:"stream"`
	} `toml:"notify"`

	Export struct {
		IntervalMinutes int              `toml:"interval_minutes"`
		Categories      []CategoryConfig `toml:"categories"`
	} `toml:"export"`
}

func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Grading.LeaseDurationMinutes) * time.Minute
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("Server port is not specified in config, use a value like :9999")
	}

	logger.Debug.Printf("Loaded grading config: %+v", config.Grading)

	return &config, nil
}
