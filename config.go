package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"table-monitor/internal/processor"
	"table-monitor/internal/source"
)

var (
	ErrMissingTables      = errors.New("please specify at least one table to monitor")
	ErrMissingSourceType  = errors.New("source type is required")
	ErrMissingCredentials = errors.New("source credentials are required")
)

type Config struct {
	Monitor   MonitorConfig    `yaml:"monitor"`
	Source    SourceConfig     `yaml:"source"`
	NATS      NATSConfig       `yaml:"nats"`
	Processor processor.Config `yaml:"processor"`
	Binlog    BinlogConfig     `yaml:"binlog"`
	Status    StatusConfig     `yaml:"status"`
	Logging   LoggingConfig    `yaml:"logging"`
}

type MonitorConfig struct {
	Tables        []string      `yaml:"tables"`
	Interval      time.Duration `yaml:"interval"`
	TableInterval time.Duration `yaml:"table_interval"` // Pause between two tables of one cycle
	MaxInterval   time.Duration `yaml:"max_interval"`   // Backoff ceiling when every table fails
	LegacyEvents  bool          `yaml:"legacy_events"`
}

type SourceConfig struct {
	Type     string         `yaml:"type"` // mysql, postgres, sqlite, airtable
	DSN      string         `yaml:"dsn"`
	IDColumn string         `yaml:"id_column"`
	Airtable AirtableConfig `yaml:"airtable"`
}

type AirtableConfig struct {
	BaseID   string        `yaml:"base_id"`
	APIKey   string        `yaml:"api_key"`
	Endpoint string        `yaml:"endpoint"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type BinlogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"` // mysql, mariadb
}

type StatusConfig struct {
	Listen string `yaml:"listen"` // Empty disables the status server
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and validates the result
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 60 * time.Second
	}
	if c.Source.IDColumn == "" {
		c.Source.IDColumn = "id"
	}
	c.Source.Type = strings.ToLower(c.Source.Type)
	if c.Source.Airtable.Endpoint == "" {
		c.Source.Airtable.Endpoint = source.DefaultAirtableEndpoint
	}
	if c.Source.Airtable.PageSize == 0 {
		c.Source.Airtable.PageSize = source.DefaultAirtablePageSize
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "table-monitor"
	}
	if c.Binlog.Flavor == "" {
		c.Binlog.Flavor = "mysql"
	}
	if c.Binlog.Port == 0 {
		c.Binlog.Port = 3306
	}
}

// Validate checks that the configuration can start a monitor
func (c *Config) Validate() error {
	if len(c.Monitor.Tables) == 0 {
		return ErrMissingTables
	}
	for i, t := range c.Monitor.Tables {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("monitor table %d: name is empty", i)
		}
	}
	if c.Monitor.Interval < 0 || c.Monitor.TableInterval < 0 || c.Monitor.MaxInterval < 0 {
		return fmt.Errorf("monitor intervals must not be negative")
	}

	switch c.Source.Type {
	case "":
		return ErrMissingSourceType
	case source.TypeMySQL, source.TypePostgres, source.TypeSQLite:
		if c.Source.DSN == "" {
			return fmt.Errorf("%w: dsn is required for %s sources", ErrMissingCredentials, c.Source.Type)
		}
	case source.TypeAirtable:
		if c.Source.Airtable.BaseID == "" || c.Source.Airtable.APIKey == "" {
			return fmt.Errorf("%w: airtable base_id and api_key are required", ErrMissingCredentials)
		}
	default:
		return fmt.Errorf("unsupported source type: %q", c.Source.Type)
	}

	if c.Binlog.Enabled {
		if c.Source.Type != source.TypeMySQL {
			return fmt.Errorf("binlog watching requires a mysql source, got %s", c.Source.Type)
		}
		if c.Binlog.Host == "" || c.Binlog.User == "" {
			return fmt.Errorf("%w: binlog host and user are required", ErrMissingCredentials)
		}
		if c.Binlog.ServerID == 0 {
			return fmt.Errorf("binlog server_id must be set to a unique non-zero value")
		}
	}

	if err := processor.ValidateRules(&c.Processor); err != nil {
		return fmt.Errorf("invalid processor config: %w", err)
	}
	return nil
}

// SourceConfig converts the source section for source.New
func (c *Config) SourceConfig() source.Config {
	return source.Config{
		Type:     c.Source.Type,
		DSN:      c.Source.DSN,
		IDColumn: c.Source.IDColumn,
		Airtable: source.AirtableConfig{
			BaseID:   c.Source.Airtable.BaseID,
			APIKey:   c.Source.Airtable.APIKey,
			Endpoint: c.Source.Airtable.Endpoint,
			PageSize: c.Source.Airtable.PageSize,
			Timeout:  c.Source.Airtable.Timeout,
		},
	}
}
