package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Inbound   InboundConfig   `yaml:"inbound" mapstructure:"inbound"`
	Claims    ClaimsConfig    `yaml:"claims" mapstructure:"claims"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	Archive   ArchiveConfig   `yaml:"archive" mapstructure:"archive"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Policy    PolicyConfig    `yaml:"policy" mapstructure:"policy"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings for document extraction.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// InboundConfig configures where scanned documents arrive.
type InboundConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"` // "dir" or "ftp"
	Dir  string `yaml:"dir" mapstructure:"dir"`

	FTPHost     string `yaml:"ftp_host" mapstructure:"ftp_host"`
	FTPPath     string `yaml:"ftp_path" mapstructure:"ftp_path"`
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// ClaimsConfig holds the claims backend settings. Backend "http" talks
// to the claims REST API; "salesforce" inserts Claim__c records via JWT
// auth.
type ClaimsConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`

	SFClientID string `yaml:"sf_client_id" mapstructure:"sf_client_id"`
	SFUsername string `yaml:"sf_username" mapstructure:"sf_username"`
	SFKeyPath  string `yaml:"sf_key_path" mapstructure:"sf_key_path"`
	SFLoginURL string `yaml:"sf_login_url" mapstructure:"sf_login_url"`
}

// LedgerConfig configures the durable audit ledger.
type LedgerConfig struct {
	WorkbookPath       string `yaml:"workbook_path" mapstructure:"workbook_path"`
	ReplayIntervalSecs int    `yaml:"replay_interval_secs" mapstructure:"replay_interval_secs"`
	ReplayBatch        int    `yaml:"replay_batch" mapstructure:"replay_batch"`
}

// ArchiveConfig configures object storage for source documents.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// NotionConfig holds Notion API credentials and the exception review
// board database ID.
type NotionConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	ExceptionDB string `yaml:"exception_db" mapstructure:"exception_db"`
}

// PolicyConfig points at the optional operator override file.
type PolicyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLAIMFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "claimflow.db")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("claims.backend", "http")
	v.SetDefault("claims.sf_login_url", "https://login.salesforce.com")
	v.SetDefault("inbound.mode", "dir")
	v.SetDefault("inbound.dir", "inbox")
	v.SetDefault("inbound.ftp_path", "/")
	v.SetDefault("ledger.workbook_path", "ledger.xlsx")
	v.SetDefault("ledger.replay_interval_secs", 15)
	v.SetDefault("ledger.replay_batch", 100)
	v.SetDefault("archive.bucket", "claim-documents")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required for the given run mode are
// present. Modes: "pipeline" (full processing loop), "serve" (HTTP API),
// "run" (single document).
func (c *Config) Validate(mode string) error {
	var missing []string

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				missing = append(missing, "store.sqlite_path is required for the sqlite driver")
			}
		default:
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
	}

	switch mode {
	case "pipeline", "run":
		checkStore()
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		switch c.Claims.Backend {
		case "http":
			if c.Claims.BaseURL == "" {
				missing = append(missing, "claims.base_url is required for the http backend")
			}
		case "salesforce":
			if c.Claims.SFClientID == "" || c.Claims.SFUsername == "" || c.Claims.SFKeyPath == "" {
				missing = append(missing, "claims.sf_client_id, claims.sf_username, and claims.sf_key_path are required for the salesforce backend")
			}
		default:
			missing = append(missing, "claims.backend must be http or salesforce")
		}
		if mode == "pipeline" {
			switch c.Inbound.Mode {
			case "dir":
				if c.Inbound.Dir == "" {
					missing = append(missing, "inbound.dir is required for dir mode")
				}
			case "ftp":
				if c.Inbound.FTPHost == "" {
					missing = append(missing, "inbound.ftp_host is required for ftp mode")
				}
			default:
				missing = append(missing, "inbound.mode must be dir or ftp")
			}
		}
	case "serve":
		checkStore()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Archive.Enabled && c.Archive.Endpoint == "" {
		missing = append(missing, "archive.endpoint is required when archive is enabled")
	}
	if c.Notion.Token != "" && c.Notion.ExceptionDB == "" {
		missing = append(missing, "notion.exception_db is required when notion.token is set")
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
