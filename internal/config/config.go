package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"lendsure/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Server       ServerConfig       `mapstructure:"server"`
	Chain        ChainConfig        `mapstructure:"chain"`
	Consensus    ConsensusConfig    `mapstructure:"consensus"`
	Underwriting UnderwritingConfig `mapstructure:"underwriting"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata and protocol administration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Admin       string `mapstructure:"admin"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN keeps
// the node on the in-memory backend.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ServerConfig governs the HTTP API.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ChainConfig covers block height sourcing. With an RPC URL the height comes
// from an Ethereum node; otherwise it is derived from genesis_unix and
// block_interval.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BlockInterval  time.Duration `mapstructure:"block_interval"`
	GenesisUnix    int64         `mapstructure:"genesis_unix"`
}

// ConsensusConfig tunes appraisal finalization.
type ConsensusConfig struct {
	Quorum             int    `mapstructure:"quorum"`
	AppraisalTTLBlocks uint64 `mapstructure:"appraisal_ttl_blocks"`
}

// UnderwritingConfig bounds loan terms.
type UnderwritingConfig struct {
	MinDurationBlocks uint64 `mapstructure:"min_duration_blocks"`
	MaxDurationBlocks uint64 `mapstructure:"max_duration_blocks"`
	BlocksPerYear     uint64 `mapstructure:"blocks_per_year"`
}

// MonitorConfig governs the claim monitor cadence.
type MonitorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines alert routing for triggered claims.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LENDSURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lendsure")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.block_interval", "10m")

	v.SetDefault("consensus.quorum", 3)
	v.SetDefault("consensus.appraisal_ttl_blocks", uint64(1008))

	v.SetDefault("underwriting.min_duration_blocks", uint64(144))
	v.SetDefault("underwriting.max_duration_blocks", uint64(52560))
	v.SetDefault("underwriting.blocks_per_year", uint64(52560))

	v.SetDefault("monitor.interval", "5m")
	v.SetDefault("monitor.align_to_interval", true)
	v.SetDefault("monitor.advisory_lock_key", int64(0x6c656e64))
	v.SetDefault("monitor.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.App.Admin != "" && !common.IsHexAddress(c.App.Admin) {
		return fmt.Errorf("app.admin must be a hex address")
	}
	if c.Consensus.Quorum <= 0 {
		return fmt.Errorf("consensus.quorum must be greater than zero")
	}
	if c.Underwriting.MinDurationBlocks == 0 ||
		c.Underwriting.MinDurationBlocks > c.Underwriting.MaxDurationBlocks {
		return fmt.Errorf("underwriting duration bounds are inconsistent")
	}
	if c.Underwriting.BlocksPerYear == 0 {
		return fmt.Errorf("underwriting.blocks_per_year must be greater than zero")
	}
	if c.Chain.BlockInterval <= 0 {
		return fmt.Errorf("chain.block_interval must be greater than zero")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// AdminAddress parses the configured protocol administrator.
func (c *Config) AdminAddress() common.Address {
	return common.HexToAddress(c.App.Admin)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
