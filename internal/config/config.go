package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"DipRecovery/internal/calculator"
	"DipRecovery/internal/model"
)

// Data source kinds.
const (
	SourceCSV   = "csv"
	SourceYahoo = "yahoo"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Addr         string        `yaml:"addr" validate:"required"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`
	Data struct {
		Source        string   `yaml:"source" validate:"oneof=csv yahoo"`
		Dir           string   `yaml:"dir"`
		StocksFile    string   `yaml:"stocks_file" validate:"required"`
		CompaniesFile string   `yaml:"companies_file"`
		IndexFile     string   `yaml:"index_file"`
		YahooSymbols  []string `yaml:"yahoo_symbols"`
		YahooRange    string   `yaml:"yahoo_range"`
		YahooBaseURL  string   `yaml:"yahoo_base_url" validate:"url"`
	} `yaml:"data"`
	Analysis struct {
		DefaultThreshold float64               `yaml:"default_threshold" validate:"gte=-100,lte=0"`
		RecoveryTargets  []int                 `yaml:"recovery_targets" validate:"min=1,dive,gt=0"`
		SuccessWindows   []model.SuccessWindow `yaml:"success_windows" validate:"dive"`
		DigestSize       int                   `yaml:"digest_size" validate:"gte=0"`
	} `yaml:"analysis"`
	Schedule struct {
		ReloadCron string `yaml:"reload_cron" validate:"required"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("DATA_SOURCE"); v != "" {
		c.Data.Source = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("CRON_RELOAD"); v != "" {
		c.Schedule.ReloadCron = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DEFAULT_THRESHOLD"); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse DEFAULT_THRESHOLD: %w", err)
		}
		c.Analysis.DefaultThreshold = th
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Data.Source == "" {
		c.Data.Source = SourceCSV
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "data"
	}
	if c.Data.StocksFile == "" {
		c.Data.StocksFile = "sp500_stocks.csv"
	}
	if c.Data.CompaniesFile == "" {
		c.Data.CompaniesFile = "sp500_companies.csv"
	}
	if c.Data.IndexFile == "" {
		c.Data.IndexFile = "sp500_index.csv"
	}
	if c.Data.YahooRange == "" {
		c.Data.YahooRange = "10y"
	}
	if c.Data.YahooBaseURL == "" {
		c.Data.YahooBaseURL = "https://query1.finance.yahoo.com"
	}
	if c.Analysis.DefaultThreshold == 0 {
		c.Analysis.DefaultThreshold = calculator.DefaultDeclineThreshold
	}
	if len(c.Analysis.RecoveryTargets) == 0 {
		c.Analysis.RecoveryTargets = slices.Clone(calculator.DefaultRecoveryTargets)
	}
	if c.Analysis.SuccessWindows == nil {
		c.Analysis.SuccessWindows = slices.Clone(calculator.DefaultSuccessWindows)
	}
	if c.Analysis.DigestSize == 0 {
		c.Analysis.DigestSize = 10
	}
	if c.Schedule.ReloadCron == "" {
		c.Schedule.ReloadCron = "0 30 6 * * 2-6"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/dip_recovery.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects values the analysis cannot run with. Field constraints
// come from the validate tags; cross-field rules are checked here.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Data.Source == SourceYahoo && len(c.YahooSymbolList()) == 0 {
		return fmt.Errorf("data.yahoo_symbols is required for the yahoo source")
	}
	for _, w := range c.Analysis.SuccessWindows {
		if !slices.Contains(c.Analysis.RecoveryTargets, w.TargetPct) {
			return fmt.Errorf("analysis.success_windows: target %d%% is not a recovery target", w.TargetPct)
		}
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// TelegramEnabled reports whether both bot token and chat id are set.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// DataPath resolves a data file name against Data.Dir.
func (c *Config) DataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Data.Dir, name)
}

// YahooSymbolList returns the configured Yahoo tickers, upper-cased and de-duplicated.
func (c *Config) YahooSymbolList() []string {
	var out []string
	for _, s := range c.Data.YahooSymbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
