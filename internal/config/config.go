package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
}

// LogConfig log configuration
type LogConfig struct {
	Level       string        `yaml:"level" mapstructure:"level"`
	FileLogging FileLogConfig `yaml:"file_logging" mapstructure:"file_logging"`
}

// FileLogConfig file log configuration
type FileLogConfig struct {
	Enable     bool   `yaml:"enable" mapstructure:"enable"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// InputConfig describes the log files to load
type InputConfig struct {
	// Format selects the log file loader, e.g. "replayer-triples"
	Format string   `yaml:"format" mapstructure:"format"`
	Files  []string `yaml:"files" mapstructure:"files"`
}

// OutputConfig controls CLI output style
type OutputConfig struct {
	Mode    string `yaml:"mode" mapstructure:"mode"`
	Silence bool   `yaml:"silence" mapstructure:"silence"`
	// Skipped prints every skipped line in the load summary
	Skipped  bool           `yaml:"skipped" mapstructure:"skipped"`
	BodyView BodyViewConfig `yaml:"body_view" mapstructure:"body_view"`
}

// BodyViewConfig controls how response bodies are formatted on the console.
// When disabled only the first line of each body is shown.
type BodyViewConfig struct {
	Enable          bool           `yaml:"enable" mapstructure:"enable"`
	MaxPreviewBytes int            `yaml:"max_preview_bytes" mapstructure:"max_preview_bytes"`
	Json            JSONViewConfig `yaml:"json" mapstructure:"json"`
	Form            FormViewConfig `yaml:"form" mapstructure:"form"`
	XML             XMLViewConfig  `yaml:"xml" mapstructure:"xml"`
	HTML            HTMLViewConfig `yaml:"html" mapstructure:"html"`
}

// JSONViewConfig JSON body display options
type JSONViewConfig struct {
	Enable         bool `yaml:"enable" mapstructure:"enable"`
	Pretty         bool `yaml:"pretty" mapstructure:"pretty"`
	MaxIndentBytes int  `yaml:"max_indent_bytes" mapstructure:"max_indent_bytes"`
}

// FormViewConfig form body display options
type FormViewConfig struct {
	Enable bool `yaml:"enable" mapstructure:"enable"`
}

// XMLViewConfig XML body display options
type XMLViewConfig struct {
	Enable       bool `yaml:"enable" mapstructure:"enable"`
	Pretty       bool `yaml:"pretty" mapstructure:"pretty"`
	StripControl bool `yaml:"strip_control" mapstructure:"strip_control"`
}

// HTMLViewConfig HTML body display options
type HTMLViewConfig struct {
	Enable       bool `yaml:"enable" mapstructure:"enable"`
	Pretty       bool `yaml:"pretty" mapstructure:"pretty"`
	StripControl bool `yaml:"strip_control" mapstructure:"strip_control"`
}

// StorageConfig controls persistence of loaded triples
type StorageConfig struct {
	Enable     bool   `yaml:"enable" mapstructure:"enable"`
	Driver     string `yaml:"driver" mapstructure:"driver"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxRecords int    `yaml:"max_records" mapstructure:"max_records"`
}

// ServerConfig controls the HTTP API used to browse stored triples
type ServerConfig struct {
	Port    int    `yaml:"port" mapstructure:"port"`
	APIPath string `yaml:"api_path" mapstructure:"api_path"`
	// MaxListLimit caps the page size of list requests
	MaxListLimit  int      `yaml:"max_list_limit" mapstructure:"max_list_limit"`
	ExportFormats []string `yaml:"export_formats" mapstructure:"export_formats"`
}

// LoadConfig load configuration
// If v is nil, a new viper instance will be created
func LoadConfig(configPath string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)

	v.SetEnvPrefix("TRAFFICCMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.trafficcmp")
		v.AddConfigPath("/etc/trafficcmp")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Printf("Config file loaded: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Unmarshal doesn't apply defaults to zero-value fields
	applyDefaults(&config, v)

	return &config, nil
}

// applyDefaults apply default values to zero-value fields in the struct.
// Command line flags are handled in main.go so they keep the highest priority.
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = v.GetString("log.level")
	}
	// Viper.GetBool returns the config file value if set, otherwise the default
	cfg.Log.FileLogging.Enable = v.GetBool("log.file_logging.enable")
	cfg.Log.FileLogging.Compress = v.GetBool("log.file_logging.compress")
	if cfg.Log.FileLogging.Path == "" {
		cfg.Log.FileLogging.Path = v.GetString("log.file_logging.path")
	}
	if cfg.Log.FileLogging.MaxSizeMB == 0 {
		cfg.Log.FileLogging.MaxSizeMB = v.GetInt("log.file_logging.max_size_mb")
	}
	if cfg.Log.FileLogging.MaxBackups == 0 {
		cfg.Log.FileLogging.MaxBackups = v.GetInt("log.file_logging.max_backups")
	}
	if cfg.Log.FileLogging.MaxAgeDays == 0 {
		cfg.Log.FileLogging.MaxAgeDays = v.GetInt("log.file_logging.max_age_days")
	}

	if cfg.Input.Format == "" {
		cfg.Input.Format = v.GetString("input.format")
	}
	cfg.Input.Format = strings.ToLower(strings.TrimSpace(cfg.Input.Format))

	if cfg.Output.Mode == "" {
		cfg.Output.Mode = v.GetString("output.mode")
	}
	cfg.Output.Silence = v.GetBool("output.silence")
	cfg.Output.Skipped = v.GetBool("output.skipped")
	cfg.Output.BodyView.Enable = v.GetBool("output.body_view.enable")
	if cfg.Output.BodyView.MaxPreviewBytes == 0 {
		cfg.Output.BodyView.MaxPreviewBytes = v.GetInt("output.body_view.max_preview_bytes")
	}
	cfg.Output.BodyView.Json.Enable = v.GetBool("output.body_view.json.enable")
	cfg.Output.BodyView.Json.Pretty = v.GetBool("output.body_view.json.pretty")
	if cfg.Output.BodyView.Json.MaxIndentBytes == 0 {
		cfg.Output.BodyView.Json.MaxIndentBytes = v.GetInt("output.body_view.json.max_indent_bytes")
	}
	cfg.Output.BodyView.Form.Enable = v.GetBool("output.body_view.form.enable")
	cfg.Output.BodyView.XML.Enable = v.GetBool("output.body_view.xml.enable")
	cfg.Output.BodyView.XML.Pretty = v.GetBool("output.body_view.xml.pretty")
	cfg.Output.BodyView.XML.StripControl = v.GetBool("output.body_view.xml.strip_control")
	cfg.Output.BodyView.HTML.Enable = v.GetBool("output.body_view.html.enable")
	cfg.Output.BodyView.HTML.Pretty = v.GetBool("output.body_view.html.pretty")
	cfg.Output.BodyView.HTML.StripControl = v.GetBool("output.body_view.html.strip_control")

	cfg.Storage.Enable = v.GetBool("storage.enable")
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = v.GetString("storage.driver")
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = v.GetString("storage.path")
	}
	if cfg.Storage.MaxRecords == 0 {
		cfg.Storage.MaxRecords = v.GetInt("storage.max_records")
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if cfg.Server.APIPath == "" {
		cfg.Server.APIPath = v.GetString("server.api_path")
	}
	if cfg.Server.MaxListLimit == 0 {
		cfg.Server.MaxListLimit = v.GetInt("server.max_list_limit")
	}
	if len(cfg.Server.ExportFormats) == 0 {
		cfg.Server.ExportFormats = v.GetStringSlice("server.export_formats")
	}
}

// setDefaults set default configuration values
func setDefaults(v *viper.Viper) {
	// Log configuration
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_logging.enable", false)
	v.SetDefault("log.file_logging.path", "./trafficcmp.log")
	v.SetDefault("log.file_logging.max_size_mb", 10)
	v.SetDefault("log.file_logging.max_backups", 5)
	v.SetDefault("log.file_logging.max_age_days", 30)
	v.SetDefault("log.file_logging.compress", true)

	// Input configuration
	v.SetDefault("input.format", "replayer-triples")
	v.SetDefault("input.files", []string{})

	// Output configuration
	v.SetDefault("output.mode", "console")
	v.SetDefault("output.silence", false)
	v.SetDefault("output.skipped", false)
	v.SetDefault("output.body_view.enable", false)
	v.SetDefault("output.body_view.max_preview_bytes", int(32*1024))
	v.SetDefault("output.body_view.json.enable", true)
	v.SetDefault("output.body_view.json.pretty", true)
	v.SetDefault("output.body_view.json.max_indent_bytes", int(128*1024))
	v.SetDefault("output.body_view.form.enable", true)
	v.SetDefault("output.body_view.xml.enable", true)
	v.SetDefault("output.body_view.xml.pretty", true)
	v.SetDefault("output.body_view.xml.strip_control", true)
	v.SetDefault("output.body_view.html.enable", true)
	v.SetDefault("output.body_view.html.pretty", false)
	v.SetDefault("output.body_view.html.strip_control", true)

	// Storage configuration
	v.SetDefault("storage.enable", false)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "./data/trafficcmp.db")
	v.SetDefault("storage.max_records", 0)

	// Server configuration
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.api_path", "/api")
	v.SetDefault("server.max_list_limit", 500)
	v.SetDefault("server.export_formats", []string{"json", "ndjson", "csv"})
}

// Validate validate configuration validity
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Log.FileLogging.Enable {
		if c.Log.FileLogging.Path == "" {
			return fmt.Errorf("log file path cannot be empty when file logging is enabled")
		}
		if c.Log.FileLogging.MaxSizeMB < 1 {
			return fmt.Errorf("log file max size must be at least 1MB")
		}
		if c.Log.FileLogging.MaxBackups < 0 {
			return fmt.Errorf("log file max backups cannot be negative")
		}
		if c.Log.FileLogging.MaxAgeDays < 0 {
			return fmt.Errorf("log file max age cannot be negative")
		}
	}

	if strings.TrimSpace(c.Input.Format) == "" {
		return fmt.Errorf("input format cannot be empty")
	}
	for i, f := range c.Input.Files {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("input file %d cannot be empty", i+1)
		}
	}

	switch strings.ToLower(c.Output.Mode) {
	case "", "console", "json":
		if c.Output.Mode == "" {
			c.Output.Mode = "console"
		}
	default:
		return fmt.Errorf("output mode must be 'console' or 'json'")
	}

	if err := validateBodyViewConfig(&c.Output.BodyView); err != nil {
		return err
	}

	if c.Storage.Enable {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "sqlite", "sqlite3":
			if strings.TrimSpace(c.Storage.Driver) == "" {
				c.Storage.Driver = "sqlite"
			}
		default:
			return fmt.Errorf("storage driver must be sqlite")
		}
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage path cannot be empty")
		}
	}
	if c.Storage.MaxRecords < 0 {
		return fmt.Errorf("storage max_records cannot be negative")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 0 and 65535")
	}
	if c.Server.APIPath != "" && !strings.HasPrefix(c.Server.APIPath, "/") {
		return fmt.Errorf("server api_path must start with /")
	}
	if c.Server.MaxListLimit < 0 {
		return fmt.Errorf("server max_list_limit cannot be negative")
	}

	return nil
}

func validateBodyViewConfig(cfg *BodyViewConfig) error {
	if cfg.MaxPreviewBytes < 0 {
		return fmt.Errorf("output.body_view.max_preview_bytes cannot be negative")
	}
	if cfg.Json.MaxIndentBytes < 0 {
		return fmt.Errorf("output.body_view.json.max_indent_bytes cannot be negative")
	}
	return nil
}
