// Package config loads flinsend settings from defaults, an optional config
// file, FLINSEND_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/skshohagmiah/flinsend/pkg/client"
	"github.com/skshohagmiah/flinsend/pkg/protocol"
)

const (
	EnvPrefix      = "FLINSEND"
	configFileName = "flinsend"
)

// Config is the full client configuration
type Config struct {
	Endpoint EndpointConfig `mapstructure:"endpoint"`
	Encoding EncodingConfig `mapstructure:"encoding"`
	Request  RequestConfig  `mapstructure:"request"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Log      LogConfig      `mapstructure:"log"`

	// File is the config file that was read, if any
	File string `mapstructure:"-"`
}

type EndpointConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

type EncodingConfig struct {
	Format string `mapstructure:"format"`
	Schema string `mapstructure:"schema"`
	Mode   string `mapstructure:"mode"`
}

type RequestConfig struct {
	Operation string `mapstructure:"operation"`
	Key       string `mapstructure:"key"`
	Value     string `mapstructure:"value"`
	File      string `mapstructure:"file"`
}

type TimeoutConfig struct {
	Dial  time.Duration `mapstructure:"dial"`
	Write time.Duration `mapstructure:"write"`
}

type JournalConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// binding ties a config key to its flag and environment variable
type binding struct {
	key   string
	flag  string
	usage string
	def   any
}

var bindings = []binding{
	{"endpoint.host", "host", "server host", "127.0.0.1"},
	{"endpoint.port", "port", "server port or service name", "7000"},
	{"encoding.format", "encoding", "request encoding: flatbuffers, json or binary", string(protocol.EncodingFlatBuffers)},
	{"encoding.schema", "schema", "FlatBuffers schema file", "./resources/request.fbs"},
	{"encoding.mode", "mode", "frame mode: full or size-only", protocol.FrameFull.String()},
	{"request.operation", "operation", "request operation", "set"},
	{"request.key", "key", "request key", "k3"},
	{"request.value", "value", "request value", "v3"},
	{"request.file", "request-file", "YAML or JSON request document; overrides --operation/--key/--value", ""},
	{"timeouts.dial", "dial-timeout", "connect timeout", 5 * time.Second},
	{"timeouts.write", "write-timeout", "write timeout", 10 * time.Second},
	{"journal.path", "journal", "record sends in a journal at this directory", ""},
	{"journal.retention", "journal-retention", "expire journal entries after this long (0 keeps them)", time.Duration(0)},
	{"log.level", "log-level", "log level", "info"},
	{"log.format", "log-format", "log format: console or json", "console"},
}

// RegisterFlags defines every configuration flag on fs, plus --config
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default ./flinsend.{yaml,toml,json} when present)")
	for _, b := range bindings {
		switch def := b.def.(type) {
		case string:
			fs.String(b.flag, def, b.usage)
		case time.Duration:
			fs.Duration(b.flag, def, b.usage)
		}
	}
}

// EnvName returns the environment variable that overrides a flag
func EnvName(flag string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// Load resolves the configuration. fs may be nil, in which case only
// defaults, the config file and the environment are consulted.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, EnvName(b.flag)); err != nil {
			return nil, err
		}
		if fs == nil {
			continue
		}
		if f := fs.Lookup(b.flag); f != nil {
			if err := v.BindPFlag(b.key, f); err != nil {
				return nil, err
			}
		}
	}

	file, err := readConfigFile(v, fs)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = file
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) (string, error) {
	explicit := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("failed to read config %s: %w", explicit, err)
		}
		return v.ConfigFileUsed(), nil
	}

	v.SetConfigName(configFileName)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Validate rejects settings the client cannot run with
func (c *Config) Validate() error {
	if c.Endpoint.Host == "" {
		return errors.New("host is required")
	}
	if c.Endpoint.Port == "" {
		return errors.New("port is required")
	}
	enc, err := protocol.ParseEncoding(c.Encoding.Format)
	if err != nil {
		return err
	}
	if enc == protocol.EncodingFlatBuffers && c.Encoding.Schema == "" {
		return errors.New("schema is required for flatbuffers encoding")
	}
	if _, err := protocol.ParseFrameMode(c.Encoding.Mode); err != nil {
		return err
	}
	if c.Timeouts.Dial <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %s", c.Timeouts.Dial)
	}
	if c.Timeouts.Write <= 0 {
		return fmt.Errorf("write timeout must be positive, got %s", c.Timeouts.Write)
	}
	if c.Journal.Retention < 0 {
		return fmt.Errorf("journal retention cannot be negative, got %s", c.Journal.Retention)
	}
	return nil
}

// Client converts the endpoint, mode and timeouts to a client config.
// Call Validate first.
func (c *Config) Client() client.Config {
	mode, _ := protocol.ParseFrameMode(c.Encoding.Mode)
	return client.Config{
		Host:         c.Endpoint.Host,
		Port:         c.Endpoint.Port,
		DialTimeout:  c.Timeouts.Dial,
		WriteTimeout: c.Timeouts.Write,
		Mode:         mode,
	}
}

// BuildRequest returns the request to send: the request file when one is set,
// otherwise the operation, key and value settings
func (c *Config) BuildRequest() (protocol.Request, error) {
	if c.Request.File != "" {
		return protocol.LoadRequest(c.Request.File)
	}
	req := protocol.Request{
		Operation: c.Request.Operation,
		Key:       c.Request.Key,
		Value:     c.Request.Value,
	}
	return req, req.Validate()
}
