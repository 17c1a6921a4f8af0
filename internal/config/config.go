package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig  `mapstructure:"paths"`
	Server   ServerConfig `mapstructure:"server"`
	Engine   EngineConfig `mapstructure:"engine"`
	Audio    AudioConfig  `mapstructure:"audio"`
	LogLevel string       `mapstructure:"log_level"`
}

type PathsConfig struct {
	SamplesDir string `mapstructure:"samples_dir"`
	OutputDir  string `mapstructure:"output_dir"`
	// KeepOutputs bounds how many generated files stay in OutputDir.
	// Zero disables writing them.
	KeepOutputs int `mapstructure:"keep_outputs"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
}

type EngineConfig struct {
	Backend        string `mapstructure:"backend"`
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout"`
	CLIPath        string `mapstructure:"cli_path"`
	CLIConfigPath  string `mapstructure:"cli_config_path"`
	Quiet          bool   `mapstructure:"quiet"`
	Language       string `mapstructure:"language"`
}

// Timeout returns the per-call engine deadline; zero disables it.
func (e EngineConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type AudioConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			SamplesDir:  "/data/samples",
			OutputDir:   "/data/generated_audio",
			KeepOutputs: 16,
		},
		Server: ServerConfig{
			ListenAddr:      ":6004",
			Workers:         2,
			RequestTimeout:  300,
			ShutdownTimeout: 30,
			MaxUploadBytes:  32 << 20,
			MaxTextBytes:    4096,
		},
		Engine: EngineConfig{
			Backend:        BackendHTTP,
			URL:            "http://127.0.0.1:7000",
			TimeoutSeconds: 300,
			CLIPath:        "",
			CLIConfigPath:  "",
			Quiet:          true,
			Language:       "en-us",
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
		},
		LogLevel: "info",
	}
}

// flagKeys maps each command-line flag to its configuration key.
var flagKeys = []struct{ flag, key string }{
	{"paths-samples-dir", "paths.samples_dir"},
	{"paths-output-dir", "paths.output_dir"},
	{"keep-outputs", "paths.keep_outputs"},
	{"server-listen-addr", "server.listen_addr"},
	{"workers", "server.workers"},
	{"request-timeout", "server.request_timeout"},
	{"shutdown-timeout", "server.shutdown_timeout"},
	{"max-upload-bytes", "server.max_upload_bytes"},
	{"max-text-bytes", "server.max_text_bytes"},
	{"backend", "engine.backend"},
	{"engine-url", "engine.url"},
	{"engine-timeout", "engine.timeout"},
	{"engine-cli-path", "engine.cli_path"},
	{"engine-cli-config-path", "engine.cli_config_path"},
	{"engine-quiet", "engine.quiet"},
	{"language", "engine.language"},
	{"ffmpeg-path", "audio.ffmpeg_path"},
	{"log-level", "log_level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-samples-dir", defaults.Paths.SamplesDir, "Directory holding named voice samples")
	fs.String("paths-output-dir", defaults.Paths.OutputDir, "Directory for generated audio")
	fs.Int("keep-outputs", defaults.Paths.KeepOutputs, "Generated files kept in the output directory (0 keeps none)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent synthesis requests")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request deadline in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Int64("max-upload-bytes", defaults.Server.MaxUploadBytes, "Maximum accepted upload size in bytes")
	fs.Int("max-text-bytes", defaults.Server.MaxTextBytes, "Maximum text length in bytes")
	fs.String("backend", defaults.Engine.Backend, "Synthesis engine backend (http|cli)")
	fs.String("engine-url", defaults.Engine.URL, "Base URL of the inference sidecar (http backend)")
	fs.Int("engine-timeout", defaults.Engine.TimeoutSeconds, "Per-call engine timeout in seconds")
	fs.String("engine-cli-path", defaults.Engine.CLIPath, "Path to pocket-tts executable (cli backend)")
	fs.String("engine-cli-config-path", defaults.Engine.CLIConfigPath, "Path to pocket-tts config file (cli backend)")
	fs.Bool("engine-quiet", defaults.Engine.Quiet, "Pass --quiet to pocket-tts")
	fs.String("language", defaults.Engine.Language, "Language code for conditioning")
	fs.String("ffmpeg-path", defaults.Audio.FFmpegPath, "Path to ffmpeg used for compressed uploads")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("VOICETTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("voicetts")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if _, err := NormalizeBackend(c.Engine.Backend); err != nil {
		return err
	}
	if c.Paths.SamplesDir == "" {
		return errors.New("paths.samples_dir must not be empty")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must not be empty")
	}
	if c.Paths.KeepOutputs < 0 {
		return fmt.Errorf("paths.keep_outputs must be >= 0, got %d", c.Paths.KeepOutputs)
	}
	if c.Server.Workers < 0 {
		return fmt.Errorf("server.workers must be >= 0, got %d", c.Server.Workers)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0, got %d", c.Server.MaxUploadBytes)
	}
	if c.Server.MaxTextBytes <= 0 {
		return fmt.Errorf("server.max_text_bytes must be > 0, got %d", c.Server.MaxTextBytes)
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.samples_dir", c.Paths.SamplesDir)
	v.SetDefault("paths.output_dir", c.Paths.OutputDir)
	v.SetDefault("paths.keep_outputs", c.Paths.KeepOutputs)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_upload_bytes", c.Server.MaxUploadBytes)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("engine.backend", c.Engine.Backend)
	v.SetDefault("engine.url", c.Engine.URL)
	v.SetDefault("engine.timeout", c.Engine.TimeoutSeconds)
	v.SetDefault("engine.cli_path", c.Engine.CLIPath)
	v.SetDefault("engine.cli_config_path", c.Engine.CLIConfigPath)
	v.SetDefault("engine.quiet", c.Engine.Quiet)
	v.SetDefault("engine.language", c.Engine.Language)
	v.SetDefault("audio.ffmpeg_path", c.Audio.FFmpegPath)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds every registered flag to its nested key, so flag values,
// env vars and config file entries all address the same setting.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", fk.flag, err)
		}
	}
	return nil
}
