// Package config provides the configuration structure for the media-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Defaults.
const (
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 5000
	DefaultReadTimeoutSeconds   = 900
	DefaultWriteTimeoutSeconds  = 1800
	DefaultMaxUploadBytes       = 512 << 20
	DefaultRetentionSeconds     = 300
	DefaultSweepIntervalSeconds = 60
	DefaultTranscoderBinary     = "ffmpeg"
	DefaultTranscoderTimeout    = 600
	DefaultGracePeriodSeconds   = 5
	DefaultCommandPolicy        = "strict"
	DefaultOutputExtension      = ".mp4"
	DefaultSynthesizerBackend   = "edge"
	DefaultSynthesizerBinary    = "edge-tts"
	DefaultVoice                = "en-US-EricNeural"
	DefaultRate                 = "+9%"
	DefaultPitch                = "-5Hz"
	DefaultSynthesizerTimeout   = 120
	DefaultTranscriberURL       = "https://api.openai.com/v1/audio/transcriptions"
	DefaultTranscriberAPIKeyEnv = "OPENAI_API_KEY"
	DefaultTranscriberModel     = "whisper-1"
	DefaultTranscriberTimeout   = 300
	DefaultTranscriberSlots     = 1
	DefaultTextProcessedSubject = "text.processed"
	DefaultTextBucket           = "TEXT_FILES"
	DefaultAudioBucket          = "AUDIO_FILES"
	defaultTempDirName          = "media-service"
	defaultLogsDirName          = "media-service-logs"
)

// Synthesizer backends.
const (
	BackendEdge = "edge"
	BackendHTTP = "http"
)

// DefaultAllowedExtensions are the video extensions transcode accepts.
var DefaultAllowedExtensions = []string{".mp4", ".mov", ".mkv", ".avi", ".webm", ".m4v", ".mpeg", ".mpg", ".flv", ".wmv"}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                 string `toml:"host"`
	Port                 int    `toml:"port"                   validate:"gte=1,lte=65535"`
	ReadTimeoutSeconds   int    `toml:"read_timeout_seconds"   validate:"gte=1"`
	WriteTimeoutSeconds  int    `toml:"write_timeout_seconds"  validate:"gte=1"`
	MaxUploadBytes       int64  `toml:"max_upload_bytes"       validate:"gte=1"`
	ReleaseAfterResponse bool   `toml:"release_after_response"`
	SweepAfterRequest    bool   `toml:"sweep_after_request"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	TempRoot    string `toml:"temp_root"`
}

// RetentionConfig controls how long outputs survive.
type RetentionConfig struct {
	WindowSeconds        int `toml:"window_seconds"         validate:"gte=1"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds" validate:"gte=1"`
	FailureTTLSeconds    int `toml:"failure_ttl_seconds"    validate:"gte=0"`
}

// TranscoderConfig configures the transcoding engine.
type TranscoderConfig struct {
	Binary             string   `toml:"binary"               validate:"required"`
	TimeoutSeconds     int      `toml:"timeout_seconds"      validate:"gte=1"`
	GracePeriodSeconds int      `toml:"grace_period_seconds" validate:"gte=0"`
	CommandPolicy      string   `toml:"command_policy"       validate:"oneof=strict shell"`
	AllowedExtensions  []string `toml:"allowed_extensions"   validate:"min=1,dive,required"`
	OutputExtension    string   `toml:"output_extension"     validate:"required"`
}

// SynthesizerConfig configures the speech synthesis engine.
type SynthesizerConfig struct {
	Backend        string `toml:"backend"         validate:"oneof=edge http"`
	Binary         string `toml:"binary"`
	Voice          string `toml:"voice"`
	Rate           string `toml:"rate"`
	Pitch          string `toml:"pitch"`
	ServiceURL     string `toml:"service_url"     validate:"required_if=Backend http,omitempty,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=1"`
}

// TranscriberConfig configures the Whisper transcription engine.
type TranscriberConfig struct {
	URL            string `toml:"url"             validate:"required,url"`
	APIKeyEnv      string `toml:"api_key_env"`
	Model          string `toml:"model"           validate:"required"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=1"`
	MaxConcurrent  int    `toml:"max_concurrent"  validate:"gte=1"`
}

// NATSConfig holds the configuration for the optional NATS intake. An empty
// URL disables it.
type NATSConfig struct {
	URL                    string `toml:"url"`
	TextProcessedSubject   string `toml:"text_processed_subject"    validate:"required_with=URL"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"  validate:"required_with=URL"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket" validate:"required_with=URL"`
}

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Paths       PathsConfig       `toml:"paths"`
	Retention   RetentionConfig   `toml:"retention"`
	Transcoder  TranscoderConfig  `toml:"transcoder"`
	Synthesizer SynthesizerConfig `toml:"synthesizer"`
	Transcriber TranscriberConfig `toml:"transcriber"`
	NATS        NATSConfig        `toml:"nats"`
}

// Load loads the configuration through the configurator, then applies
// defaults and validates it.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads a TOML file, then applies defaults and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return finalize(&cfg)
}

// Default returns a configuration made entirely of defaults.
func Default() *Config {
	var cfg Config

	cfg.ApplyDefaults()

	return &cfg
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.Host, DefaultHost)
	setInt(&c.Server.Port, DefaultPort)
	setInt(&c.Server.ReadTimeoutSeconds, DefaultReadTimeoutSeconds)
	setInt(&c.Server.WriteTimeoutSeconds, DefaultWriteTimeoutSeconds)

	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}

	setString(&c.Paths.TempRoot, filepath.Join(os.TempDir(), defaultTempDirName))
	setString(&c.Paths.BaseLogsDir, filepath.Join(os.TempDir(), defaultLogsDirName))

	setInt(&c.Retention.WindowSeconds, DefaultRetentionSeconds)
	setInt(&c.Retention.SweepIntervalSeconds, DefaultSweepIntervalSeconds)

	setString(&c.Transcoder.Binary, DefaultTranscoderBinary)
	setInt(&c.Transcoder.TimeoutSeconds, DefaultTranscoderTimeout)
	setInt(&c.Transcoder.GracePeriodSeconds, DefaultGracePeriodSeconds)
	setString(&c.Transcoder.CommandPolicy, DefaultCommandPolicy)
	setString(&c.Transcoder.OutputExtension, DefaultOutputExtension)

	if len(c.Transcoder.AllowedExtensions) == 0 {
		c.Transcoder.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	}

	c.Transcoder.CommandPolicy = strings.ToLower(c.Transcoder.CommandPolicy)

	setString(&c.Synthesizer.Backend, DefaultSynthesizerBackend)
	setString(&c.Synthesizer.Binary, DefaultSynthesizerBinary)
	setString(&c.Synthesizer.Voice, DefaultVoice)
	setString(&c.Synthesizer.Rate, DefaultRate)
	setString(&c.Synthesizer.Pitch, DefaultPitch)
	setInt(&c.Synthesizer.TimeoutSeconds, DefaultSynthesizerTimeout)

	c.Synthesizer.Backend = strings.ToLower(c.Synthesizer.Backend)

	setString(&c.Transcriber.URL, DefaultTranscriberURL)
	setString(&c.Transcriber.APIKeyEnv, DefaultTranscriberAPIKeyEnv)
	setString(&c.Transcriber.Model, DefaultTranscriberModel)
	setInt(&c.Transcriber.TimeoutSeconds, DefaultTranscriberTimeout)
	setInt(&c.Transcriber.MaxConcurrent, DefaultTranscriberSlots)

	if c.NATS.URL != "" {
		setString(&c.NATS.TextProcessedSubject, DefaultTextProcessedSubject)
		setString(&c.NATS.TextObjectStoreBucket, DefaultTextBucket)
		setString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)
	}
}

// Validate checks the struct tags and returns every violation at once.
func (c *Config) Validate() error {
	var messages []string

	err := getValidator().Struct(c)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}

		for _, fieldErr := range validationErrors {
			messages = append(messages, formatFieldError(fieldErr))
		}
	}

	messages = append(messages, c.timeoutConflicts()...)

	if len(messages) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "; "))
}

// timeoutConflicts reports engine timeouts the HTTP write timeout cannot
// cover. The write deadline starts once the request headers are read, so it
// has to outlast the upload plus the slowest engine run.
func (c *Config) timeoutConflicts() []string {
	write := c.Server.WriteTimeoutSeconds
	if write <= 0 {
		return nil
	}

	engines := []struct {
		name    string
		seconds int
	}{
		{"transcoder.timeout_seconds", c.Transcoder.TimeoutSeconds},
		{"synthesizer.timeout_seconds", c.Synthesizer.TimeoutSeconds},
		{"transcriber.timeout_seconds", c.Transcriber.TimeoutSeconds},
	}

	var messages []string

	for _, engine := range engines {
		if write <= engine.seconds {
			messages = append(messages, fmt.Sprintf(
				"server.write_timeout_seconds (%d) must exceed %s (%d)", write, engine.name, engine.seconds))
		}
	}

	return messages
}

// ServerAddress returns host:port for the HTTP listener.
func (s ServerConfig) ServerAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ReadTimeout returns the read timeout as a duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return seconds(s.ReadTimeoutSeconds)
}

// WriteTimeout returns the write timeout as a duration.
func (s ServerConfig) WriteTimeout() time.Duration {
	return seconds(s.WriteTimeoutSeconds)
}

// Window returns the retention window as a duration.
func (r RetentionConfig) Window() time.Duration {
	return seconds(r.WindowSeconds)
}

// SweepInterval returns the sweep interval as a duration.
func (r RetentionConfig) SweepInterval() time.Duration {
	return seconds(r.SweepIntervalSeconds)
}

// FailureTTL returns the failed-output retention as a duration.
func (r RetentionConfig) FailureTTL() time.Duration {
	return seconds(r.FailureTTLSeconds)
}

// Timeout returns the per-job transcoder timeout.
func (t TranscoderConfig) Timeout() time.Duration {
	return seconds(t.TimeoutSeconds)
}

// GracePeriod returns how long a terminated engine has to exit.
func (t TranscoderConfig) GracePeriod() time.Duration {
	return seconds(t.GracePeriodSeconds)
}

// Timeout returns the per-job synthesis timeout.
func (s SynthesizerConfig) Timeout() time.Duration {
	return seconds(s.TimeoutSeconds)
}

// Timeout returns the per-request transcription timeout.
func (t TranscriberConfig) Timeout() time.Duration {
	return seconds(t.TimeoutSeconds)
}

// APIKey reads the key from the configured environment variable.
func (t TranscriberConfig) APIKey() string {
	if t.APIKeyEnv == "" {
		return ""
	}

	return os.Getenv(t.APIKeyEnv)
}

// Enabled reports whether the NATS intake should run.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("toml"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}

			return name
		})
	})

	return validate
}

func formatFieldError(fieldErr validator.FieldError) string {
	path := fieldErr.Namespace()
	if _, rest, found := strings.Cut(path, "."); found {
		path = rest
	}

	switch fieldErr.Tag() {
	case "required", "required_if", "required_with":
		return path + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fieldErr.Param())
	case "url":
		return path + " must be a valid URL"
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", path, fieldErr.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", path, fieldErr.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", path, fieldErr.Tag())
	}
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func setString(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func setInt(field *int, fallback int) {
	if *field == 0 {
		*field = fallback
	}
}
