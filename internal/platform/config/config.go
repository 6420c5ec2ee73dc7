package config

import (
	"time"
)

type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Web           WebConfig           `yaml:"web" mapstructure:"web"`
	Transport     TransportConfig     `yaml:"transport" mapstructure:"transport"`
	Audio         AudioConfig         `yaml:"audio" mapstructure:"audio"`
	Recognizer    RecognizerConfig    `yaml:"recognizer" mapstructure:"recognizer"`
	Session       SessionConfig       `yaml:"session" mapstructure:"session"`
	Storage       StorageConfig       `yaml:"storage" mapstructure:"storage"`
	Insight       InsightConfig       `yaml:"insight" mapstructure:"insight"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

type ServerConfig struct {
	IP   string     `yaml:"ip" mapstructure:"ip"`
	Port int        `yaml:"port" mapstructure:"port"`
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`
}

// AuthConfig controls token checks on the websocket handshake.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Secret  string        `yaml:"secret" mapstructure:"secret"`
	Expiry  time.Duration `yaml:"expiry" mapstructure:"expiry"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

type WebConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	StaticDir string `yaml:"static_dir" mapstructure:"static_dir"`
	Websocket string `yaml:"websocket" mapstructure:"websocket"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

type WebSocketConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	IP               string        `yaml:"ip" mapstructure:"ip"`
	Port             int           `yaml:"port" mapstructure:"port"`
	Path             string        `yaml:"path" mapstructure:"path"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	// PingInterval is how long the reader waits for an inbound frame before
	// sending a keepalive ping.
	PingInterval time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	OutboundSize int           `yaml:"outbound_size" mapstructure:"outbound_size"`
	MaxFrameSize int64         `yaml:"max_frame_size" mapstructure:"max_frame_size"`
}

// AudioConfig holds the signal conditioning and stream alignment parameters.
type AudioConfig struct {
	SampleRate      int           `yaml:"sample_rate" mapstructure:"sample_rate"`
	NoiseThreshold  float64       `yaml:"noise_threshold" mapstructure:"noise_threshold"`
	SpeechZCR       float64       `yaml:"speech_zcr" mapstructure:"speech_zcr"`
	AdmissionRMS    float64       `yaml:"admission_rms" mapstructure:"admission_rms"`
	TargetPeak      float64       `yaml:"target_peak" mapstructure:"target_peak"`
	MaxDelay        time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	SpeechOnFailure bool          `yaml:"speech_on_failure" mapstructure:"speech_on_failure"`
}

type RecognizerConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider"`
	Language        string `yaml:"language" mapstructure:"language"`
	Model           string `yaml:"model" mapstructure:"model"`
	Punctuation     bool   `yaml:"punctuation" mapstructure:"punctuation"`
	Enhanced        bool   `yaml:"enhanced" mapstructure:"enhanced"`
	InterimResults  bool   `yaml:"interim_results" mapstructure:"interim_results"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`

	Doubao DoubaoConfig `yaml:"doubao" mapstructure:"doubao"`
}

// DoubaoConfig holds Volcengine credentials. Endpoint overrides the URL.
type DoubaoConfig struct {
	AppID         string `yaml:"app_id" mapstructure:"app_id"`
	AccessToken   string `yaml:"access_token" mapstructure:"access_token"`
	ResourceID    string `yaml:"resource_id" mapstructure:"resource_id"`
	EndWindowSize int    `yaml:"end_window_size" mapstructure:"end_window_size"`
}

// SessionConfig tunes the per-connection recognition worker.
type SessionConfig struct {
	QueueSize       int           `yaml:"queue_size" mapstructure:"queue_size"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	AudioTimeout    time.Duration `yaml:"audio_timeout" mapstructure:"audio_timeout"`
	EnqueueTimeout  time.Duration `yaml:"enqueue_timeout" mapstructure:"enqueue_timeout"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" mapstructure:"delivery_timeout"`
	DrainTimeout    time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
	InitialBackoff  time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
}

type StorageConfig struct {
	Driver string              `yaml:"driver" mapstructure:"driver"`
	SQLite SQLiteStorageConfig `yaml:"sqlite" mapstructure:"sqlite"`
	Redis  RedisStorageConfig  `yaml:"redis" mapstructure:"redis"`
}

type SQLiteStorageConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

type RedisStorageConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Username string        `yaml:"username,omitempty" mapstructure:"username"`
	Password string        `yaml:"password,omitempty" mapstructure:"password"`
	DB       int           `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string        `yaml:"prefix,omitempty" mapstructure:"prefix"`
	TTL      time.Duration `yaml:"ttl,omitempty" mapstructure:"ttl"`
}

// InsightConfig configures the LLM used for meeting summaries.
type InsightConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"url" mapstructure:"url"`
	Model       string        `yaml:"model_name" mapstructure:"model_name"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path" mapstructure:"metrics_path"`
}
