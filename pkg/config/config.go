package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"roadwatch/pkg/units"
)

type Config struct {
	Stream struct {
		URL            string        `yaml:"url"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		MaxRetries     int           `yaml:"max_retries"`
		RetryDelay     time.Duration `yaml:"retry_delay"`
		BufferSize     int           `yaml:"buffer_size"`
	} `yaml:"stream"`

	Detection struct {
		Endpoint            string        `yaml:"endpoint"`
		Timeout             time.Duration `yaml:"timeout"`
		ConfidenceThreshold float64       `yaml:"confidence_threshold"`
		VehicleClasses      []string      `yaml:"vehicle_classes"`
		MaxFPS              float64       `yaml:"max_fps"`
		JPEGQuality         int           `yaml:"jpeg_quality"`
	} `yaml:"detection"`

	Tracking struct {
		HistorySize int           `yaml:"history_size"`
		IdleTimeout time.Duration `yaml:"idle_timeout"`
	} `yaml:"tracking"`

	Kinematics struct {
		MetersPerUnit float64 `yaml:"meters_per_unit"`
		SpeedUnit     string  `yaml:"speed_unit"`
	} `yaml:"kinematics"`

	Output struct {
		Directory     string        `yaml:"directory"`
		SaveReports   bool          `yaml:"save_reports"`
		SaveFrames    bool          `yaml:"save_frames"`
		StatsInterval time.Duration `yaml:"stats_interval"`
		LogResults    bool          `yaml:"log_results"`
	} `yaml:"output"`

	Server struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		RateLimit       struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`

	Display struct {
		Enabled      bool          `yaml:"enabled"`
		ClientBuffer int           `yaml:"client_buffer"`
		PingInterval time.Duration `yaml:"ping_interval"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"display"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
		StaleFrameThreshold time.Duration `yaml:"stale_frame_threshold"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Address     string        `yaml:"address"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size"`
		ResultTTL   time.Duration `yaml:"result_ttl"`
		RecentLimit int           `yaml:"recent_limit"`
	} `yaml:"redis"`

	SQLite struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"sqlite"`

	MQTT struct {
		Enabled  bool          `yaml:"enabled"`
		Broker   string        `yaml:"broker"`
		Topic    string        `yaml:"topic"`
		ClientID string        `yaml:"client_id"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		QoS      byte          `yaml:"qos"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"mqtt"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Reliability struct {
		CircuitBreaker struct {
			FailureThreshold    int           `yaml:"failure_threshold"`
			SuccessThreshold    int           `yaml:"success_threshold"`
			Timeout             time.Duration `yaml:"timeout"`
			MaxRequestsHalfOpen int           `yaml:"max_requests_half_open"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Probe struct {
		Duration  time.Duration `yaml:"duration"`
		ReportDir string        `yaml:"report_dir"`
	} `yaml:"probe"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if err := c.ValidateStream(); err != nil {
		return err
	}

	// Detection
	if c.Detection.Endpoint == "" {
		return fmt.Errorf("detection.endpoint must not be empty")
	}
	if c.Detection.Timeout <= 0 {
		return fmt.Errorf("detection.timeout must be > 0")
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("detection.confidence_threshold must be within [0, 1]")
	}
	if len(c.Detection.VehicleClasses) == 0 {
		return fmt.Errorf("detection.vehicle_classes must not be empty")
	}
	if c.Detection.MaxFPS < 0 {
		return fmt.Errorf("detection.max_fps must be >= 0")
	}
	if c.Detection.JPEGQuality < 1 || c.Detection.JPEGQuality > 100 {
		return fmt.Errorf("detection.jpeg_quality must be within [1, 100]")
	}

	// Tracking
	if c.Tracking.HistorySize < 2 {
		return fmt.Errorf("tracking.history_size must be >= 2")
	}
	if c.Tracking.IdleTimeout <= 0 {
		return fmt.Errorf("tracking.idle_timeout must be > 0")
	}

	// Kinematics
	if c.Kinematics.MetersPerUnit <= 0 {
		return fmt.Errorf("kinematics.meters_per_unit must be > 0")
	}
	if !units.IsValid(c.Kinematics.SpeedUnit) {
		return fmt.Errorf("kinematics.speed_unit must be one of %s", units.ValidUnitsString())
	}

	// Output
	if (c.Output.SaveReports || c.Output.SaveFrames) && c.Output.Directory == "" {
		return fmt.Errorf("output.directory must not be empty when saving reports or frames")
	}
	if c.Output.StatsInterval <= 0 {
		return fmt.Errorf("output.stats_interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Address == "" {
			return fmt.Errorf("server.address must not be empty when server.enabled=true")
		}
		if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
			return fmt.Errorf("server timeouts must be > 0")
		}
		if rl := c.Server.RateLimit; rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0) {
			return fmt.Errorf("server.rate_limit requests_per_second and burst must be > 0 when enabled")
		}
	}

	// Display
	if c.Display.Enabled {
		if !c.Server.Enabled {
			return fmt.Errorf("display.enabled requires server.enabled=true")
		}
		if c.Display.ClientBuffer <= 0 {
			return fmt.Errorf("display.client_buffer must be > 0")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}
	if c.Redis.RecentLimit <= 0 {
		return fmt.Errorf("redis.recent_limit must be > 0")
	}

	// SQLite
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path must not be empty when sqlite.enabled=true")
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker must not be empty when mqtt.enabled=true")
		}
		if c.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic must not be empty when mqtt.enabled=true")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Reliability
	cb := c.Reliability.CircuitBreaker
	if cb.FailureThreshold <= 0 || cb.SuccessThreshold <= 0 || cb.MaxRequestsHalfOpen <= 0 {
		return fmt.Errorf("reliability.circuit_breaker thresholds must be > 0")
	}
	if cb.Timeout <= 0 {
		return fmt.Errorf("reliability.circuit_breaker.timeout must be > 0")
	}

	return nil
}

// ValidateStream checks only what a connection test needs: the stream
// section, logging and the test duration. Detector and output settings are
// left alone.
func (c *Config) ValidateStream() error {
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url must not be empty")
	}
	if c.Stream.ConnectTimeout < 0 {
		return fmt.Errorf("stream.connect_timeout must be >= 0")
	}
	if c.Stream.MaxRetries < 1 {
		return fmt.Errorf("stream.max_retries must be >= 1")
	}
	if c.Stream.RetryDelay < 0 {
		return fmt.Errorf("stream.retry_delay must be >= 0")
	}
	if c.Stream.BufferSize < 0 {
		return fmt.Errorf("stream.buffer_size must be >= 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Probe.Duration <= 0 {
		return fmt.Errorf("probe.duration must be > 0")
	}
	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// Validate is left to the caller so command-line flags can be applied first.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// A missing file falls back to defaults
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Stream.ConnectTimeout = 10 * time.Second
	cfg.Stream.MaxRetries = 3
	cfg.Stream.RetryDelay = 2 * time.Second
	cfg.Stream.BufferSize = 1

	cfg.Detection.Endpoint = "http://localhost:8000/v1/track"
	cfg.Detection.Timeout = 5 * time.Second
	cfg.Detection.ConfidenceThreshold = 0.5
	cfg.Detection.VehicleClasses = []string{"car", "truck", "bus", "motorcycle"}
	cfg.Detection.MaxFPS = 30
	cfg.Detection.JPEGQuality = 90

	cfg.Tracking.HistorySize = 10
	cfg.Tracking.IdleTimeout = 5 * time.Second

	cfg.Kinematics.MetersPerUnit = 1.0
	cfg.Kinematics.SpeedUnit = "kph"

	cfg.Output.Directory = "output"
	cfg.Output.SaveReports = true
	cfg.Output.SaveFrames = false
	cfg.Output.StatsInterval = 5 * time.Second
	cfg.Output.LogResults = true

	cfg.Server.Enabled = true
	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.RateLimit.Enabled = false
	cfg.Server.RateLimit.RequestsPerSecond = 20
	cfg.Server.RateLimit.Burst = 40
	cfg.Server.RateLimit.MaxConcurrent = 100

	cfg.Display.Enabled = false
	cfg.Display.ClientBuffer = 16
	cfg.Display.PingInterval = 30 * time.Second
	cfg.Display.WriteTimeout = 5 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckInterval = 10 * time.Second
	cfg.Monitoring.StaleFrameThreshold = 10 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.ResultTTL = time.Hour
	cfg.Redis.RecentLimit = 100

	cfg.SQLite.Enabled = false
	cfg.SQLite.Path = "output/roadwatch.db"

	cfg.MQTT.Enabled = false
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.Topic = "roadwatch/detections"
	cfg.MQTT.ClientID = "roadwatch"
	cfg.MQTT.QoS = 0
	cfg.MQTT.Timeout = 5 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "roadwatch"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Reliability.CircuitBreaker.FailureThreshold = 5
	cfg.Reliability.CircuitBreaker.SuccessThreshold = 2
	cfg.Reliability.CircuitBreaker.Timeout = 30 * time.Second
	cfg.Reliability.CircuitBreaker.MaxRequestsHalfOpen = 1

	cfg.Probe.Duration = 10 * time.Second
	cfg.Probe.ReportDir = "output"

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("ROADWATCH_STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("ROADWATCH_DETECTION_ENDPOINT"); v != "" {
		c.Detection.Endpoint = v
	}
	if v := os.Getenv("ROADWATCH_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("ROADWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ROADWATCH_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("ROADWATCH_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ROADWATCH_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("ROADWATCH_VEHICLE_CLASSES"); v != "" {
		var classes []string
		for _, class := range strings.Split(v, ",") {
			if class = strings.TrimSpace(class); class != "" {
				classes = append(classes, class)
			}
		}
		c.Detection.VehicleClasses = classes
	}
	if v := os.Getenv("ROADWATCH_MAX_FPS"); v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ROADWATCH_MAX_FPS %q: %w", v, err)
		}
		c.Detection.MaxFPS = fps
	}
	if v := os.Getenv("ROADWATCH_METERS_PER_UNIT"); v != "" {
		mpu, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ROADWATCH_METERS_PER_UNIT %q: %w", v, err)
		}
		c.Kinematics.MetersPerUnit = mpu
	}
	return nil
}
