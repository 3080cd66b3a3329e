package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Capture modes
const (
	ModeCamera = "camera" // real capture device
	ModeDemo   = "demo"   // synthetic frame generator, no hardware
)

// Inference backends
const (
	BackendAuto = "auto"
	BackendCPU  = "cpu"
	BackendCUDA = "cuda"
)

// Config represents the complete hueeye configuration
type Config struct {
	InstanceID string          `yaml:"instance_id"`
	Mode       string          `yaml:"mode"` // camera, demo
	Camera     CameraConfig    `yaml:"camera"`
	Inference  InferenceConfig `yaml:"inference"`
	Stream     StreamConfig    `yaml:"stream"`
	Server     ServerConfig    `yaml:"server"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	Log        LogConfig       `yaml:"log"`
}

// CameraConfig contains capture device settings
type CameraConfig struct {
	Index       int           `yaml:"index"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	FPS         int           `yaml:"fps"`
	BufferSize  int           `yaml:"buffer_size"`  // driver-side buffer, 1 keeps latency low
	OpenRetries int           `yaml:"open_retries"` // attempts before capture is declared unavailable
	OpenBackoff time.Duration `yaml:"open_backoff"`
	ReadBackoff time.Duration `yaml:"read_backoff"` // wait after a failed read
}

// InferenceConfig contains classifier and throttling settings
type InferenceConfig struct {
	ModelPath        string        `yaml:"model_path"`
	ConfigPath       string        `yaml:"config_path"` // optional, framework dependent
	NamesPath        string        `yaml:"names_path"`  // one class name per line, overrides ClassNames
	ClassNames       []string      `yaml:"class_names"`
	InputWidth       int           `yaml:"input_width"`
	InputHeight      int           `yaml:"input_height"`
	InputChannels    int           `yaml:"input_channels"` // 1 = grayscale, 3 = color
	Backend          string        `yaml:"backend"`        // auto, cpu, cuda
	Interval         time.Duration `yaml:"interval"`
	Threshold        float64       `yaml:"confidence_threshold"`
	RegionSize       int           `yaml:"region_size"` // 0 = full frame
	QueueSize        int           `yaml:"queue_size"`
	QueueWait        time.Duration `yaml:"queue_wait"`
	ExposeConfidence bool          `yaml:"expose_confidence"`
}

// StreamConfig contains encoded stream settings
type StreamConfig struct {
	JPEGQuality int `yaml:"jpeg_quality"`
	FPS         int `yaml:"fps"` // reader sampling cadence
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig contains optional label publication settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"` // %s is replaced by the instance id
	QoS      byte   `yaml:"qos"`
	ClientID string `yaml:"client_id"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Mode: ModeCamera,
		Camera: CameraConfig{
			Index:       0,
			Width:       640,
			Height:      480,
			FPS:         30,
			BufferSize:  1,
			OpenRetries: 3,
			OpenBackoff: time.Second,
			ReadBackoff: 100 * time.Millisecond,
		},
		Inference: InferenceConfig{
			ModelPath:        "color_classifier.onnx",
			ClassNames:       []string{"Blue", "Green", "red", "yellow"},
			InputWidth:       64,
			InputHeight:      64,
			InputChannels:    3,
			Backend:          BackendAuto,
			Interval:         500 * time.Millisecond,
			Threshold:        0.7,
			RegionSize:       50,
			QueueSize:        1,
			QueueWait:        500 * time.Millisecond,
			ExposeConfidence: true,
		},
		Stream: StreamConfig{
			JPEGQuality: 80,
			FPS:         30,
		},
		Server: ServerConfig{
			Addr: ":5000",
		},
		MQTT: MQTTConfig{
			Broker: "localhost:1883",
			Topic:  "hueeye/%s/color",
			QoS:    0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides values from the process environment.
//
//	PORT          listen port, e.g. 8080
//	HUEEYE_MODE   camera | demo
//	HUEEYE_MODEL  model file path
func (c *Config) ApplyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("PORT must be numeric, got %q", port)
		}
		c.Server.Addr = ":" + port
	}
	if mode := os.Getenv("HUEEYE_MODE"); mode != "" {
		c.Mode = strings.ToLower(strings.TrimSpace(mode))
	}
	if model := os.Getenv("HUEEYE_MODEL"); model != "" {
		c.Inference.ModelPath = model
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Mode != ModeCamera && c.Mode != ModeDemo {
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeCamera, ModeDemo, c.Mode))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, errors.New("camera.fps must be positive"))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, errors.New("camera.width and camera.height must be positive"))
	}
	if c.Inference.Interval < 0 {
		errs = append(errs, errors.New("inference.interval cannot be negative"))
	}
	if c.Inference.Threshold < 0 || c.Inference.Threshold > 1 {
		errs = append(errs, fmt.Errorf("inference.confidence_threshold must be within [0,1], got %.2f", c.Inference.Threshold))
	}
	if c.Inference.RegionSize < 0 {
		errs = append(errs, errors.New("inference.region_size cannot be negative"))
	}
	if c.Inference.QueueSize < 1 || c.Inference.QueueSize > 2 {
		errs = append(errs, fmt.Errorf("inference.queue_size must be 1 or 2, got %d", c.Inference.QueueSize))
	}
	if c.Inference.QueueWait <= 0 {
		errs = append(errs, errors.New("inference.queue_wait must be positive"))
	}
	if c.Inference.InputWidth <= 0 || c.Inference.InputHeight <= 0 {
		errs = append(errs, errors.New("inference input dimensions must be positive"))
	}
	if c.Inference.InputChannels != 1 && c.Inference.InputChannels != 3 {
		errs = append(errs, fmt.Errorf("inference.input_channels must be 1 or 3, got %d", c.Inference.InputChannels))
	}
	switch c.Inference.Backend {
	case BackendAuto, BackendCPU, BackendCUDA:
	default:
		errs = append(errs, fmt.Errorf("inference.backend must be auto, cpu or cuda, got %q", c.Inference.Backend))
	}
	if len(c.Inference.ClassNames) == 0 && c.Inference.NamesPath == "" {
		errs = append(errs, errors.New("inference needs class_names or names_path"))
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("stream.jpeg_quality must be within [1,100], got %d", c.Stream.JPEGQuality))
	}
	if c.Stream.FPS <= 0 {
		errs = append(errs, errors.New("stream.fps must be positive"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return errors.Join(errs...)
}

// FrameInterval is the capture cycle period derived from camera.fps
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Camera.FPS)
}

// SampleInterval is the stream reader period derived from stream.fps
func (c *Config) SampleInterval() time.Duration {
	return time.Second / time.Duration(c.Stream.FPS)
}

// Environment names the runtime environment the way the HTTP surface reports it
func (c *Config) Environment() string {
	if c.Mode == ModeDemo {
		return "production"
	}
	return "development"
}
