package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Camera     CameraConfig   `yaml:"camera"`
	Detector   DetectorConfig `yaml:"detector"`
	Scan       ScanConfig     `yaml:"scan"`
	Overlay    OverlayConfig  `yaml:"overlay"`
	ShadeTable string         `yaml:"shade_table"` // optional YAML replacing the built-in table
}

type CameraConfig struct {
	Input    string `yaml:"input"`  // device path, video file, or "-" for MJPEG on stdin
	Format   string `yaml:"format"` // ffmpeg demuxer for devices (v4l2, avfoundation, dshow)
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	FPS      int    `yaml:"fps"`
	Realtime bool   `yaml:"realtime"` // pace file inputs at their native rate
}

type DetectorConfig struct {
	Command string        `yaml:"command"` // split on whitespace
	Timeout time.Duration `yaml:"timeout"` // per-frame response timeout, 0 disables
}

type ScanConfig struct {
	Duration           time.Duration `yaml:"duration"`
	MouthOpenThreshold float64       `yaml:"mouth_open_threshold"`
	StartTimeout       time.Duration `yaml:"start_timeout"` // start without a mouth-open signal after this long
	Fallback           string        `yaml:"fallback"`
}

type OverlayConfig struct {
	Shrink     float64 `yaml:"shrink"`
	Brightness float64 `yaml:"brightness"`
	Saturation float64 `yaml:"saturation"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Input:    "/dev/video0",
			Format:   "v4l2",
			Width:    640,
			Height:   480,
			FPS:      30,
			Realtime: true,
		},
		Detector: DetectorConfig{
			Command: "python3 -u python/landmarks.py",
			Timeout: 10 * time.Second,
		},
		Scan: ScanConfig{
			Duration:           3 * time.Second,
			MouthOpenThreshold: 0.02,
			StartTimeout:       10 * time.Second,
			Fallback:           "A2",
		},
		Overlay: OverlayConfig{
			Shrink:     0.88,
			Brightness: 1.5,
			Saturation: 0.6,
		},
	}
}

// Load builds the configuration from defaults, then the optional YAML file at
// path, then SHADESCOPE_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Camera.Input = envString("SHADESCOPE_CAMERA", c.Camera.Input)
	c.Camera.Format = envString("SHADESCOPE_CAMERA_FORMAT", c.Camera.Format)
	c.Camera.Width = envInt("SHADESCOPE_WIDTH", c.Camera.Width)
	c.Camera.Height = envInt("SHADESCOPE_HEIGHT", c.Camera.Height)
	c.Camera.FPS = envInt("SHADESCOPE_FPS", c.Camera.FPS)
	c.Camera.Realtime = envBool("SHADESCOPE_REALTIME", c.Camera.Realtime)

	c.Detector.Command = envString("SHADESCOPE_DETECTOR_CMD", c.Detector.Command)
	c.Detector.Timeout = envDuration("SHADESCOPE_DETECTOR_TIMEOUT", c.Detector.Timeout)

	c.Scan.Duration = envDuration("SHADESCOPE_SCAN_DURATION", c.Scan.Duration)
	c.Scan.MouthOpenThreshold = envFloat("SHADESCOPE_MOUTH_THRESHOLD", c.Scan.MouthOpenThreshold)
	c.Scan.StartTimeout = envDuration("SHADESCOPE_START_TIMEOUT", c.Scan.StartTimeout)
	c.Scan.Fallback = envString("SHADESCOPE_FALLBACK_SHADE", c.Scan.Fallback)

	c.ShadeTable = envString("SHADESCOPE_SHADE_TABLE", c.ShadeTable)
}

// DetectorArgs splits the detector command into argv.
func (c *Config) DetectorArgs() []string {
	return strings.Fields(c.Detector.Command)
}

// Validate rejects settings no flow can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Camera.Input == "" {
		errs = append(errs, errors.New("camera input is empty"))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame size %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", c.Camera.FPS))
	}
	if len(c.DetectorArgs()) == 0 {
		errs = append(errs, errors.New("detector command is empty"))
	}
	if c.Detector.Timeout < 0 {
		errs = append(errs, fmt.Errorf("detector timeout must not be negative, got %s", c.Detector.Timeout))
	}
	if c.Scan.Duration <= 0 {
		errs = append(errs, fmt.Errorf("scan duration must be positive, got %s", c.Scan.Duration))
	}
	if c.Scan.MouthOpenThreshold <= 0 || c.Scan.MouthOpenThreshold >= 1 {
		errs = append(errs, fmt.Errorf("mouth-open threshold must be between 0 and 1, got %g", c.Scan.MouthOpenThreshold))
	}
	if c.Scan.StartTimeout < 0 {
		errs = append(errs, fmt.Errorf("start timeout must not be negative, got %s", c.Scan.StartTimeout))
	}
	if c.Scan.Fallback == "" {
		errs = append(errs, errors.New("fallback shade is empty"))
	}
	if c.Overlay.Shrink <= 0 || c.Overlay.Shrink > 1 {
		errs = append(errs, fmt.Errorf("overlay shrink must be in (0, 1], got %g", c.Overlay.Shrink))
	}
	if c.Overlay.Brightness < 0 || c.Overlay.Saturation < 0 {
		errs = append(errs, errors.New("overlay brightness and saturation must not be negative"))
	}
	return errors.Join(errs...)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}
