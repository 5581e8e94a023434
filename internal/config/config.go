package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the runtime configuration of the streaming server.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	ModelPath       string
	ModelConfigPath string
	LabelsPath      string
	InputSize       int
	NMSThreshold    float64

	CameraSource string
	CameraName   string
	TargetFPS    int
	JPEGQuality  int

	InferenceThreshold float64
	DisplayThreshold   float64

	STUNServers []string
	MaxClients  int

	LogLevel string
	LogColor bool
	LogFile  string
}

// Load reads an optional .env file, then parses args. Flags override the
// environment, which overrides the built-in defaults.
func Load(args []string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	var stun string

	fs := flag.NewFlagSet("streaming-server", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "http", getEnv("HTTP_ADDR", ":8080"), "HTTP server address")
	fs.StringVar(&cfg.MetricsAddr, "metrics", getEnv("METRICS_ADDR", ":9090"), "Metrics server address")
	fs.StringVar(&cfg.ModelPath, "model", getEnv("MODEL_PATH", "models/best.onnx"), "Detection model path")
	fs.StringVar(&cfg.ModelConfigPath, "model-config", getEnv("MODEL_CONFIG_PATH", ""), "Network config for .pb/.weights models (.pbtxt, .cfg)")
	fs.StringVar(&cfg.LabelsPath, "labels", getEnv("LABELS_PATH", ""), "Class names file (data.yaml or one name per line)")
	fs.IntVar(&cfg.InputSize, "input-size", getEnvAsInt("MODEL_INPUT_SIZE", 640), "Model input size in pixels")
	fs.Float64Var(&cfg.NMSThreshold, "nms-threshold", getEnvAsFloat("NMS_THRESHOLD", 0.45), "Non-maximum suppression IoU threshold")
	fs.StringVar(&cfg.CameraSource, "camera", getEnv("CAMERA_SOURCE", ""), "Server camera (device index, file or URL); empty disables it")
	fs.StringVar(&cfg.CameraName, "camera-name", getEnv("CAMERA_NAME", "Jalan SK 6/1"), "Camera name shown on the dashboard")
	fs.IntVar(&cfg.TargetFPS, "fps", getEnvAsInt("TARGET_FPS", 10), "Server camera frame rate")
	fs.IntVar(&cfg.JPEGQuality, "jpeg-quality", getEnvAsInt("JPEG_QUALITY", 80), "JPEG quality for annotated frames")
	fs.Float64Var(&cfg.InferenceThreshold, "inference-threshold", getEnvAsFloat("INFERENCE_THRESHOLD", 0.3), "Minimum confidence for a detection")
	fs.Float64Var(&cfg.DisplayThreshold, "display-threshold", getEnvAsFloat("DISPLAY_THRESHOLD", 0.5), "Initial confidence slider value")
	fs.StringVar(&stun, "stun", getEnv("STUN_SERVERS", "stun:stun.l.google.com:19302"), "STUN server URLs (comma-separated)")
	fs.IntVar(&cfg.MaxClients, "max-clients", getEnvAsInt("MAX_CLIENTS", 10), "Maximum WebRTC sessions")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.LogColor, "log-color", getEnvAsBool("LOG_COLOR", true), "Enable colored log output")
	fs.StringVar(&cfg.LogFile, "log-file", getEnv("LOG_FILE", ""), "Also write logs to this rotated file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.STUNServers = splitList(stun)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first out-of-range setting.
func (c *Config) Validate() error {
	switch {
	case c.InferenceThreshold < 0 || c.InferenceThreshold > 1:
		return fmt.Errorf("inference threshold %v outside [0,1]", c.InferenceThreshold)
	case c.DisplayThreshold < 0 || c.DisplayThreshold > 1:
		return fmt.Errorf("display threshold %v outside [0,1]", c.DisplayThreshold)
	case c.NMSThreshold < 0 || c.NMSThreshold > 1:
		return fmt.Errorf("nms threshold %v outside [0,1]", c.NMSThreshold)
	case c.TargetFPS <= 0:
		return fmt.Errorf("fps must be positive, got %d", c.TargetFPS)
	case c.InputSize <= 0:
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg quality %d outside [1,100]", c.JPEGQuality)
	case c.MaxClients <= 0:
		return fmt.Errorf("max clients must be positive, got %d", c.MaxClients)
	case c.ModelPath == "":
		return errors.New("model path is empty")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
