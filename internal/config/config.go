package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/person-detector/internal/crypto"
	"github.com/mikeyg42/person-detector/internal/detector"
)

// MasterKeyEnv names the variable holding the key for "enc:" secrets.
const MasterKeyEnv = "UPD_MASTER_KEY"

// Config holds all application configuration
type Config struct {
	WorkDir      string             `yaml:"work_dir"`
	NVR          NVRConfig          `yaml:"nvr"`
	Events       EventsConfig       `yaml:"events"`
	Detector     DetectorConfig     `yaml:"detector"`
	Evaluation   EvaluationConfig   `yaml:"evaluation"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Notification NotificationConfig `yaml:"notification"`
	Cameras      []CameraConfig     `yaml:"cameras"`
	Storage      StorageConfig      `yaml:"storage"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Log          LogConfig          `yaml:"log"`
}

// NVRConfig points at the Unifi Video recording API.
type NVRConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type EventsConfig struct {
	RecordLog    string        `yaml:"record_log"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FromStart    bool          `yaml:"from_start"`
	// Location names the zone the NVR writes timestamps in ("Local" when empty).
	Location string `yaml:"location"`
}

type DetectorConfig struct {
	Dir        string        `yaml:"dir"`
	Binary     string        `yaml:"binary"`
	DataFile   string        `yaml:"data_file"`
	CfgFile    string        `yaml:"cfg_file"`
	Weights    string        `yaml:"weights"`
	Threshold  float64       `yaml:"threshold"`
	ReportFile string        `yaml:"report_file"`
	OutputFile string        `yaml:"output_file"`
	Timeout    time.Duration `yaml:"timeout"`
}

type EvaluationConfig struct {
	Label     string `yaml:"label"`
	Threshold int    `yaml:"threshold"`
}

type ArchiveConfig struct {
	Root         string `yaml:"root"`
	Remux        bool   `yaml:"remux"`
	FFmpegBinary string `yaml:"ffmpeg_binary"`
	// BaseURL is where Root is served over HTTP, if anywhere.
	BaseURL string `yaml:"base_url"`
}

type NotificationConfig struct {
	HassHost      string        `yaml:"hass_host"`
	Channel       string        `yaml:"channel"`
	Token         string        `yaml:"token"`
	PublicRoot    string        `yaml:"public_root"`
	PublicBaseURL string        `yaml:"public_base_url"`
	Payload       string        `yaml:"payload"` // "attachment" or "images"
	Timeout       time.Duration `yaml:"timeout"`
}

// CameraConfig is one CameraRegistry row.
type CameraConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type StorageConfig struct {
	MinIO MinIOConfig `yaml:"minio"`
}

// MinIOConfig enables the optional object-store mirror of archived videos.
type MinIOConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	URLExpiry       time.Duration `yaml:"url_expiry"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		WorkDir: ".",
		NVR: NVRConfig{
			Port:    7080,
			Timeout: 2 * time.Minute,
		},
		Events: EventsConfig{
			RecordLog:    "/docker/unifi-video/logs/recording.log",
			PollInterval: time.Second,
		},
		Detector: DetectorConfig{
			Dir:        "/opt/darknet",
			Binary:     "./darknet",
			DataFile:   "./cfg/coco.data",
			CfgFile:    "./cfg/yolov3.cfg",
			Weights:    "./yolov3.weights",
			Threshold:  0.25,
			ReportFile: "result.txt",
			OutputFile: "result.avi",
			Timeout:    10 * time.Minute,
		},
		Evaluation: EvaluationConfig{
			Label:     detector.DefaultLabel,
			Threshold: detector.DefaultThreshold,
		},
		Archive: ArchiveConfig{
			Root:         ".",
			Remux:        true,
			FFmpegBinary: "ffmpeg",
		},
		Notification: NotificationConfig{
			Channel:    "iOS",
			PublicRoot: "/docker/nginx/html",
			Payload:    "attachment",
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			MinIO: MinIOConfig{
				Bucket:         "person-detections",
				URLExpiry:      7 * 24 * time.Hour,
				RequestTimeout: 5 * time.Minute,
			},
		},
		Log: LogConfig{
			File:  "/apps/logs/upd.log",
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	if err := openSecrets(cfg, os.Getenv(MasterKeyEnv)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets secrets and host names come from the environment.
func applyEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"UPD_NVR_HOST", &cfg.NVR.Host},
		{"UPD_NVR_API_KEY", &cfg.NVR.APIKey},
		{"UPD_RECORD_LOG", &cfg.Events.RecordLog},
		{"UPD_HASS_HOST", &cfg.Notification.HassHost},
		{"UPD_HASS_TOKEN", &cfg.Notification.Token},
		{"UPD_PUBLIC_BASE_URL", &cfg.Notification.PublicBaseURL},
		{"UPD_ARCHIVE_BASE_URL", &cfg.Archive.BaseURL},
		{"UPD_MINIO_ACCESS_KEY", &cfg.Storage.MinIO.AccessKeyID},
		{"UPD_MINIO_SECRET_KEY", &cfg.Storage.MinIO.SecretAccessKey},
		{"UPD_LOG_FILE", &cfg.Log.File},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
}

// openSecrets decrypts sealed credentials in place.
func openSecrets(cfg *Config, masterKey string) error {
	secrets := []struct {
		name string
		dst  *string
	}{
		{"nvr.api_key", &cfg.NVR.APIKey},
		{"notification.token", &cfg.Notification.Token},
		{"storage.minio.access_key_id", &cfg.Storage.MinIO.AccessKeyID},
		{"storage.minio.secret_access_key", &cfg.Storage.MinIO.SecretAccessKey},
	}
	for _, s := range secrets {
		if !crypto.IsSealed(*s.dst) {
			continue
		}
		if masterKey == "" {
			return fmt.Errorf("%s is sealed but %s is not set", s.name, MasterKeyEnv)
		}
		plain, err := crypto.Open(*s.dst, masterKey)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", s.name, err)
		}
		*s.dst = plain
	}
	return nil
}

// EventLocation resolves Events.Location, falling back to local time.
func (c *Config) EventLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.Events.Location)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
