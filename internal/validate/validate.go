package validate

import (
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/person-detector/internal/config"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators.
func ValidateConfig(cfg *config.Config) error {
	v := &Validator{}

	validateNVRConfig(v, &cfg.NVR)
	validateEventsConfig(v, cfg)
	validateDetectorConfig(v, &cfg.Detector)
	validateEvaluationConfig(v, &cfg.Evaluation)
	validateArchiveConfig(v, &cfg.Archive)
	validateNotificationConfig(v, &cfg.Notification)
	validateCameras(v, cfg.Cameras)
	validateMinIOConfig(v, &cfg.Storage.MinIO)
	validateGeneralConfig(v, cfg)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// ValidateDetectorInstall checks that the engine directory exists and the
// binary is executable. Kept apart from ValidateConfig so offline commands
// work on machines without darknet.
func ValidateDetectorInstall(cfg *config.DetectorConfig) error {
	bin := cfg.Binary
	if !filepath.IsAbs(bin) && strings.ContainsRune(bin, filepath.Separator) {
		bin = filepath.Join(cfg.Dir, bin)
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("detector binary %s not usable: %w", bin, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateNVRConfig(v *Validator, cfg *config.NVRConfig) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		v.AddError("nvr.host is required")
	} else if net.ParseIP(host) == nil && !isValidHostname(host) {
		v.AddError("invalid nvr.host: %s", host)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.AddError("invalid nvr.port: %d", cfg.Port)
	}
	if cfg.APIKey == "" || strings.HasPrefix(cfg.APIKey, "[ENTER") {
		v.AddError("nvr.api_key must be set")
	}
	if cfg.Timeout < 0 {
		v.AddError("nvr.timeout cannot be negative")
	}
}

func validateEventsConfig(v *Validator, cfg *config.Config) {
	if !isValidFilePath(cfg.Events.RecordLog) {
		v.AddError("events.record_log is required")
	}
	if cfg.Events.PollInterval < 10*time.Millisecond || cfg.Events.PollInterval > time.Minute {
		v.AddError("events.poll_interval must be between 10ms and 1m, got %s", cfg.Events.PollInterval)
	}
	if _, err := cfg.EventLocation(); err != nil {
		v.AddError("invalid events.location %q: %v", cfg.Events.Location, err)
	}
}

func validateDetectorConfig(v *Validator, cfg *config.DetectorConfig) {
	if !isValidDirectoryPath(cfg.Dir) {
		v.AddError("invalid detector.dir: %s", cfg.Dir)
	}
	if cfg.Binary == "" {
		v.AddError("detector.binary is required")
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		v.AddError("detector.threshold must be in (0, 1), got %g", cfg.Threshold)
	}
	for name, p := range map[string]string{"report_file": cfg.ReportFile, "output_file": cfg.OutputFile} {
		if p == "" || strings.ContainsRune(p, filepath.Separator) {
			v.AddError("detector.%s must be a bare file name, got %q", name, p)
		}
	}
	if cfg.Timeout < 0 {
		v.AddError("detector.timeout cannot be negative")
	}
}

func validateEvaluationConfig(v *Validator, cfg *config.EvaluationConfig) {
	if !isAlphanumericWithUnderscore(strings.ReplaceAll(cfg.Label, " ", "_")) {
		v.AddError("invalid evaluation.label: %q", cfg.Label)
	}
	if cfg.Threshold < 0 || cfg.Threshold >= 100 {
		v.AddError("evaluation.threshold must be 0..99, got %d", cfg.Threshold)
	}
}

func validateArchiveConfig(v *Validator, cfg *config.ArchiveConfig) {
	if !isValidDirectoryPath(cfg.Root) {
		v.AddError("invalid archive.root: %s", cfg.Root)
	}
	if cfg.Remux && cfg.FFmpegBinary == "" {
		v.AddError("archive.ffmpeg_binary is required when archive.remux is enabled")
	}
	if cfg.BaseURL != "" && !isValidURL(cfg.BaseURL) {
		v.AddError("invalid archive.base_url: %s", cfg.BaseURL)
	}
}

func validateNotificationConfig(v *Validator, cfg *config.NotificationConfig) {
	if strings.TrimSpace(cfg.HassHost) == "" {
		v.AddError("notification.hass_host is required")
	}
	if cfg.Channel == "" || !isAlphanumericWithDashes(cfg.Channel) {
		v.AddError("invalid notification.channel: %q", cfg.Channel)
	}
	if cfg.PublicBaseURL != "" && !isValidURL(cfg.PublicBaseURL) {
		v.AddError("invalid notification.public_base_url: %s", cfg.PublicBaseURL)
	}
	if cfg.PublicRoot != "" && !isValidDirectoryPath(cfg.PublicRoot) {
		v.AddError("invalid notification.public_root: %s", cfg.PublicRoot)
	}
	switch cfg.Payload {
	case "attachment", "images":
	default:
		v.AddError("invalid notification.payload: %s (must be 'attachment' or 'images')", cfg.Payload)
	}
}

func validateCameras(v *Validator, cams []config.CameraConfig) {
	if len(cams) == 0 {
		v.AddError("at least one camera must be configured")
	}
	seen := make(map[string]bool, len(cams))
	for i, c := range cams {
		if c.ID == "" {
			v.AddError("cameras[%d]: id is required", i)
			continue
		}
		if seen[c.ID] {
			v.AddError("cameras[%d]: duplicate id %s", i, c.ID)
		}
		seen[c.ID] = true
		if !isValidDirectoryPath(c.Path) {
			v.AddError("cameras[%d] (%s): invalid path %q", i, c.ID, c.Path)
		}
	}
}

func validateMinIOConfig(v *Validator, cfg *config.MinIOConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Endpoint == "" {
		v.AddError("storage.minio.endpoint is required when the mirror is enabled")
	} else if _, portStr, err := net.SplitHostPort(cfg.Endpoint); err == nil {
		if port, err := strconv.Atoi(portStr); err != nil || port < 1 || port > 65535 {
			v.AddError("invalid port in storage.minio.endpoint: %s", portStr)
		}
	}
	if cfg.Bucket == "" {
		v.AddError("storage.minio.bucket is required when the mirror is enabled")
	}
	if cfg.URLExpiry < 0 || cfg.URLExpiry > 7*24*time.Hour {
		v.AddError("storage.minio.url_expiry must be at most 7 days")
	}
}

func validateGeneralConfig(v *Validator, cfg *config.Config) {
	if !isValidDirectoryPath(cfg.WorkDir) {
		v.AddError("invalid work_dir: %s", cfg.WorkDir)
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			v.AddError("metrics.listen must be host:port: %v", err)
		}
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func isValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	re := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
	labels := strings.Split(hostname, ".")
	for _, l := range labels {
		if !re.MatchString(l) {
			return false
		}
	}
	return true
}

func isValidFilePath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00")
}

func isValidDirectoryPath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00") && !strings.HasPrefix(clean, "..")
}

func isAlphanumericWithDashes(s string) bool {
	if s == "" {
		return false
	}
	return regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`).MatchString(s)
}

func isAlphanumericWithUnderscore(s string) bool {
	if s == "" {
		return false
	}
	return regexp.MustCompile(`^[a-zA-Z0-9_]+$`).MatchString(s)
}
