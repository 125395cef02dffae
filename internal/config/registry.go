package config

import (
	"fmt"
	"strings"

	"github.com/mikeyg42/person-detector/internal/archive"
)

// CameraRegistry builds the read-only camera id -> snapshot path table,
// labelled with each camera's configured name.
func CameraRegistry(cfg *Config) (archive.CameraRegistry, error) {
	entries := make(map[string]string, len(cfg.Cameras))
	names := make(map[string]string, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		id := strings.TrimSpace(cam.ID)
		if id == "" {
			return archive.CameraRegistry{}, fmt.Errorf("cameras[%d]: id is required", i)
		}
		if _, dup := entries[id]; dup {
			return archive.CameraRegistry{}, fmt.Errorf("cameras[%d]: duplicate camera id %s", i, id)
		}
		entries[id] = cam.Path
		names[id] = strings.TrimSpace(cam.Name)
	}
	return archive.NewCameraRegistry(entries).WithNames(names), nil
}

// CreateMirrorConfig maps the storage section onto archive.MinIOConfig.
// ok is false when the mirror is disabled.
func CreateMirrorConfig(cfg *Config) (mirror archive.MinIOConfig, ok bool) {
	m := cfg.Storage.MinIO
	if !m.Enabled {
		return archive.MinIOConfig{}, false
	}
	return archive.MinIOConfig{
		Endpoint:        m.Endpoint,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		UseSSL:          m.UseSSL,
		Bucket:          m.Bucket,
		Region:          m.Region,
		URLExpiry:       m.URLExpiry,
		RequestTimeout:  m.RequestTimeout,
	}, true
}
