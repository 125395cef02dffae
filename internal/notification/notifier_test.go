package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var detectedAt = time.Date(2020, 5, 9, 12, 30, 45, 0, time.UTC)

type captured struct {
	path   string
	token  string
	ctype  string
	body   map[string]any
	status int
}

func hassServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.token = r.Header.Get("x-ha-access")
		got.ctype = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.body)
		w.WriteHeader(got.status)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func writeSnapshot(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rec123_full.jpg")
	require.NoError(t, os.WriteFile(p, []byte("jpeg"), 0o600))
	return p
}

func TestNewNotifier(t *testing.T) {
	n, err := NewNotifier(HassConfig{Host: "10.0.0.2:8123"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:8123/api/services/notify/iOS", n.Endpoint())

	n, err = NewNotifier(HassConfig{Host: "https://hass.example.com/", Channel: "mobile_app_phone"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://hass.example.com/api/services/notify/mobile_app_phone", n.Endpoint())

	_, err = NewNotifier(HassConfig{}, nil)
	assert.Error(t, err)

	_, err = NewNotifier(HassConfig{Host: "h", Payload: "sms"}, nil)
	assert.Error(t, err)
}

func TestImageKey(t *testing.T) {
	assert.Equal(t, "notification_images/05/09/12_30_45_Garage.jpg", ImageKey("Garage", detectedAt))
}

func TestNotifyAttachment(t *testing.T) {
	srv, got := hassServer(t, http.StatusOK)
	public := t.TempDir()

	n, err := NewNotifier(HassConfig{
		Host:          srv.URL,
		Token:         "ha-secret",
		PublicRoot:    public,
		PublicBaseURL: "https://home.example.com",
	}, nil)
	require.NoError(t, err)

	err = n.Notify(context.Background(), Notification{
		ImagePath:  writeSnapshot(t),
		CameraName: "Garage",
		EventTime:  detectedAt,
		VideoURL:   "https://home.example.com/recordings/x.avi",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/services/notify/iOS", got.path)
	assert.Equal(t, "ha-secret", got.token)
	assert.Equal(t, "application/json", got.ctype)
	assert.Equal(t, "Person detected on camera: Garage", got.body["message"])

	data := got.body["data"].(map[string]any)
	assert.Equal(t, "https://home.example.com/recordings/x.avi", data["url"])
	attachment := data["attachment"].(map[string]any)
	assert.Equal(t, "https://home.example.com/notification_images/05/09/12_30_45_Garage.jpg", attachment["url"])
	assert.Equal(t, "jpeg", attachment["content-type"])
	assert.Equal(t, "false", attachment["hide-thumbnail"])

	published := filepath.Join(public, "notification_images", "05", "09", "12_30_45_Garage.jpg")
	st, err := os.Stat(published)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), st.Mode().Perm())
}

func TestNotifyImages(t *testing.T) {
	srv, got := hassServer(t, http.StatusOK)
	public := t.TempDir()

	n, err := NewNotifier(HassConfig{Host: srv.URL, PublicRoot: public, Payload: PayloadImages}, nil)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), Notification{
		ImagePath:  writeSnapshot(t),
		CameraName: "Porch",
		EventTime:  detectedAt,
	}))

	data := got.body["data"].(map[string]any)
	images := data["images"].([]any)
	require.Len(t, images, 1)
	assert.True(t, strings.HasSuffix(images[0].(string), "12_30_45_Porch.jpg"))
	assert.NotContains(t, data, "url")
}

func TestNotifyWithoutImage(t *testing.T) {
	srv, got := hassServer(t, http.StatusOK)

	n, err := NewNotifier(HassConfig{Host: srv.URL, PublicRoot: t.TempDir()}, nil)
	require.NoError(t, err)

	// A snapshot that cannot be published does not stop the message.
	require.NoError(t, n.Notify(context.Background(), Notification{
		ImagePath:  filepath.Join(t.TempDir(), "missing.jpg"),
		CameraName: "Garage",
		EventTime:  detectedAt,
	}))
	assert.Equal(t, "Person detected on camera: Garage", got.body["message"])
	assert.NotContains(t, got.body, "data")
}

func TestNotifyErrorStatus(t *testing.T) {
	srv, _ := hassServer(t, http.StatusInternalServerError)

	n, err := NewNotifier(HassConfig{Host: srv.URL}, nil)
	require.NoError(t, err)

	err = n.Notify(context.Background(), Notification{CameraName: "Garage", EventTime: detectedAt})
	require.Error(t, err)

	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, http.StatusInternalServerError, nerr.StatusCode)
}

func TestNotifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.URL
	srv.Close()

	n, err := NewNotifier(HassConfig{Host: host, Timeout: time.Second}, nil)
	require.NoError(t, err)

	err = n.Notify(context.Background(), Notification{CameraName: "Garage"})
	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "post", nerr.Op)
	assert.Zero(t, nerr.StatusCode)
}
