// Package notification posts detection alerts to a Home Assistant webhook.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	PayloadAttachment = "attachment"
	PayloadImages     = "images"
)

// HassConfig holds Home Assistant notify settings and the public web tree
// notification images are published into.
type HassConfig struct {
	Host          string
	Channel       string
	Token         string
	PublicRoot    string
	PublicBaseURL string
	Payload       string
	Timeout       time.Duration
}

// Notification describes one positive detection.
type Notification struct {
	ImagePath  string // may be empty when no snapshot was found
	CameraName string
	EventTime  time.Time
	VideoURL   string
}

// Error is a failed webhook exchange.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notify %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("notify %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the JSON body posted to the notify service.
type Message struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Notifier posts detections to a Home Assistant notify service.
type Notifier struct {
	config     HassConfig
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNotifier validates config and builds the service endpoint.
func NewNotifier(config HassConfig, logger *zap.Logger) (*Notifier, error) {
	if strings.TrimSpace(config.Host) == "" {
		return nil, fmt.Errorf("home assistant host is required")
	}
	if config.Channel == "" {
		config.Channel = "iOS"
	}
	if config.Payload == "" {
		config.Payload = PayloadAttachment
	}
	if config.Payload != PayloadAttachment && config.Payload != PayloadImages {
		return nil, fmt.Errorf("unknown payload style %q", config.Payload)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	host := strings.TrimRight(config.Host, "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	return &Notifier{
		config:     config,
		endpoint:   host + "/api/services/notify/" + url.PathEscape(config.Channel),
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// Endpoint is the notify service URL.
func (n *Notifier) Endpoint() string { return n.endpoint }

// ImageKey is the public-tree relative name for a notification image.
func ImageKey(cameraName string, eventTime time.Time) string {
	return path.Join("notification_images", eventTime.Format("01"), eventTime.Format("02"),
		eventTime.Format("15_04_05")+"_"+cameraName+".jpg")
}

// Notify publishes the snapshot (when present) and posts the message. Image
// publishing problems are logged and the message goes out without an image.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	var published, imageURL string
	if note.ImagePath != "" {
		var err error
		published, imageURL, err = n.publishImage(note)
		if err != nil {
			n.logger.Warn("Could not publish notification image", zap.String("image", note.ImagePath), zap.Error(err))
		} else {
			n.logger.Info("Copied notification image", zap.String("dest", published), zap.String("url", imageURL))
		}
	}

	msg := n.BuildMessage(note, published, imageURL)
	return n.post(ctx, msg)
}

// BuildMessage assembles the JSON body for the configured payload style.
func (n *Notifier) BuildMessage(note Notification, publishedPath, imageURL string) Message {
	msg := Message{
		Message: "Person detected on camera: " + note.CameraName,
		Data:    map[string]any{},
	}

	switch n.config.Payload {
	case PayloadImages:
		if publishedPath != "" {
			msg.Data["images"] = []string{publishedPath}
		}
	default:
		if imageURL != "" {
			msg.Data["attachment"] = map[string]string{
				"url":            imageURL,
				"content-type":   "jpeg",
				"hide-thumbnail": "false",
			}
		}
	}
	if note.VideoURL != "" {
		msg.Data["url"] = note.VideoURL
	}
	if len(msg.Data) == 0 {
		msg.Data = nil
	}
	return msg
}

// publishImage copies the snapshot into the public tree.
func (n *Notifier) publishImage(note Notification) (dest, link string, err error) {
	if n.config.PublicRoot == "" {
		return "", "", fmt.Errorf("no public root configured")
	}
	key := ImageKey(note.CameraName, note.EventTime)
	dest = filepath.Join(n.config.PublicRoot, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", "", err
	}
	if err := copyReadable(note.ImagePath, dest); err != nil {
		return "", "", err
	}

	if base := strings.TrimRight(n.config.PublicBaseURL, "/"); base != "" {
		link = base + "/" + key
	}
	return dest, link, nil
}

func (n *Notifier) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &Error{Op: "marshal", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-ha-access", n.config.Token)

	n.logger.Info("Sending notification", zap.String("endpoint", n.endpoint))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &Error{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return &Error{Op: "post", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(respBody)))}
	}

	n.logger.Info("Notification sent",
		zap.Int("status", resp.StatusCode),
		zap.String("response", strings.TrimSpace(string(respBody))))
	return nil
}

// copyReadable copies src to dst and leaves dst world-readable so the web
// server can serve it.
func copyReadable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, 0o644)
}
