// Package events turns the Unifi Video recording log into recording-completed
// events: Tailer follows the file, Parse decodes a single line.
package events

import (
	"fmt"
	"strings"
	"time"
)

const (
	StopMarker   = "STOPPING"
	MotionMarker = "motionRecording"

	fieldDate      = 1
	fieldClock     = 2
	fieldCamera    = 4
	fieldRecording = 7
	minFields      = fieldRecording + 1

	timeLayout = "2006-01-02 15:04:05"
)

// RecordingCompleted is emitted once a motion-triggered recording has been
// closed by the NVR.
type RecordingCompleted struct {
	CameraID    string
	CameraName  string
	RecordingID string
	EventTime   time.Time
}

// ParseError reports a line that carried both markers but could not be
// decoded.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed recording line (%s): %q", e.Reason, e.Line)
}

// Parser decodes log lines using a fixed timestamp location.
type Parser struct {
	loc *time.Location
}

// NewParser returns a Parser that reads timestamps in loc (time.Local if nil).
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{loc: loc}
}

// IsCandidate reports whether line carries both the stop and motion markers.
func IsCandidate(line string) bool {
	return strings.Contains(line, StopMarker) && strings.Contains(line, MotionMarker)
}

// Parse returns ok=false with a nil error for lines that are not
// recording-completed events, and a *ParseError for candidate lines that are
// malformed.
func (p *Parser) Parse(line string) (ev RecordingCompleted, ok bool, err error) {
	if !IsCandidate(line) {
		return RecordingCompleted{}, false, nil
	}

	fields := strings.Fields(line)
	if len(fields) < minFields {
		return RecordingCompleted{}, false, &ParseError{Line: line, Reason: fmt.Sprintf("expected at least %d fields, got %d", minFields, len(fields))}
	}

	ev.CameraID, ev.CameraName, err = parseCamera(fields[fieldCamera])
	if err != nil {
		return RecordingCompleted{}, false, &ParseError{Line: line, Reason: err.Error()}
	}

	_, recID, found := strings.Cut(fields[fieldRecording], ":")
	recID = strings.TrimSpace(recID)
	if !found || recID == "" {
		return RecordingCompleted{}, false, &ParseError{Line: line, Reason: "missing recording id"}
	}
	ev.RecordingID = recID

	ev.EventTime, err = p.parseTime(fields[fieldDate], fields[fieldClock])
	if err != nil {
		return RecordingCompleted{}, false, &ParseError{Line: line, Reason: err.Error()}
	}

	return ev, true, nil
}

// parseCamera decodes "Camera[<id>|<name>]"; anything before '[' is ignored.
func parseCamera(token string) (id, name string, err error) {
	open := strings.IndexByte(token, '[')
	end := strings.LastIndexByte(token, ']')
	if open < 0 || end < open {
		return "", "", fmt.Errorf("camera token %q has no [id|name]", token)
	}
	id, name, found := strings.Cut(token[open+1:end], "|")
	if !found || id == "" || name == "" {
		return "", "", fmt.Errorf("camera token %q is not id|name", token)
	}
	return id, name, nil
}

// parseTime drops fractional seconds and any "/TZ:" suffix from the clock.
func (p *Parser) parseTime(date, clock string) (time.Time, error) {
	if i := strings.IndexAny(clock, "./"); i >= 0 {
		clock = clock[:i]
	}
	clock = strings.TrimSuffix(clock, ":")
	t, err := time.ParseInLocation(timeLayout, date+" "+clock, p.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q %q", date, clock)
	}
	return t, nil
}
