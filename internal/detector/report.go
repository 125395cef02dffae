package detector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const (
	DefaultLabel     = "person"
	DefaultThreshold = 80
)

// Decision is the outcome of evaluating one report.
type Decision struct {
	Detected   bool
	Confidence int // confidence of the qualifying line, zero when not detected
	Line       int // 1-based report line of the qualifying match
}

// ReportParseError is returned when a line matches the label but its
// percentage cannot be read.
type ReportParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ReportParseError) Error() string {
	return fmt.Sprintf("report line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ReportParseError) Unwrap() error { return e.Err }

// Evaluator scans detection reports for a label above a confidence threshold.
type Evaluator struct {
	Label     string
	Threshold int
	logger    *zap.Logger
}

// NewEvaluator returns an Evaluator; an empty label means DefaultLabel. The
// threshold is used as given, so 0 accepts any positive confidence.
func NewEvaluator(label string, threshold int, logger *zap.Logger) *Evaluator {
	if label == "" {
		label = DefaultLabel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{Label: label, Threshold: threshold, logger: logger}
}

// EvaluateFile opens the report at path and evaluates it.
func (e *Evaluator) EvaluateFile(path string) (Decision, error) {
	f, err := os.Open(path)
	if err != nil {
		return Decision{}, err
	}
	defer f.Close()
	return e.Evaluate(f)
}

// Evaluate returns the first matching line whose confidence is strictly above
// the threshold, in report order. Matches at or below the threshold are
// logged as false alarms and scanning continues.
func (e *Evaluator) Evaluate(r io.Reader) (Decision, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()

		conf, matched, err := e.match(text)
		if err != nil {
			return Decision{}, &ReportParseError{Line: lineNo, Text: strings.TrimSpace(text), Err: err}
		}
		if !matched {
			continue
		}

		e.logger.Info("Found "+e.Label+" on result line", zap.String("line", strings.TrimSpace(text)))
		if conf > e.Threshold {
			return Decision{Detected: true, Confidence: conf, Line: lineNo}, nil
		}
		e.logger.Info("False alarm: confidence below threshold",
			zap.Int("confidence", conf),
			zap.Int("threshold", e.Threshold))
	}
	if err := scanner.Err(); err != nil {
		return Decision{}, err
	}
	return Decision{}, nil
}

// match looks for "<label>: <n>%" where label is not the tail of a longer
// word.
func (e *Evaluator) match(line string) (int, bool, error) {
	key := e.Label + ": "
	from := 0
	for {
		i := strings.Index(line[from:], key)
		if i < 0 {
			return 0, false, nil
		}
		i += from
		if i == 0 || !isWordRune(rune(line[i-1])) {
			rest := strings.TrimSpace(line[i+len(key):])
			if f := strings.Fields(rest); len(f) > 0 {
				rest = f[0]
			}
			n, err := strconv.Atoi(strings.TrimSuffix(rest, "%"))
			if err != nil {
				return 0, true, fmt.Errorf("bad confidence %q", rest)
			}
			return n, true, nil
		}
		from = i + len(key)
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
