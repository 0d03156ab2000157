package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// filipinoMarkers are high-frequency Filipino function words. Two or more
// hits in a phrase is a strong signal for the heuristic detector.
var filipinoMarkers = []string{"ang", "ng", "mga", "sa", "at", "ay", "ko", "mo", "po", "ito"}

// heuristicDetector classifies text by script and marker words. It is the
// offline fallback and never fails; unknown text classifies as the default.
type heuristicDetector struct {
	defaultLang string
}

// NewHeuristicDetector returns the script-based detector. defaultLang is
// returned when no script or marker matches.
func NewHeuristicDetector(defaultLang string) Detector {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return &heuristicDetector{defaultLang: defaultLang}
}

func (h *heuristicDetector) Detect(_ context.Context, text string) (string, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return h.defaultLang, nil
	}

	runes := []rune(text)
	hangul := 0
	for _, r := range runes {
		if r >= 0xAC00 && r <= 0xD7A3 {
			hangul++
		}
	}
	if float64(hangul)/float64(len(runes)) > 0.3 {
		return "ko", nil
	}

	hits := 0
	for _, word := range strings.Fields(text) {
		for _, marker := range filipinoMarkers {
			if word == marker {
				hits++
				break
			}
		}
	}
	if hits >= 2 {
		return "tl", nil
	}
	return h.defaultLang, nil
}

// execDetector shells out to an external classifier command (fastText
// style): text on stdin, a JSON {"language": "xx"} response on stdout.
// Codes outside supported map to the fallback, mirroring how classifier
// labels like fil/kor/eng are normalized first.
type execDetector struct {
	command   string
	supported []string
	fallback  string
}

var detectorLabelAliases = map[string]string{
	"fil": "tl",
	"kor": "ko",
	"eng": "en",
}

// NewExecDetector returns a Detector backed by an external command.
func NewExecDetector(command string, supported []string, fallback string) Detector {
	return &execDetector{command: command, supported: supported, fallback: fallback}
}

type execDetectResponse struct {
	Language string `json:"language"`
	Error    string `json:"error,omitempty"`
}

func (e *execDetector) Detect(ctx context.Context, text string) (string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(e.command)
	if err != nil {
		return "", fmt.Errorf("parse detect command: %w", err)
	}
	if len(args) == 0 {
		return "", fmt.Errorf("detect command empty")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(strings.ReplaceAll(text, "\n", " "))
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("detect command failed: %w", err)
	}

	var resp execDetectResponse
	if err := json.Unmarshal(bytes.TrimSpace(out), &resp); err != nil {
		return "", fmt.Errorf("decode detect response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("detect command failed: %s", resp.Error)
	}

	code := strings.ToLower(strings.TrimSpace(resp.Language))
	if alias, ok := detectorLabelAliases[code]; ok {
		code = alias
	}
	for _, s := range e.supported {
		if code == s {
			return code, nil
		}
	}
	return e.fallback, nil
}
