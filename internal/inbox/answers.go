package inbox

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldops/preshift/internal/model"
)

// AnswerFile is the YAML form of a completed or corrected check:
//
//	asset_id: fl-07
//	started_at: 2026-05-04T06:12:00Z
//	responses:
//	  - item_id: tires
//	    answer: "NO"
//	    comment: left front worn
//
// A file with event_id edits that pending event instead of submitting a new one.
type AnswerFile struct {
	EventID   string                `yaml:"event_id,omitempty"`
	AssetID   string                `yaml:"asset_id"`
	StartedAt *time.Time            `yaml:"started_at,omitempty"`
	Responses []model.CheckResponse `yaml:"responses"`
}

// IsEdit reports whether the file targets an existing event.
func (a *AnswerFile) IsEdit() bool { return a.EventID != "" }

// IsAnswerFile matches *.yaml and *.yml, ignoring editor temp files.
func IsAnswerFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ParseAnswers decodes and checks an answer document. Unknown keys are errors.
func ParseAnswers(data []byte) (*AnswerFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var a AnswerFile
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("invalid answer file: %w", err)
	}
	if a.AssetID == "" && a.EventID == "" {
		return nil, errors.New("answer file needs asset_id or event_id")
	}
	if len(a.Responses) == 0 {
		return nil, errors.New("answer file has no responses")
	}
	for i := range a.Responses {
		a.Responses[i].Answer = model.Answer(strings.ToUpper(string(a.Responses[i].Answer)))
	}
	return &a, nil
}

// LoadAnswers reads and parses path.
func LoadAnswers(path string) (*AnswerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseAnswers(data)
}
