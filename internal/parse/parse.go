// Package parse reads version documents: plain contract text, text with
// YAML front matter, or a JSON object carrying the text and its metadata.
package parse

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is one parsed version file
type Document struct {
	SourceID    *string    `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty" yaml:"submitted_at,omitempty"`
	Text        string     `json:"text" yaml:"-"`
}

// Format represents supported input formats
type Format string

const (
	FormatJSON        Format = "json"
	FormatFrontMatter Format = "md"
	FormatText        Format = "text"
)

// DetectFormat picks the format of data. Contract text is frequently valid
// YAML, so only front matter or a JSON object with a "text" key count as
// structured input.
func DetectFormat(data []byte) Format {
	text := string(data)
	if strings.HasPrefix(text, "---\n") || strings.HasPrefix(text, "---\r\n") {
		return FormatFrontMatter
	}
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err == nil {
			if _, ok := probe["text"]; ok {
				return FormatJSON
			}
		}
	}
	return FormatText
}

// ParseJSON parses a JSON version document
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &doc, nil
}

// ParseFrontMatter splits YAML front matter from the text that follows it.
func ParseFrontMatter(data []byte) (*Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return &Document{Text: text}, nil
	}

	header, body, ok := strings.Cut(text[4:], "\n---\n")
	if !ok {
		if h, found := strings.CutSuffix(text[4:], "\n---"); found {
			header, body = h, ""
		} else {
			return nil, fmt.Errorf("invalid front matter: missing closing ---")
		}
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(header), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse front matter: %w", err)
	}
	doc.Text = strings.TrimLeft(body, "\n")
	return &doc, nil
}

// Parse parses a version document in format, auto-detecting when format
// is empty.
func Parse(data []byte, format string) (*Document, error) {
	f := Format(format)
	if f == "" {
		f = DetectFormat(data)
	}

	switch f {
	case FormatJSON:
		return ParseJSON(data)
	case FormatFrontMatter, "markdown":
		return ParseFrontMatter(data)
	case FormatText, "txt":
		return &Document{Text: string(data)}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
