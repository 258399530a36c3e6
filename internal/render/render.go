// Package render writes API payloads for people to read.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Formats accepted by Write.
const (
	JSON = "json"
	YAML = "yaml"
)

// Write renders raw in the given format. JSON is indented two spaces.
// YAML keeps the key order of the source document.
func Write(w io.Writer, raw json.RawMessage, format string) error {
	switch format {
	case JSON, "":
		return writeJSON(w, raw)
	case YAML:
		return writeYAML(w, raw)
	}

	return fmt.Errorf("unknown output format %q", format)
}

func writeJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("formatting json: %w", err)
	}

	buf.WriteByte('\n')

	_, err := buf.WriteTo(w)

	return err
}

func writeYAML(w io.Writer, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return fmt.Errorf("formatting yaml: payload is not valid json")
	}

	// JSON is a subset of YAML, so the parser builds a node tree with
	// the original key order. Flow styles are then reset to block.
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("formatting yaml: %w", err)
	}

	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("formatting yaml: %w", err)
	}

	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0

	for _, child := range n.Content {
		blockStyle(child)
	}
}
