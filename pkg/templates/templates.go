// Package templates reads and writes workflow template documents in YAML or JSON.
package templates

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/handoff/pkg/models"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

var (
	//go:embed schema.json
	documentSchema []byte

	//go:embed demo.yaml
	demoTemplate []byte

	schemaLoader = gojsonschema.NewBytesLoader(documentSchema)

	ErrInvalidDocument = errors.New("invalid template document")
)

// DocumentError lists the schema violations of a template document.
type DocumentError struct {
	Problems []string
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidDocument, strings.Join(e.Problems, "; "))
}

func (e *DocumentError) Is(target error) bool {
	return target == ErrInvalidDocument
}

// Parse decodes a YAML or JSON template document. JSON is a subset of YAML, so both go through
// the YAML decoder before the document is checked against the template schema.
func Parse(data []byte) (*models.WorkflowTemplate, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("failed to parse template document: %w", err)
	}

	if document == nil {
		return nil, &DocumentError{Problems: []string{"document is empty"}}
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to validate template document: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, &DocumentError{Problems: problems}
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template document: %w", err)
	}

	var template models.WorkflowTemplate
	if err := json.Unmarshal(raw, &template); err != nil {
		return nil, fmt.Errorf("failed to decode template document: %w", err)
	}

	return &template, nil
}

// Load reads a template document from disk.
func Load(path string) (*models.WorkflowTemplate, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	return Parse(data)
}

// Marshal encodes a template as YAML, or as indented JSON when format is "json". Timestamps and
// template ids of nodes are left out so the document can be imported elsewhere.
func Marshal(template *models.WorkflowTemplate, format string) ([]byte, error) {
	raw, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template: %w", err)
	}

	var document map[string]any
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, err
	}

	delete(document, "created_at")
	delete(document, "updated_at")

	for _, key := range []string{"nodes", "connections"} {
		items, _ := document[key].([]any)
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				delete(m, "template_id")
			}
		}
	}

	if format == "json" {
		return json.MarshalIndent(document, "", "  ")
	}

	var buf bytes.Buffer

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(document); err != nil {
		return nil, fmt.Errorf("failed to encode template YAML: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// FormatFor picks the document format from a file extension.
func FormatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json"
	}

	return "yaml"
}

// Demo returns the bundled design-to-release template.
func Demo() *models.WorkflowTemplate {
	template, err := Parse(demoTemplate)
	if err != nil {
		panic(fmt.Sprintf("bundled demo template is invalid: %v", err))
	}

	return template
}
