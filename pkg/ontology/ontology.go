// Package ontology maps entities to external classification codes. The
// classifier backs the promotion gate's domain-validation criterion and
// nothing else.
package ontology

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// CodeUnknown is returned when no classification exists for an entity.
const CodeUnknown = "unknown"

// Classifier resolves an entity to a recognized external code.
type Classifier interface {
	Classify(ctx context.Context, normalizedName, entityType string) (string, error)
}

// StaticClassifier answers every query with the same code. The zero-value
// variant (empty code) classifies nothing, which disables domain validation
// in dev setups without an ontology table.
type StaticClassifier struct {
	Code string
}

func (s StaticClassifier) Classify(ctx context.Context, normalizedName, entityType string) (string, error) {
	if s.Code == "" {
		return CodeUnknown, nil
	}
	return s.Code, nil
}

// Entry is one row of the code table.
type Entry struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Code string `yaml:"code"`
}

type tableFile struct {
	Entries []Entry `yaml:"entries"`
}

// TableClassifier looks codes up in an in-memory table loaded from YAML,
// keyed by (normalized name, entity type). Type matching is exact; name
// matching expects the caller to pass an already-normalized name.
type TableClassifier struct {
	mu    sync.RWMutex
	codes map[string]string
}

// NewTableClassifier builds a classifier from entries already in hand.
func NewTableClassifier(entries []Entry) *TableClassifier {
	c := &TableClassifier{codes: make(map[string]string, len(entries))}
	for _, e := range entries {
		c.codes[tableKey(e.Name, e.Type)] = e.Code
	}
	return c
}

// LoadTableClassifier reads a YAML code table from disk.
//
// The expected shape is:
//
//	entries:
//	  - name: aspirin
//	    type: Drug
//	    code: ATC:B01AC06
func LoadTableClassifier(path string) (*TableClassifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ontology: read code table: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("ontology: parse code table: %w", err)
	}

	for i, e := range file.Entries {
		if e.Name == "" || e.Type == "" || e.Code == "" {
			return nil, fmt.Errorf("ontology: entry %d incomplete: name=%q type=%q code=%q",
				i, e.Name, e.Type, e.Code)
		}
	}
	return NewTableClassifier(file.Entries), nil
}

// Classify implements Classifier.
func (c *TableClassifier) Classify(ctx context.Context, normalizedName, entityType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return CodeUnknown, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if code, ok := c.codes[tableKey(normalizedName, entityType)]; ok {
		return code, nil
	}
	return CodeUnknown, nil
}

// Len reports the number of loaded codes.
func (c *TableClassifier) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.codes)
}

func tableKey(name, typ string) string {
	return strings.ToLower(name) + "|" + typ
}

var (
	_ Classifier = (*TableClassifier)(nil)
	_ Classifier = StaticClassifier{}
)
