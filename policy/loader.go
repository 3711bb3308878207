package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type document struct {
	ID         string      `yaml:"id"`
	Assertions []Assertion `yaml:"assertions"`
}

// ParseYAML parses a policy document
func ParseYAML(data []byte) (*Policy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return New(doc.ID, doc.Assertions...)
}

// LoadYAML reads and parses a policy document from path
func LoadYAML(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}
