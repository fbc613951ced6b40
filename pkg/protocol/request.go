package protocol

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyOperation = errors.New("request operation is empty")
	ErrEmptyKey       = errors.New("request key is empty")
)

// Request is the logical command sent to the server
type Request struct {
	Operation string
	Key       string
	Value     string
}

// DefaultRequest returns the demo command: set k3 = v3
func DefaultRequest() Request {
	return Request{
		Operation: "set",
		Key:       "k3",
		Value:     "v3",
	}
}

// Member is the key/value part of a request document
type Member struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Document is the nested form a request takes on the wire:
// {"operation":"set","member":{"key":"k3","value":"v3"}}
type Document struct {
	Operation string `json:"operation" yaml:"operation"`
	Member    Member `json:"member" yaml:"member"`
}

// Validate checks that the request carries an operation and a key
func (r Request) Validate() error {
	if strings.TrimSpace(r.Operation) == "" {
		return ErrEmptyOperation
	}
	if r.Key == "" {
		return ErrEmptyKey
	}
	return nil
}

// Document returns the nested document form of the request
func (r Request) Document() Document {
	return Document{
		Operation: r.Operation,
		Member:    Member{Key: r.Key, Value: r.Value},
	}
}

// Map returns the document form as a generic map for schema encoding
func (r Request) Map() map[string]any {
	return map[string]any{
		"operation": r.Operation,
		"member": map[string]any{
			"key":   r.Key,
			"value": r.Value,
		},
	}
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s=%s", r.Operation, r.Key, r.Value)
}

// requestFile accepts both the flat and the nested document layouts
type requestFile struct {
	Operation string  `yaml:"operation"`
	Key       string  `yaml:"key"`
	Value     string  `yaml:"value"`
	Member    *Member `yaml:"member"`
}

// ParseRequest decodes a YAML or JSON request description
func ParseRequest(data []byte) (Request, error) {
	var rf requestFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return Request{}, fmt.Errorf("invalid request document: %w", err)
	}

	req := Request{Operation: rf.Operation, Key: rf.Key, Value: rf.Value}
	if rf.Member != nil {
		if rf.Key != "" || rf.Value != "" {
			return Request{}, errors.New("request document sets both member and key/value")
		}
		req.Key = rf.Member.Key
		req.Value = rf.Member.Value
	}

	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// LoadRequest reads a request description from a YAML or JSON file
func LoadRequest(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, fmt.Errorf("failed to read request file: %w", err)
	}
	return ParseRequest(data)
}
