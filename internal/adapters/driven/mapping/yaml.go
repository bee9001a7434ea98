// Package mapping loads the order-to-invoice field mapping from YAML.
package mapping

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

// Ensure Mapper implements FieldMapper
var _ driven.FieldMapper = (*Mapper)(nil)

// ErrInvalidMapping is returned for a mapping file that cannot be used
var ErrInvalidMapping = errors.New("invalid field mapping")

// document is the on-disk shape:
//
//	fields:
//	  po_number: purchase_order
//	  gift_message: notes
type document struct {
	Fields map[string]string `yaml:"fields"`
}

// Mapper is an immutable local-to-remote field table.
type Mapper struct {
	fields map[string]string
	names  []string
}

// LoadFile reads a mapping file. A missing file yields an empty mapper.
func LoadFile(path string) (*Mapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a mapping document.
func Parse(data []byte) (*Mapper, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	seen := make(map[string]string, len(doc.Fields))
	for local, remote := range doc.Fields {
		local, remote = strings.TrimSpace(local), strings.TrimSpace(remote)
		if local == "" || remote == "" {
			return nil, fmt.Errorf("%w: empty field name in %q: %q", ErrInvalidMapping, local, remote)
		}
		if prev, dup := seen[remote]; dup {
			return nil, fmt.Errorf("%w: %q and %q both map to %q", ErrInvalidMapping, prev, local, remote)
		}
		seen[remote] = local
	}
	return New(doc.Fields), nil
}

// New builds a mapper from a ready table.
func New(fields map[string]string) *Mapper {
	m := &Mapper{fields: make(map[string]string, len(fields))}
	for local, remote := range fields {
		local, remote = strings.TrimSpace(local), strings.TrimSpace(remote)
		m.fields[local] = remote
		m.names = append(m.names, local)
	}
	sort.Strings(m.names)
	return m
}

// Resolve returns the remote field for localField.
func (m *Mapper) Resolve(localField string) (string, bool) {
	remote, ok := m.fields[localField]
	return remote, ok
}

// Fields lists mapped local fields in sorted order.
func (m *Mapper) Fields() []string {
	return append([]string(nil), m.names...)
}
