// Package credential loads the pool of account credentials that are exchanged
// for tokens.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Credential is a single account identity and its secret.
type Credential struct {
	Identity string
	Secret   string
}

// LoadError reports that the credential source could not be read or was not a
// list of entries. Individual bad entries do not produce a LoadError.
type LoadError struct {
	Path  string
	Cause error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("credentials %s could not be loaded: %v", e.Path, e.Cause)
}

func (e LoadError) Unwrap() error {
	return e.Cause
}

// Source reads credentials from a file on each call to Load, so edits to the
// file are picked up on the next refresh.
type Source struct {
	Path string
}

func NewSource(path string) Source {
	return Source{Path: path}
}

// Load returns the valid credentials in the file. Any failure to read the file
// as a whole is logged and results in an empty set.
func (s Source) Load(ctx context.Context) []Credential {
	creds, err := LoadFile(s.Path)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("path", s.Path).Msg("credential load failed, continuing with no credentials")
		return nil
	}

	log.Ctx(ctx).Info().Int("count", len(creds)).Str("path", s.Path).Msg("credentials loaded")

	return creds
}

// LoadFile reads and parses the credentials file at path. Files with a .yaml
// or .yml extension are parsed as YAML; anything else is parsed as JSON, with
// comments and trailing commas allowed.
func LoadFile(path string) ([]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, LoadError{Path: path, Cause: err}
	}

	var creds []Credential
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		creds, err = ParseYAML(data)
	default:
		creds, err = ParseJSON(data)
	}
	if err != nil {
		return nil, LoadError{Path: path, Cause: err}
	}

	return creds, nil
}

// ParseJSON parses a JSON list of {"uid": ..., "password": ...} objects. The
// uid may be a string or a number.
func ParseJSON(data []byte) ([]Credential, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("expected a list of credential entries: %w", err)
	}

	entries := make([]entry, 0, len(raw))
	for i, r := range raw {
		var e entry
		if err := json.Unmarshal(r, &e); err != nil {
			log.Warn().Int("index", i).Err(err).Msg("invalid credential entry skipped")
			continue
		}
		e.index = i
		entries = append(entries, e)
	}

	return collect(entries), nil
}

// ParseYAML parses a YAML sequence of uid/password mappings.
func ParseYAML(data []byte) ([]Credential, error) {
	var raw []yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("expected a list of credential entries: %w", err)
	}

	entries := make([]entry, 0, len(raw))
	for i, r := range raw {
		var e entry
		if err := r.Decode(&e); err != nil {
			log.Warn().Int("index", i).Err(err).Msg("invalid credential entry skipped")
			continue
		}
		e.index = i
		entries = append(entries, e)
	}

	return collect(entries), nil
}

// collect validates entries and drops those missing a field. A repeated uid
// keeps the position of its first appearance and the secret of its last.
func collect(entries []entry) []Credential {
	creds := make([]Credential, 0, len(entries))
	positions := make(map[string]int, len(entries))

	for _, e := range entries {
		if e.UID == "" || e.Password == "" {
			log.Warn().Int("index", e.index).Str("uid", string(e.UID)).Msg("invalid credential entry skipped: uid and password are required")
			continue
		}

		c := Credential{Identity: string(e.UID), Secret: e.Password}
		if pos, seen := positions[c.Identity]; seen {
			creds[pos] = c
			continue
		}

		positions[c.Identity] = len(creds)
		creds = append(creds, c)
	}

	return creds
}

type entry struct {
	UID      identity `json:"uid" yaml:"uid"`
	Password string   `json:"password" yaml:"password"`
	index    int
}

// identity accepts either a string or a numeric scalar.
type identity string

func (id *identity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = identity(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("uid must be a string or a number")
	}
	*id = identity(n.String())
	return nil
}

func (id *identity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.New("uid must be a scalar")
	}
	if node.Tag == "!!null" {
		return nil
	}
	*id = identity(strings.TrimSpace(node.Value))
	return nil
}
