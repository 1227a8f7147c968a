package bindings

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"modelgate/internal/core"
)

// fileBinding is the YAML representation of one binding.
type fileBinding struct {
	ID                 string   `yaml:"id"`
	Key                string   `yaml:"key"`
	Name               string   `yaml:"name"`
	Kind               string   `yaml:"kind"`
	BaseURL            string   `yaml:"base_url"`
	APIKey             string   `yaml:"api_key"`
	APIKeyEnv          string   `yaml:"api_key_env"`
	WireMode           string   `yaml:"wire_mode"`
	SupportsReasoning  bool     `yaml:"supports_reasoning"`
	PriceInputPerMtok  *float64 `yaml:"price_input_per_mtok"`
	PriceOutputPerMtok *float64 `yaml:"price_output_per_mtok"`
	Currency           string   `yaml:"currency"`
}

// fileDoc is the YAML document root.
type fileDoc struct {
	Bindings []fileBinding `yaml:"bindings"`
}

// FileStore implements resolver.BindingStore over a YAML file. The file is
// re-read on every lookup so edits take effect on the next request, matching
// the per-request load semantics of the SQLite store. Intended for local and
// development setups where the file is small.
type FileStore struct {
	path string
}

// NewFileStore creates a store over the given YAML path. The file is
// validated once up front so misconfiguration fails at startup.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() ([]core.ModelBinding, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bindings file %s: %w", s.path, err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse bindings file %s: %w", s.path, err)
	}

	out := make([]core.ModelBinding, 0, len(doc.Bindings))
	for i, fb := range doc.Bindings {
		b, err := fb.toBinding()
		if err != nil {
			return nil, fmt.Errorf("bindings file %s entry %d: %w", s.path, i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (fb fileBinding) toBinding() (core.ModelBinding, error) {
	kind := core.BindingKind(fb.Kind)
	if !kind.Valid() {
		return core.ModelBinding{}, fmt.Errorf("unknown kind %q", fb.Kind)
	}

	apiKey := fb.APIKey
	if apiKey == "" && fb.APIKeyEnv != "" {
		apiKey = os.Getenv(fb.APIKeyEnv)
	}

	wireMode := core.WireMode(fb.WireMode)
	if wireMode == "" {
		wireMode = core.WireModeAuto
	}

	currency := fb.Currency
	if currency == "" {
		currency = "USD"
	}

	return core.ModelBinding{
		ID:                 fb.ID,
		Key:                fb.Key,
		Name:               fb.Name,
		Kind:               kind,
		BaseURL:            fb.BaseURL,
		APIKey:             apiKey,
		WireMode:           wireMode,
		SupportsReasoning:  fb.SupportsReasoning,
		PriceInputPerMtok:  fb.PriceInputPerMtok,
		PriceOutputPerMtok: fb.PriceOutputPerMtok,
		Currency:           currency,
	}, nil
}

// GetByID looks up a binding by its primary identifier.
func (s *FileStore) GetByID(ctx context.Context, id string) (*core.ModelBinding, error) {
	return s.find(func(b *core.ModelBinding) bool { return b.ID == id })
}

// GetByKey looks up a binding by its logical key.
func (s *FileStore) GetByKey(ctx context.Context, key string) (*core.ModelBinding, error) {
	return s.find(func(b *core.ModelBinding) bool { return b.Key == key })
}

// GetByName looks up a binding by its backend model name.
func (s *FileStore) GetByName(ctx context.Context, name string) (*core.ModelBinding, error) {
	return s.find(func(b *core.ModelBinding) bool { return b.Name == name })
}

func (s *FileStore) find(match func(*core.ModelBinding) bool) (*core.ModelBinding, error) {
	list, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if match(&list[i]) {
			return &list[i], nil
		}
	}
	return nil, nil
}
