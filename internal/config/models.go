package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/specgest/internal/llm"
)

var (
	ErrModelNotFound = errors.New("model not found")
	ErrNoModels      = errors.New("no models configured")
)

// Model is one entry of the LLM registry file.
type Model struct {
	Key       string `yaml:"-" json:"key"`
	APIKey    string `yaml:"API_KEY" json:"api_key"`
	BaseURL   string `yaml:"BASE_URL" json:"base_url"`
	ModelType string `yaml:"MODEL_TYPE" json:"model_type"`
	Provider  string `yaml:"PROVIDER,omitempty" json:"provider,omitempty"`
}

// LLMConfig converts the entry for llm.New.
func (m Model) LLMConfig() llm.Config {
	name := m.ModelType
	if name == "" {
		name = m.Key
	}
	return llm.Config{
		Provider: m.Provider,
		APIKey:   m.APIKey,
		BaseURL:  m.BaseURL,
		Model:    name,
	}
}

// Models is the YAML model registry. Entries keep file order; the first
// entry is the default unless a default key is configured.
type Models struct {
	path       string
	defaultKey string

	mu     sync.RWMutex
	keys   []string
	models map[string]Model
}

// LoadModels reads the registry at path. A missing file is an empty
// registry.
func LoadModels(path, defaultKey string) (*Models, error) {
	m := &Models{path: path, defaultKey: defaultKey, models: make(map[string]Model)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model registry: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse model registry: %w", err)
	}
	if len(root.Content) == 0 {
		return m, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse model registry: top level must be a mapping")
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		var model Model
		if err := doc.Content[i+1].Decode(&model); err != nil {
			return nil, fmt.Errorf("model %s: %w", key, err)
		}
		model.Key = key
		if _, dup := m.models[key]; !dup {
			m.keys = append(m.keys, key)
		}
		m.models[key] = model
	}
	return m, nil
}

// List returns every model in registry order.
func (m *Models) List() []Model {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Model, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.models[k])
	}
	return out
}

func (m *Models) Get(key string) (Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[key]
	return model, ok
}

// DefaultKey is the configured default when it exists, else the first
// entry, else "".
func (m *Models) DefaultKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultKeyLocked()
}

func (m *Models) defaultKeyLocked() string {
	if _, ok := m.models[m.defaultKey]; ok {
		return m.defaultKey
	}
	if len(m.keys) > 0 {
		return m.keys[0]
	}
	return ""
}

// Put adds or replaces a model and saves the file.
func (m *Models) Put(model Model) error {
	if model.Key == "" {
		return errors.New("model key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.models[model.Key]; !ok {
		m.keys = append(m.keys, model.Key)
	}
	m.models[model.Key] = model
	return m.saveLocked()
}

// Delete removes a model and saves the file.
func (m *Models) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.models[key]; !ok {
		return ErrModelNotFound
	}
	delete(m.models, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return m.saveLocked()
}

// Resolve maps a request's model key to its endpoint. An empty key selects
// the default model. It satisfies llm.Lookup.
func (m *Models) Resolve(key string) (string, llm.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if key == "" {
		key = m.defaultKeyLocked()
		if key == "" {
			return "", llm.Config{}, ErrNoModels
		}
	}
	model, ok := m.models[key]
	if !ok {
		return "", llm.Config{}, fmt.Errorf("%w: %s", ErrModelNotFound, key)
	}
	return key, model.LLMConfig(), nil
}

// saveLocked writes the registry in order, through a temp file.
func (m *Models) saveLocked() error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range m.keys {
		var value yaml.Node
		if err := value.Encode(m.models[k]); err != nil {
			return fmt.Errorf("encode model %s: %w", k, err)
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &value)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode model registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write model registry: %w", err)
	}
	return os.Rename(tmp, m.path)
}
