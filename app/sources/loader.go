package sources

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/medwire/medwire/app/scraper"
)

// Definition is one source described in a YAML file under the sources
// directory. The slug is derived from the filename.
type Definition struct {
	Slug    string         `yaml:"-"`
	Name    string         `yaml:"name"`
	URL     string         `yaml:"url"`
	Kind    string         `yaml:"kind"`
	Active  bool           `yaml:"active"`
	Adapter map[string]any `yaml:"adapter"`
}

// AdapterConfigJSON serializes the adapter section for storage on the
// source row.
func (d *Definition) AdapterConfigJSON() ([]byte, error) {
	if len(d.Adapter) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Adapter)
}

// Loader reads and caches source definitions from a directory of YAML
// files, one file per source.
type Loader struct {
	dir   string
	cache map[string]*Definition
	mu    sync.RWMutex
}

func NewLoader(dir string) *Loader {
	return &Loader{
		dir:   dir,
		cache: make(map[string]*Definition),
	}
}

// Run loads every *.yml file in the directory. A missing directory is not
// an error; the system can run entirely on database-managed sources.
func (l *Loader) Run() error {
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		fileName := filepath.Base(file)
		slug := fileName[:len(fileName)-4]

		definition, err := l.load(slug, file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Source definition loaded", "source", slug, "kind", definition.Kind, "active", definition.Active)
	}

	return nil
}

func (l *Loader) load(slug, file string) (*Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var definition Definition
	if err := yaml.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	definition.Slug = slug
	if definition.Kind == "" {
		definition.Kind = scraper.KindFeed
	}

	if err := validate(&definition); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[slug] = &definition

	return &definition, nil
}

// GetDefinitions returns a copy of the cached definitions.
func (l *Loader) GetDefinitions() map[string]*Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	copied := make(map[string]*Definition, len(l.cache))
	for k, v := range l.cache {
		copied[k] = v
	}
	return copied
}

func validate(definition *Definition) error {
	if definition.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if definition.URL == "" {
		return fmt.Errorf("source URL is required")
	}
	if definition.Kind != scraper.KindFeed && definition.Kind != scraper.KindBrowser {
		return fmt.Errorf("unknown source kind: %q", definition.Kind)
	}
	if _, err := definition.AdapterConfigJSON(); err != nil {
		return fmt.Errorf("adapter config is not serializable: %w", err)
	}
	return nil
}
