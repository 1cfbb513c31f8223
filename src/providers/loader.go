// backend/src/providers/loader.go
package providers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
)

// Registry holds the provider mappings loaded at startup. Adding an exchange
// means dropping a JSON file into the data directory, not changing code.
type Registry struct {
	mappings map[string]*models.ProviderMapping
}

// Load reads every *.json mapping file in dir and validates it. A mapping
// that references an unknown operation kind fails startup loudly instead of
// silently misclassifying rows later.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("providers: reading mapping directory %s: %w", dir, err)
	}

	reg := &Registry{mappings: make(map[string]*models.ProviderMapping)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("providers: reading %s: %w", path, err)
		}
		var mapping models.ProviderMapping
		if err := json.Unmarshal(data, &mapping); err != nil {
			return nil, fmt.Errorf("providers: parsing %s: %w", path, err)
		}
		if err := validate(&mapping); err != nil {
			return nil, fmt.Errorf("providers: invalid mapping %s: %w", path, err)
		}
		reg.mappings[mapping.Provider] = &mapping
		logger.L.Info("loaded provider mapping",
			"provider", mapping.Provider,
			"operations", len(mapping.Operations),
			"file", entry.Name())
	}
	if len(reg.mappings) == 0 {
		return nil, fmt.Errorf("providers: no mapping files found in %s", dir)
	}
	return reg, nil
}

func validate(m *models.ProviderMapping) error {
	if m.Provider == "" {
		return fmt.Errorf("missing provider name")
	}
	if len(m.Operations) == 0 {
		return fmt.Errorf("no operations declared")
	}
	for label, kind := range m.Operations {
		if !kind.Valid() {
			return fmt.Errorf("operation %q maps to unknown kind %q", label, kind)
		}
	}
	return nil
}

// Get returns the mapping for a provider name, or an error naming the
// providers that are available.
func (r *Registry) Get(provider string) (*models.ProviderMapping, error) {
	m, ok := r.mappings[provider]
	if !ok {
		return nil, fmt.Errorf("providers: no mapping for %q (available: %s)", provider, strings.Join(r.Names(), ", "))
	}
	return m, nil
}

// Names lists the loaded provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.mappings))
	for name := range r.mappings {
		names = append(names, name)
	}
	return names
}
