package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/Evoltonnac/quota-board/pkg/api"
	"github.com/Evoltonnac/quota-board/pkg/log"
)

type (
	// Catalog is the loaded set of source definitions and the
	// integration templates they may reference
	Catalog struct {
		mu           sync.RWMutex
		sources      map[api.SourceID]*api.SourceDefinition
		integrations map[string]*api.IntegrationDefinition
		order        []api.SourceID
	}

	catalogFile struct {
		Sources      []*api.SourceDefinition      `yaml:"sources"`
		Integrations []*api.IntegrationDefinition `yaml:"integrations"`

		// A file may also hold a single bare source definition
		api.SourceDefinition `yaml:",inline"`
	}
)

var (
	ErrSourceID        = errors.New("source definition has no id")
	ErrDuplicateSource = errors.New("duplicate source id")
	ErrBadIntegration  = errors.New("unknown integration")
)

// LoadCatalog reads every .yaml/.yml file under dir and assembles the
// source catalog. Integration templates are applied to the sources that
// reference them, with source-level fields taking precedence
func LoadCatalog(dir string) (*Catalog, error) {
	c := &Catalog{
		sources:      map[api.SourceID]*api.SourceDefinition{},
		integrations: map[string]*api.IntegrationDefinition{},
	}

	files, err := catalogFiles(dir)
	if err != nil {
		return nil, err
	}

	var defs []*api.SourceDefinition
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var file catalogFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		for _, integration := range file.Integrations {
			c.integrations[integration.ID] = integration
		}
		defs = append(defs, file.Sources...)
		if file.SourceDefinition.ID != "" {
			def := file.SourceDefinition
			defs = append(defs, &def)
		}
	}

	for _, def := range defs {
		if err := c.add(def); err != nil {
			return nil, err
		}
	}

	slog.Info("Catalog loaded",
		slog.Int("sources", len(c.order)),
		slog.Int("integrations", len(c.integrations)),
		slog.String("dir", dir))
	return c, nil
}

// Sources returns every source definition in catalog order
func (c *Catalog) Sources() []*api.SourceDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]*api.SourceDefinition, 0, len(c.order))
	for _, id := range c.order {
		res = append(res, c.sources[id])
	}
	return res
}

// EnabledSources returns the sources that are not switched off
func (c *Catalog) EnabledSources() []*api.SourceDefinition {
	var res []*api.SourceDefinition
	for _, def := range c.Sources() {
		if def.IsEnabled() {
			res = append(res, def)
		}
	}
	return res
}

// Source returns the definition for a source id
func (c *Catalog) Source(id api.SourceID) (*api.SourceDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.sources[id]
	return def, ok
}

// Integration returns the template for an integration id
func (c *Catalog) Integration(id string) (*api.IntegrationDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	integration, ok := c.integrations[id]
	return integration, ok
}

func (c *Catalog) add(def *api.SourceDefinition) error {
	// Ids from hand-written YAML get normalized so they are safe in
	// redis keys and URL paths
	def.ID = api.SanitizeID(def.ID)
	if def.ID == "" {
		return fmt.Errorf("%w: %s", ErrSourceID, def.Name)
	}
	if _, ok := c.sources[def.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, def.ID)
	}

	if def.Integration != "" {
		integration, ok := c.integrations[def.Integration]
		if !ok {
			slog.Warn("Source references unknown integration",
				log.SourceID(def.ID),
				slog.String("integration", def.Integration))
		} else if err := applyIntegration(def, integration); err != nil {
			return fmt.Errorf("%w: %s: %w",
				ErrBadIntegration, def.ID, err)
		}
	}

	c.sources[def.ID] = def
	c.order = append(c.order, def.ID)
	return nil
}

// applyIntegration fills the source's empty fields from its integration
// template; anything the source declares itself wins
func applyIntegration(
	def *api.SourceDefinition, integration *api.IntegrationDefinition,
) error {
	template := &api.SourceDefinition{
		Auth: integration.Auth,
		Flow: integration.Flow,
	}
	return mergo.Merge(def, template)
}

func catalogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var res []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			res = append(res, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(res)
	return res, nil
}
