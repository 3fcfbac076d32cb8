package parsing

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed stores.yaml
var defaultStoresYAML []byte

// Store maps a canonical store name to the text fragments that identify it
type Store struct {
	Canonical string   `yaml:"canonical" json:"canonical"`
	Fragments []string `yaml:"fragments" json:"fragments"`
}

// StoreCatalog is an ordered table of known stores
type StoreCatalog struct {
	Stores []Store `yaml:"stores" json:"stores"`
}

// DefaultCatalog returns the built-in store catalog
func DefaultCatalog() StoreCatalog {
	catalog, err := ParseStoreCatalog(defaultStoresYAML)
	if err != nil {
		panic(err)
	}
	return catalog
}

// LoadStoreCatalog reads a store catalog from a YAML file
func LoadStoreCatalog(path string) (StoreCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StoreCatalog{}, fmt.Errorf("reading store catalog: %w", err)
	}
	return ParseStoreCatalog(data)
}

// ParseStoreCatalog decodes a YAML store catalog and normalizes its fragments
func ParseStoreCatalog(data []byte) (StoreCatalog, error) {
	var catalog StoreCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return StoreCatalog{}, fmt.Errorf("unmarshaling store catalog: %w", err)
	}

	stores := make([]Store, 0, len(catalog.Stores))
	for i, store := range catalog.Stores {
		canonical := strings.TrimSpace(store.Canonical)
		if canonical == "" {
			return StoreCatalog{}, fmt.Errorf("store %d has no canonical name", i)
		}

		fragments := make([]string, 0, len(store.Fragments)+1)
		for _, fragment := range store.Fragments {
			fragment = foldText(fragment)
			if fragment != "" {
				fragments = append(fragments, fragment)
			}
		}
		if len(fragments) == 0 {
			fragments = append(fragments, foldText(canonical))
		}

		stores = append(stores, Store{Canonical: canonical, Fragments: fragments})
	}

	return StoreCatalog{Stores: stores}, nil
}

// Identify scans text for a known store fragment and returns its canonical name.
// Returns nil when no store matches.
func (c StoreCatalog) Identify(text string) *string {
	folded := foldText(text)
	if folded == "" {
		return nil
	}
	for _, store := range c.Stores {
		for _, fragment := range store.Fragments {
			if strings.Contains(folded, fragment) {
				name := store.Canonical
				return &name
			}
		}
	}
	return nil
}

// Resolve maps a caller-supplied store hint to a canonical store name.
// The hint may be a canonical name or any text containing a fragment.
func (c StoreCatalog) Resolve(hint string) *string {
	folded := foldText(hint)
	if folded == "" {
		return nil
	}
	for _, store := range c.Stores {
		if folded == foldText(store.Canonical) {
			name := store.Canonical
			return &name
		}
	}
	return c.Identify(hint)
}

// matches reports whether the line mentions any catalog store
func (c StoreCatalog) matches(line string) bool {
	return c.Identify(line) != nil
}

// foldText lowercases text and straightens typographic apostrophes that OCR tends to emit
func foldText(s string) string {
	s = strings.ReplaceAll(s, "’", "'")
	s = strings.ReplaceAll(s, "‘", "'")
	return strings.ToLower(strings.TrimSpace(s))
}
