package overpass

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Category describes one POI category: how to query it upstream and how to
// present its results. The table is plain configuration, injected into the
// client at construction so tests and deployments can substitute it.
type Category struct {
	// Display is the human-readable name ("Gas Stations").
	Display string `yaml:"display"`
	// DefaultName labels candidates that carry no name tag.
	DefaultName string `yaml:"defaultName"`
	// Query is the Overpass QL statement list with {south},{west},{north},{east}
	// bounding-box placeholders.
	Query string `yaml:"query"`
}

//go:embed categories.yaml
var defaultCategoriesYAML []byte

type categoryFile struct {
	Categories map[string]Category `yaml:"categories"`
}

// DefaultCategories returns the built-in category table.
func DefaultCategories() map[string]Category {
	cats, err := parseCategories(defaultCategoriesYAML)
	if err != nil {
		// The embedded table is validated by tests; a parse failure here is
		// a build defect.
		panic(fmt.Sprintf("overpass: embedded category table invalid: %v", err))
	}
	return cats
}

// LoadCategories reads a category table from path, or the embedded default
// when path is empty.
func LoadCategories(path string) (map[string]Category, error) {
	if path == "" {
		return DefaultCategories(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category config: %w", err)
	}
	return parseCategories(data)
}

func parseCategories(data []byte) (map[string]Category, error) {
	var f categoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse category config: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("category config defines no categories")
	}
	for name, c := range f.Categories {
		if c.Query == "" {
			return nil, fmt.Errorf("category %q has no query", name)
		}
	}
	return f.Categories, nil
}

// CategoryNames returns the table's keys in sorted order.
func CategoryNames(cats map[string]Category) []string {
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
