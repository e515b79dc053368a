package library

import (
	"fmt"
	"sort"

	"github.com/thinkscotty/glimpse/internal/models"
)

// Catalog is the image pipeline's read-only view of the summarization output,
// loaded once at startup.
type Catalog struct {
	dir          string
	descriptions Mapping
	summaries    Mapping
}

// OpenCatalog loads descriptions.json and summaries.json from dir. Either
// file may be missing.
func OpenCatalog(dir string) (*Catalog, error) {
	descriptions, err := LoadMapping(MappingPath(dir, models.CategoryDescription))
	if err != nil {
		return nil, fmt.Errorf("load descriptions: %w", err)
	}
	summaries, err := LoadMapping(MappingPath(dir, models.CategorySummary))
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}
	return NewCatalog(dir, descriptions, summaries), nil
}

func NewCatalog(dir string, descriptions, summaries Mapping) *Catalog {
	if descriptions == nil {
		descriptions = Mapping{}
	}
	if summaries == nil {
		summaries = Mapping{}
	}
	return &Catalog{dir: dir, descriptions: descriptions, summaries: summaries}
}

func (c *Catalog) Dir() string { return c.dir }

// Names returns the selectable filenames: the keys of the description mapping.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.descriptions))
	for name := range c.descriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Description(name string) (string, bool) {
	v, ok := c.descriptions[name]
	return v, ok
}

func (c *Catalog) Summary(name string) (string, bool) {
	v, ok := c.summaries[name]
	return v, ok
}
