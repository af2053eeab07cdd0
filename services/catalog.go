package services

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"smm-telegram/models"

	"github.com/shopspring/decimal"
)

// Catalog is the read-only service catalog: platform -> category -> services.
type Catalog struct {
	tree      map[models.Platform]map[string][]*models.ServiceEntry
	byID      map[int]*models.ServiceEntry
	platforms []models.Platform
}

// catalogEntry is the on-disk shape. Pointers distinguish missing from zero.
type catalogEntry struct {
	Name            *string          `json:"name"`
	UnitCost        *decimal.Decimal `json:"wholesale_unit_cost"`
	MinQuantity     *int             `json:"min_quantity"`
	MaxQuantity     *int             `json:"max_quantity"`
	Notes           *string          `json:"notes,omitempty"`
	APIServiceID    int              `json:"api_service_id,omitempty"`
	PackageQuantity int              `json:"package_quantity,omitempty"`
	ManagerAccess   bool             `json:"manager_access,omitempty"`
}

type catalogDocument map[string]map[string][]catalogEntry

// LoadCatalog reads and validates the catalog file at path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CatalogError{Reason: fmt.Sprintf("open %s: %v", path, err)}
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var doc catalogDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &CatalogError{Reason: "decode: " + err.Error()}
	}
	if len(doc) == 0 {
		return nil, &CatalogError{Reason: "no platforms"}
	}

	c := &Catalog{
		tree: make(map[models.Platform]map[string][]*models.ServiceEntry),
		byID: make(map[int]*models.ServiceEntry),
	}
	nextID := 1
	for _, pname := range sortedKeys(doc) {
		platform := models.Platform(pname)
		if !platform.Valid() {
			return nil, &CatalogError{Entry: pname, Reason: "unknown platform"}
		}
		cats := doc[pname]
		if len(cats) == 0 {
			return nil, &CatalogError{Entry: pname, Reason: "no categories"}
		}
		c.tree[platform] = make(map[string][]*models.ServiceEntry)
		c.platforms = append(c.platforms, platform)
		for _, cat := range sortedKeys(cats) {
			seen := make(map[string]bool)
			for i, raw := range cats[cat] {
				e, err := raw.toEntry(platform, cat, i)
				if err != nil {
					return nil, err
				}
				if seen[e.Name] {
					return nil, &CatalogError{Entry: e.Key(), Reason: "duplicate service name"}
				}
				seen[e.Name] = true
				e.ID = nextID
				nextID++
				c.tree[platform][cat] = append(c.tree[platform][cat], e)
				c.byID[e.ID] = e
			}
			if len(c.tree[platform][cat]) == 0 {
				return nil, &CatalogError{Entry: pname + "/" + cat, Reason: "no services"}
			}
		}
	}
	return c, nil
}

func (raw catalogEntry) toEntry(p models.Platform, cat string, idx int) (*models.ServiceEntry, error) {
	where := fmt.Sprintf("%s/%s[%d]", p, cat, idx)
	if raw.Name == nil || *raw.Name == "" {
		return nil, &CatalogError{Entry: where, Reason: "name is required"}
	}
	where = fmt.Sprintf("%s/%s/%s", p, cat, *raw.Name)
	switch {
	case raw.UnitCost == nil:
		return nil, &CatalogError{Entry: where, Reason: "wholesale_unit_cost is required"}
	case !raw.UnitCost.IsPositive():
		return nil, &CatalogError{Entry: where, Reason: "wholesale_unit_cost must be positive"}
	case raw.MinQuantity == nil:
		return nil, &CatalogError{Entry: where, Reason: "min_quantity is required"}
	case raw.MaxQuantity == nil:
		return nil, &CatalogError{Entry: where, Reason: "max_quantity is required"}
	case *raw.MinQuantity < 1:
		return nil, &CatalogError{Entry: where, Reason: "min_quantity must be at least 1"}
	case *raw.MinQuantity > *raw.MaxQuantity:
		return nil, &CatalogError{Entry: where, Reason: fmt.Sprintf("min_quantity %d > max_quantity %d", *raw.MinQuantity, *raw.MaxQuantity)}
	case raw.PackageQuantity < 0:
		return nil, &CatalogError{Entry: where, Reason: "package_quantity must not be negative"}
	case raw.PackageQuantity > 0 && (raw.PackageQuantity < *raw.MinQuantity || raw.PackageQuantity > *raw.MaxQuantity):
		return nil, &CatalogError{Entry: where, Reason: "package_quantity outside min/max"}
	}
	e := &models.ServiceEntry{
		Platform:        p,
		Category:        cat,
		Name:            *raw.Name,
		UnitCost:        *raw.UnitCost,
		MinQuantity:     *raw.MinQuantity,
		MaxQuantity:     *raw.MaxQuantity,
		APIServiceID:    raw.APIServiceID,
		PackageQuantity: raw.PackageQuantity,
		ManagerAccess:   raw.ManagerAccess,
	}
	if raw.Notes != nil {
		e.Notes = *raw.Notes
	}
	return e, nil
}

// Lookup finds a service by platform, category and name.
func (c *Catalog) Lookup(platform models.Platform, category, name string) (*models.ServiceEntry, error) {
	for _, e := range c.tree[platform][category] {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("service %s/%s/%s: %w", platform, category, name, ErrNotFound)
}

func (c *Catalog) ByID(id int) (*models.ServiceEntry, error) {
	e, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("service id %d: %w", id, ErrNotFound)
	}
	return e, nil
}

func (c *Catalog) Platforms() []models.Platform {
	return c.platforms
}

func (c *Catalog) HasPlatform(p models.Platform) bool {
	_, ok := c.tree[p]
	return ok
}

func (c *Catalog) Categories(p models.Platform) []string {
	return sortedKeys(c.tree[p])
}

// CategoryAt returns the i-th category of p in Categories order. Category
// buttons carry the index because names may not fit in callback data.
func (c *Catalog) CategoryAt(p models.Platform, i int) (string, bool) {
	cats := c.Categories(p)
	if i < 0 || i >= len(cats) {
		return "", false
	}
	return cats[i], true
}

func (c *Catalog) HasCategory(p models.Platform, category string) bool {
	_, ok := c.tree[p][category]
	return ok
}

func (c *Catalog) Services(p models.Platform, category string) []*models.ServiceEntry {
	return c.tree[p][category]
}

// All returns every entry in ID order.
func (c *Catalog) All() []*models.ServiceEntry {
	out := make([]*models.ServiceEntry, 0, len(c.byID))
	for id := 1; id <= len(c.byID); id++ {
		out = append(out, c.byID[id])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
