package services

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smm-telegram/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogJSON = `{
  "Instagram": {
    "Followers": [
      {"name": "Instagram Followers", "wholesale_unit_cost": 0.50, "min_quantity": 100, "max_quantity": 10000, "api_service_id": 101},
      {"name": "Instagram Followers HQ", "wholesale_unit_cost": "0.75", "min_quantity": 50, "max_quantity": 5000, "notes": "Refill 30 days"}
    ],
    "Likes": [
      {"name": "Instagram Likes", "wholesale_unit_cost": 0.10, "min_quantity": 10, "max_quantity": 50000, "api_service_id": 102}
    ]
  },
  "YouTube": {
    "WatchTime": [
      {"name": "YouTube WatchTime 4000h", "wholesale_unit_cost": 2.5, "min_quantity": 1000, "max_quantity": 1000, "package_quantity": 1000, "manager_access": true, "api_service_id": 201}
    ],
    "Views": [
      {"name": "YouTube Views", "wholesale_unit_cost": 0.05, "min_quantity": 100, "max_quantity": 100000, "api_service_id": 202}
    ]
  }
}`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := ParseCatalog(strings.NewReader(testCatalogJSON))
	require.NoError(t, err)
	return c
}

func TestParseCatalog(t *testing.T) {
	c := testCatalog(t)

	assert.Equal(t, []models.Platform{models.PlatformInstagram, models.PlatformYouTube}, c.Platforms())
	assert.Equal(t, []string{"Followers", "Likes"}, c.Categories(models.PlatformInstagram))
	assert.Equal(t, []string{"Views", "WatchTime"}, c.Categories(models.PlatformYouTube))

	followers := c.Services(models.PlatformInstagram, "Followers")
	require.Len(t, followers, 2)
	assert.Equal(t, "Instagram Followers", followers[0].Name, "document order kept")
	assert.Equal(t, "0.5", followers[0].UnitCost.String())
	assert.Equal(t, "", followers[0].Notes)
	assert.Equal(t, "Refill 30 days", followers[1].Notes)

	wt, err := c.Lookup(models.PlatformYouTube, "WatchTime", "YouTube WatchTime 4000h")
	require.NoError(t, err)
	assert.True(t, wt.FixedPackage())
	assert.True(t, wt.ManagerAccess)
	assert.Equal(t, "YouTube/WatchTime/YouTube WatchTime 4000h", wt.Key())

	all := c.All()
	require.Len(t, all, 5)
	for i, e := range all {
		assert.Equal(t, i+1, e.ID)
		got, err := c.ByID(e.ID)
		require.NoError(t, err)
		assert.Same(t, e, got)
	}
}

func TestCatalog_NotFound(t *testing.T) {
	c := testCatalog(t)

	_, err := c.Lookup(models.PlatformInstagram, "Followers", "Nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = c.Lookup(models.PlatformTikTok, "Followers", "Instagram Followers")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = c.ByID(99)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, c.HasPlatform(models.PlatformTikTok))
	assert.False(t, c.HasCategory(models.PlatformInstagram, "Views"))

	cat, ok := c.CategoryAt(models.PlatformYouTube, 1)
	assert.True(t, ok)
	assert.Equal(t, "WatchTime", cat)
	_, ok = c.CategoryAt(models.PlatformYouTube, 2)
	assert.False(t, ok)
	_, ok = c.CategoryAt(models.PlatformTikTok, 0)
	assert.False(t, ok)
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		errContains string
	}{
		{"empty", `{}`, "no platforms"},
		{"bad json", `{"Instagram":`, "decode"},
		{"unknown platform", `{"MySpace": {"Friends": [{"name": "x", "wholesale_unit_cost": 1, "min_quantity": 1, "max_quantity": 2}]}}`, "unknown platform"},
		{"missing name", `{"Instagram": {"Likes": [{"wholesale_unit_cost": 1, "min_quantity": 1, "max_quantity": 2}]}}`, "name is required"},
		{"missing cost", `{"Instagram": {"Likes": [{"name": "x", "min_quantity": 1, "max_quantity": 2}]}}`, "wholesale_unit_cost is required"},
		{"zero cost", `{"Instagram": {"Likes": [{"name": "x", "wholesale_unit_cost": 0, "min_quantity": 1, "max_quantity": 2}]}}`, "must be positive"},
		{"missing min", `{"Instagram": {"Likes": [{"name": "x", "wholesale_unit_cost": 1, "max_quantity": 2}]}}`, "min_quantity is required"},
		{"missing max", `{"Instagram": {"Likes": [{"name": "x", "wholesale_unit_cost": 1, "min_quantity": 1}]}}`, "max_quantity is required"},
		{"min greater than max", `{"Instagram": {"Likes": [{"name": "x", "wholesale_unit_cost": 1, "min_quantity": 10, "max_quantity": 2}]}}`, "min_quantity 10 > max_quantity 2"},
		{"min zero", `{"Instagram": {"Likes": [{"name": "x", "wholesale_unit_cost": 1, "min_quantity": 0, "max_quantity": 2}]}}`, "at least 1"},
		{"package outside bounds", `{"Instagram": {"Likes": [{"name": "x", "wholesale_unit_cost": 1, "min_quantity": 1, "max_quantity": 2, "package_quantity": 5}]}}`, "package_quantity"},
		{"duplicate", `{"Instagram": {"Likes": [{"name": "x", "wholesale_unit_cost": 1, "min_quantity": 1, "max_quantity": 2}, {"name": "x", "wholesale_unit_cost": 1, "min_quantity": 1, "max_quantity": 2}]}}`, "duplicate"},
		{"empty category", `{"Instagram": {"Likes": []}}`, "no services"},
		{"unknown field", `{"Instagram": {"Likes": [{"name": "x", "price": 1, "wholesale_unit_cost": 1, "min_quantity": 1, "max_quantity": 2}]}}`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog(strings.NewReader(tt.doc))
			require.Error(t, err)
			var ce *CatalogError
			require.True(t, errors.As(err, &ce), "want *CatalogError, got %T", err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.json")
	require.NoError(t, os.WriteFile(path, []byte(testCatalogJSON), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.All(), 5)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	var ce *CatalogError
	assert.True(t, errors.As(err, &ce))
}
