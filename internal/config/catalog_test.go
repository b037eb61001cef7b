//go:build !integration

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(`
features:
  - key: roster_size
    type: limit
    category: members
    defaults:
      pro: 1000
      free: 25
  - key: legacy_export
    type: boolean
    active: false
    defaults:
      free: true
`))
	require.NoError(t, err)
	require.Len(t, c.Features, 2)

	roster := c.Features[0]
	assert.True(t, roster.IsActive())
	assert.Equal(t, []string{"free", "pro"}, roster.PlanCodes())
	assert.Equal(t, "1000", roster.Defaults["pro"])

	legacy := c.Features[1]
	assert.False(t, legacy.IsActive())
	assert.Equal(t, "true", legacy.Defaults["free"])
}

func TestParseCatalog_Invalid(t *testing.T) {
	_, err := ParseCatalog([]byte(`features: []`))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("features:\n  - type: boolean\n"))
	assert.ErrorContains(t, err, "key is required")

	_, err = ParseCatalog([]byte("features:\n  - key: x\n"))
	assert.ErrorContains(t, err, "type is required")
}
