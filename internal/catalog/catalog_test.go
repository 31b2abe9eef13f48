package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"MLG", "MNZ", "KDR"}, c.Regions())

	sites, err := c.SitesFor("MLG")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTU", "KEP", "MLG"}, sites)

	subs, err := c.SubSitesFor("BTU")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTU", "KPO", "NTG"}, subs)
}

func TestSubSitesAreDisjointAcrossSites(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	owner := map[string]string{}
	for _, region := range c.Regions() {
		sites, err := c.SitesFor(region)
		require.NoError(t, err)
		for _, site := range sites {
			subs, err := c.SubSitesFor(site)
			require.NoError(t, err)
			for _, sub := range subs {
				prev, seen := owner[sub]
				assert.False(t, seen, "sub-site %s under both %s and %s", sub, prev, site)
				owner[sub] = site
			}
		}
	}
}

func TestLookups(t *testing.T) {
	c, err := New([]Entry{
		{Region: "R1", Sites: []string{"S1", "S2"}, SubSites: map[string][]string{"S1": {"X", "Y"}}},
	})
	require.NoError(t, err)

	t.Run("Should fail on unknown region", func(t *testing.T) {
		_, err := c.SitesFor("R9")
		assert.ErrorIs(t, err, ErrUnknownRegion)
	})

	t.Run("Should fail on unknown site", func(t *testing.T) {
		_, err := c.SubSitesFor("S9")
		assert.ErrorIs(t, err, ErrUnknownSite)
	})

	t.Run("Should return empty sub-sites for a leaf site", func(t *testing.T) {
		subs, err := c.SubSitesFor("S2")
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("Should match codes case-insensitively", func(t *testing.T) {
		assert.True(t, c.SiteInRegion("r1", " s1 "))
		assert.True(t, c.SubSiteInSite("S1", "x"))
		assert.False(t, c.SubSiteInSite("S2", "X"))
	})

	t.Run("Should list leaves in order", func(t *testing.T) {
		assert.Equal(t, []string{"X", "Y", "S2"}, c.Leaves())
	})

	t.Run("Should not expose internal slices", func(t *testing.T) {
		sites, _ := c.SitesFor("R1")
		sites[0] = "HACK"
		again, _ := c.SitesFor("R1")
		assert.Equal(t, "S1", again[0])
	})
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantErr string
	}{
		{
			name:    "ambiguous sub-site",
			entries: []Entry{{Region: "R1", Sites: []string{"S1", "S2"}, SubSites: map[string][]string{"S1": {"X"}, "S2": {"X"}}}},
			wantErr: "ambiguous",
		},
		{
			name:    "site in two regions",
			entries: []Entry{{Region: "R1", Sites: []string{"S1"}}, {Region: "R2", Sites: []string{"S1"}}},
			wantErr: "listed under both",
		},
		{
			name:    "invalid code",
			entries: []Entry{{Region: "R-1", Sites: []string{"S1"}}},
			wantErr: "invalid region code",
		},
		{
			name:    "empty region",
			entries: []Entry{{Region: "R1"}},
			wantErr: "no sites",
		},
		{
			name:    "empty catalog",
			entries: nil,
			wantErr: "no regions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.entries)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := "regions:\n  - code: r1\n    sites:\n      - code: s1\n        sub_sites: [x]\n      - code: s2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	sites, err := c.SitesFor("R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, sites)

	subs, err := c.SubSitesFor("S1")
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, subs)
}
