// Package catalog holds the Region -> Site -> Sub-site taxonomy used to build
// selection menus and to resolve the leaf selection of an ingestion session.
// A Catalog is immutable once built and safe for concurrent readers.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownRegion = errors.New("unknown region")
	ErrUnknownSite   = errors.New("unknown site")

	codePattern = regexp.MustCompile(`^[A-Z0-9]+$`)
)

//go:embed regions.yaml
var defaultCatalog []byte

// Entry is one region with its ordered sites and, per site, the ordered sub-sites
type Entry struct {
	Region   string
	Sites    []string
	SubSites map[string][]string
}

type Catalog struct {
	regions    []string
	sites      map[string][]string
	subSites   map[string][]string
	siteRegion map[string]string
	leaves     []string
}

type fileFormat struct {
	Regions []struct {
		Code  string `yaml:"code"`
		Sites []struct {
			Code     string   `yaml:"code"`
			SubSites []string `yaml:"sub_sites"`
		} `yaml:"sites"`
	} `yaml:"regions"`
}

// Default returns the catalog compiled into the binary
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a YAML catalog file, falling back to the built-in catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	entries := make([]Entry, 0, len(doc.Regions))
	for _, r := range doc.Regions {
		e := Entry{Region: r.Code, SubSites: make(map[string][]string)}
		for _, s := range r.Sites {
			e.Sites = append(e.Sites, s.Code)
			if len(s.SubSites) > 0 {
				e.SubSites[s.Code] = s.SubSites
			}
		}
		entries = append(entries, e)
	}
	return New(entries)
}

// New validates entries and builds an immutable Catalog. Site codes and leaf
// codes must be unique across the whole catalog because a leaf names a table.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		sites:      make(map[string][]string),
		subSites:   make(map[string][]string),
		siteRegion: make(map[string]string),
	}
	leafOwner := make(map[string]string)

	addLeaf := func(leaf, owner string) error {
		if prev, dup := leafOwner[leaf]; dup {
			return fmt.Errorf("leaf code %s is ambiguous between %s and %s", leaf, prev, owner)
		}
		leafOwner[leaf] = owner
		c.leaves = append(c.leaves, leaf)
		return nil
	}

	for _, e := range entries {
		region := normalize(e.Region)
		if !codePattern.MatchString(region) {
			return nil, fmt.Errorf("invalid region code %q", e.Region)
		}
		if _, dup := c.sites[region]; dup {
			return nil, fmt.Errorf("duplicate region %s", region)
		}
		if len(e.Sites) == 0 {
			return nil, fmt.Errorf("region %s has no sites", region)
		}

		sites := make([]string, 0, len(e.Sites))
		for _, raw := range e.Sites {
			site := normalize(raw)
			if !codePattern.MatchString(site) {
				return nil, fmt.Errorf("invalid site code %q in region %s", raw, region)
			}
			if owner, dup := c.siteRegion[site]; dup {
				return nil, fmt.Errorf("site %s listed under both %s and %s", site, owner, region)
			}
			c.siteRegion[site] = region
			sites = append(sites, site)

			subs := e.SubSites[raw]
			if subs == nil {
				subs = e.SubSites[site]
			}
			if len(subs) == 0 {
				if err := addLeaf(site, region+"/"+site); err != nil {
					return nil, err
				}
				continue
			}

			seen := make(map[string]bool, len(subs))
			normalized := make([]string, 0, len(subs))
			for _, rawSub := range subs {
				sub := normalize(rawSub)
				if !codePattern.MatchString(sub) {
					return nil, fmt.Errorf("invalid sub-site code %q under site %s", rawSub, site)
				}
				if seen[sub] {
					return nil, fmt.Errorf("duplicate sub-site %s under site %s", sub, site)
				}
				seen[sub] = true
				if err := addLeaf(sub, site); err != nil {
					return nil, err
				}
				normalized = append(normalized, sub)
			}
			c.subSites[site] = normalized
		}

		c.regions = append(c.regions, region)
		c.sites[region] = sites
	}

	if len(c.regions) == 0 {
		return nil, errors.New("catalog has no regions")
	}
	return c, nil
}

// Regions returns region codes in catalog order
func (c *Catalog) Regions() []string {
	return append([]string(nil), c.regions...)
}

// SitesFor returns the ordered sites of a region
func (c *Catalog) SitesFor(region string) ([]string, error) {
	sites, ok := c.sites[normalize(region)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	return append([]string(nil), sites...), nil
}

// SubSitesFor returns the ordered sub-sites of a site; an empty result means the
// site itself is the leaf.
func (c *Catalog) SubSitesFor(site string) ([]string, error) {
	key := normalize(site)
	if _, ok := c.siteRegion[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}
	return append([]string(nil), c.subSites[key]...), nil
}

func (c *Catalog) SiteInRegion(region, site string) bool {
	owner, ok := c.siteRegion[normalize(site)]
	return ok && owner == normalize(region)
}

func (c *Catalog) SubSiteInSite(site, subSite string) bool {
	want := normalize(subSite)
	for _, s := range c.subSites[normalize(site)] {
		if s == want {
			return true
		}
	}
	return false
}

// Leaves returns every selectable leaf code in catalog order
func (c *Catalog) Leaves() []string {
	return append([]string(nil), c.leaves...)
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
