package inventory

import (
	"fmt"
	"strings"
)

// Category distinguishes the two inventory kinds, each with its own fixed schema
type Category string

const (
	CategoryFTM    Category = "ftm"    // fiber / GPON
	CategoryUplink Category = "uplink" // metro uplink
)

func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryFTM:
		return CategoryFTM, nil
	case CategoryUplink, "metro":
		return CategoryUplink, nil
	default:
		return "", fmt.Errorf("unknown inventory category %q", s)
	}
}

// Label is the human name used in prompts and summaries
func (c Category) Label() string {
	switch c {
	case CategoryFTM:
		return "FTM"
	case CategoryUplink:
		return "Metro"
	default:
		return string(c)
	}
}

type Kind int

const (
	KindString Kind = iota
	KindInteger
)

// Field is one column of the target table. Sources are the canonical spreadsheet
// column names that feed it; the first source present wins.
type Field struct {
	Name     string
	Sources  []string
	Kind     Kind
	MaxLen   int
	Required bool
}

type Schema struct {
	Category Category
	Fields   []Field

	// SiteField and IDField form the upsert key.
	SiteField string
	IDField   string

	// RegionFields are filled from the session's region, overriding the file.
	RegionFields []string
}

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns target column names in schema order
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// RequiredColumns returns the canonical source column names that must be present in a file
func (s Schema) RequiredColumns() []string {
	var cols []string
	for _, f := range s.Fields {
		if f.Required {
			cols = append(cols, f.Sources[0])
		}
	}
	return cols
}

func str(name string, maxLen int) Field {
	return Field{Name: name, Sources: []string{name}, Kind: KindString, MaxLen: maxLen}
}

func required(f Field) Field {
	f.Required = true
	return f
}

func from(f Field, sources ...string) Field {
	f.Sources = sources
	return f
}

var ftmSchema = Schema{
	Category: CategoryFTM,
	Fields: []Field{
		str("witel", 10),
		str("sto", 10),
		required(str("nama_gpon", 100)),
		required(str("ip", 45)),
		str("card", 10),
		str("port", 10),
		str("category", 20),
		str("nama_lemari_ftm_eakses", 100),
		str("no_panel_eakses", 50),
		from(str("no_port_panel_eakses", 50), "no_port_panel", "no_port_panel_eakses"),
		str("nama_lemari_ftm_oakses", 100),
		str("no_panel_oakses", 50),
		from(str("no_port_panel_oakses", 50), "no_port_panel_1", "no_port_panel_oakses"),
		str("no_core_feeder", 50),
		str("nama_segmen_feeder_utama", 150),
		str("status_feeder", 50),
		{Name: "kapasitas_kabel_feeder_utama", Sources: []string{"kapasitas_kabel_feeder_utama"}, Kind: KindInteger},
		str("nama_odc", 100),
	},
	SiteField:    "sto",
	IDField:      "nama_gpon",
	RegionFields: []string{"witel", "category"},
}

var uplinkSchema = Schema{
	Category: CategoryUplink,
	Fields: []Field{
		str("witel", 10),
		str("sto", 10),
		required(str("gpon_hostname", 100)),
		str("gpon_ip", 45),
		str("gpon_merk", 50),
		str("gpon_tipe", 50),
		str("gpon_merk_tipe", 100),
		str("gpon_intf", 100),
		str("gpon_lacp", 50),
		required(str("neighbor_hostname", 100)),
		str("neighbor_intf", 100),
		str("neighbor_lacp", 50),
		str("bw", 20),
		str("sfp", 50),
		str("vlan_sip", 50),
		str("vlan_internet", 50),
		from(str("Keterangan", 255), "keterangan"),
		from(str("OTN-CROSS METRO", 255), "otn_cross_metro"),
	},
	SiteField:    "sto",
	IDField:      "gpon_hostname",
	RegionFields: []string{"witel"},
}

// SchemaFor returns the fixed schema of a category
func SchemaFor(c Category) (Schema, error) {
	switch c {
	case CategoryFTM:
		return ftmSchema, nil
	case CategoryUplink:
		return uplinkSchema, nil
	default:
		return Schema{}, fmt.Errorf("no schema for category %q", c)
	}
}
