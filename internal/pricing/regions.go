package pricing

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/mohammed-shakir/price-cluster-map/internal/segment"
)

//go:embed regions.yaml
var builtinRegions []byte

type RegionFile struct {
	Default string   `yaml:"default" json:"default"`
	Regions []Region `yaml:"regions" json:"regions"`
}

// Region is one coefficient table: a base price plus every multiplier the
// rule chain may apply for subjects inside it.
type Region struct {
	ID       string         `yaml:"id" json:"id"`
	Label    string         `yaml:"label" json:"label"`
	Country  string         `yaml:"country" json:"country"`
	Currency string         `yaml:"currency" json:"currency"`
	AreaUnit string         `yaml:"area_unit" json:"area_unit"`
	Aliases  []string       `yaml:"aliases" json:"aliases,omitempty"`
	Center   *[2]float64    `yaml:"center" json:"center,omitempty"` // lng, lat
	BBox     *[4]float64    `yaml:"bbox" json:"bbox,omitempty"`
	Bands    []segment.Band `yaml:"bands" json:"-"`

	BasePrice         float64            `yaml:"base_price" json:"base_price"`
	Rounding          float64            `yaml:"rounding" json:"rounding"`
	TypeNormalization string             `yaml:"type_normalization" json:"type_normalization"`
	TypeMultipliers   map[string]float64 `yaml:"type_multipliers" json:"type_multipliers"`
	Waterfront        map[string]float64 `yaml:"waterfront" json:"waterfront,omitempty"`
	Zip               map[string]float64 `yaml:"zip" json:"zip,omitempty"`
	Floors            FloorRule          `yaml:"floors" json:"floors"`
	Proximity         ProximityRule      `yaml:"proximity" json:"proximity"`
	Confidence        ConfidenceRule     `yaml:"confidence" json:"confidence"`

	segments *segment.Table
}

type FloorRule struct {
	Baseline int     `yaml:"baseline" json:"baseline"`
	PerFloor float64 `yaml:"per_floor" json:"per_floor"`
	MaxBonus float64 `yaml:"max_bonus" json:"max_bonus"`
}

type ProximityRule struct {
	MountainView     float64 `yaml:"mountain_view" json:"mountain_view,omitempty"`
	Train            float64 `yaml:"train" json:"train,omitempty"`
	Water            float64 `yaml:"water" json:"water,omitempty"`
	Park             float64 `yaml:"park" json:"park,omitempty"`
	Industrial       float64 `yaml:"industrial" json:"industrial,omitempty"`
	PerKmFromCenter  float64 `yaml:"per_km_from_center" json:"per_km_from_center,omitempty"`
	PerMileFromWater float64 `yaml:"per_mile_from_water" json:"per_mile_from_water,omitempty"`
	ClampMin         float64 `yaml:"clamp_min" json:"clamp_min"`
	ClampMax         float64 `yaml:"clamp_max" json:"clamp_max"`
}

type ConfidenceRule struct {
	Base          float64            `yaml:"base" json:"base"`
	Aggregated    float64            `yaml:"aggregated" json:"aggregated"`
	PerComparable float64            `yaml:"per_comparable" json:"per_comparable"`
	ComparableCap float64            `yaml:"comparable_cap" json:"comparable_cap"`
	TypeKnown     float64            `yaml:"type_known" json:"type_known"`
	AreaKnown     float64            `yaml:"area_known" json:"area_known"`
	LevelsKnown   float64            `yaml:"levels_known" json:"levels_known"`
	Signals       map[string]float64 `yaml:"signals" json:"signals,omitempty"`
	Ceiling       float64            `yaml:"ceiling" json:"ceiling"`
}

// MaxConfidence is the hard ceiling for any region.
const MaxConfidence = 0.95

func (r *Region) Segments() *segment.Table {
	if r.segments == nil {
		return segment.Default()
	}
	return r.segments
}

func (r *Region) validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("id is required")
	}
	if r.BasePrice <= 0 {
		return fmt.Errorf("base_price must be > 0 (got %v)", r.BasePrice)
	}
	if r.Rounding == 0 {
		r.Rounding = 1
	}
	if r.Rounding < 0 {
		return fmt.Errorf("rounding must be > 0 (got %v)", r.Rounding)
	}
	switch r.TypeNormalization {
	case "":
		r.TypeNormalization = normLetters
	case normLetters, normSnake:
	default:
		return fmt.Errorf("type_normalization must be %s|%s", normLetters, normSnake)
	}
	_, hasRes := r.TypeMultipliers[typeResidential]
	_, hasDef := r.TypeMultipliers[typeDefault]
	if !hasRes && !hasDef {
		return fmt.Errorf("type_multipliers needs a %q or %q fallback entry", typeResidential, typeDefault)
	}
	for _, m := range []map[string]float64{r.TypeMultipliers, r.Waterfront, r.Zip} {
		for k, v := range m {
			if v <= 0 {
				return fmt.Errorf("multiplier %q must be > 0 (got %v)", k, v)
			}
		}
	}
	if r.Floors.Baseline < 0 || r.Floors.PerFloor < 0 || r.Floors.MaxBonus < 0 {
		return errors.New("floors parameters must be >= 0")
	}
	p := r.Proximity
	if p.ClampMin <= 0 || p.ClampMax < p.ClampMin {
		return fmt.Errorf("proximity clamp [%v,%v] is invalid", p.ClampMin, p.ClampMax)
	}
	if p.PerKmFromCenter != 0 && r.Center == nil {
		return errors.New("per_km_from_center requires a center")
	}
	c := r.Confidence
	if c.Ceiling <= 0 || c.Ceiling > MaxConfidence {
		return fmt.Errorf("confidence ceiling must be in (0,%v]", MaxConfidence)
	}
	if c.Base < 0 || c.Base > c.Ceiling {
		return fmt.Errorf("confidence base %v outside [0,%v]", c.Base, c.Ceiling)
	}
	if len(r.Bands) > 0 {
		t, err := segment.NewTable(r.Bands...)
		if err != nil {
			return fmt.Errorf("bands: %w", err)
		}
		r.segments = t
	}
	return nil
}

// Registry resolves region ids and aliases to coefficient tables.
type Registry struct {
	byKey map[string]*Region
	list  []*Region
	def   *Region
}

func NewRegistry(f RegionFile) (*Registry, error) {
	if len(f.Regions) == 0 {
		return nil, errors.New("region file has no regions")
	}
	reg := &Registry{byKey: make(map[string]*Region, len(f.Regions)*2)}
	for i := range f.Regions {
		r := f.Regions[i]
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("region %d (%s): %w", i, r.ID, err)
		}
		keys := append([]string{r.ID}, r.Aliases...)
		for _, k := range keys {
			k = strings.ToLower(strings.TrimSpace(k))
			if _, dup := reg.byKey[k]; dup {
				return nil, fmt.Errorf("region key %q declared twice", k)
			}
			reg.byKey[k] = &r
		}
		reg.list = append(reg.list, &r)
	}
	def, ok := reg.Lookup(f.Default)
	if !ok {
		return nil, fmt.Errorf("default region %q not defined", f.Default)
	}
	reg.def = def
	sort.SliceStable(reg.list, func(i, j int) bool { return reg.list[i].ID < reg.list[j].ID })
	return reg, nil
}

// LoadRegistry reads a YAML/JSON region file, or the built-in tables when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	var f RegionFile
	if path == "" {
		if err := cleanenv.ParseYAML(bytes.NewReader(builtinRegions), &f); err != nil {
			return nil, fmt.Errorf("parse built-in regions: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &f); err != nil {
		return nil, fmt.Errorf("read regions %q: %w", path, err)
	}
	return NewRegistry(f)
}

// MustBuiltin returns the built-in registry and panics if it does not validate.
func MustBuiltin() *Registry {
	r, err := LoadRegistry("")
	if err != nil {
		panic(err)
	}
	return r
}

func (g *Registry) Lookup(id string) (*Region, bool) {
	r, ok := g.byKey[strings.ToLower(strings.TrimSpace(id))]
	return r, ok
}

// Resolve returns the region for id, or the default region when unknown.
func (g *Registry) Resolve(id string) *Region {
	if r, ok := g.Lookup(id); ok {
		return r
	}
	return g.def
}

func (g *Registry) Default() *Region { return g.def }

// SetDefault changes the fallback region. id may be an alias.
func (g *Registry) SetDefault(id string) error {
	r, ok := g.Lookup(id)
	if !ok {
		return fmt.Errorf("unknown region %q", id)
	}
	g.def = r
	return nil
}

func (g *Registry) Regions() []*Region {
	out := make([]*Region, len(g.list))
	copy(out, g.list)
	return out
}
