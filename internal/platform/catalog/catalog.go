// Package catalog loads the clinic's reference data: the TUSS procedure
// table, gamification rules and lead scoring weights.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Procedure struct {
	Code        string `yaml:"code" json:"code"`
	Description string `yaml:"description" json:"description"`
	PriceCents  int64  `yaml:"price_cents" json:"price_cents"`
}

type Level struct {
	Name      string `yaml:"name" json:"name"`
	MinPoints int    `yaml:"min_points" json:"min_points"`
}

type Gamification struct {
	Points map[string]int `yaml:"points"`
	Levels []Level        `yaml:"levels"`
}

type BudgetTier struct {
	MinCents int64 `yaml:"min_cents"`
	Points   int   `yaml:"points"`
}

type RecencyTier struct {
	Within time.Duration `yaml:"within"`
	Points int           `yaml:"points"`
}

type LeadScoring struct {
	BudgetTiers []BudgetTier   `yaml:"budget_tiers"`
	Source      map[string]int `yaml:"source"`
	Status      map[string]int `yaml:"status"`
	Recency     []RecencyTier  `yaml:"recency"`
}

type Catalog struct {
	Version      int          `yaml:"version"`
	Procedures   []Procedure  `yaml:"procedures"`
	Gamification Gamification `yaml:"gamification"`
	LeadScoring  LeadScoring  `yaml:"lead_scoring"`

	byCode map[string]Procedure
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads path, or returns Default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	c.byCode = make(map[string]Procedure, len(c.Procedures))
	for _, p := range c.Procedures {
		if p.Code == "" {
			return fmt.Errorf("catalog: procedure without code")
		}
		if _, dup := c.byCode[p.Code]; dup {
			return fmt.Errorf("catalog: duplicate procedure code %s", p.Code)
		}
		if p.PriceCents < 0 {
			return fmt.Errorf("catalog: procedure %s has a negative price", p.Code)
		}
		c.byCode[p.Code] = p
	}

	levels := c.Gamification.Levels
	if len(levels) == 0 {
		return fmt.Errorf("catalog: at least one gamification level is required")
	}
	if levels[0].MinPoints != 0 {
		return fmt.Errorf("catalog: first level must start at 0 points")
	}
	for i := 1; i < len(levels); i++ {
		if levels[i].MinPoints <= levels[i-1].MinPoints {
			return fmt.Errorf("catalog: level %s must require more points than %s", levels[i].Name, levels[i-1].Name)
		}
	}
	for kind, pts := range c.Gamification.Points {
		if pts < 0 {
			return fmt.Errorf("catalog: negative points for %s", kind)
		}
	}

	// Tiers are matched highest first.
	sort.Slice(c.LeadScoring.BudgetTiers, func(i, j int) bool {
		return c.LeadScoring.BudgetTiers[i].MinCents > c.LeadScoring.BudgetTiers[j].MinCents
	})
	sort.Slice(c.LeadScoring.Recency, func(i, j int) bool {
		return c.LeadScoring.Recency[i].Within < c.LeadScoring.Recency[j].Within
	})
	return nil
}

// Procedure looks up a TUSS code.
func (c *Catalog) Procedure(code string) (Procedure, bool) {
	p, ok := c.byCode[code]
	return p, ok
}

// Points returns the configured points for a ledger kind, 0 when unset.
func (c *Catalog) Points(kind string) int {
	return c.Gamification.Points[kind]
}

// LevelFor returns the level reached with total points and the next one, if any.
func (c *Catalog) LevelFor(total int) (current Level, next *Level) {
	levels := c.Gamification.Levels
	current = levels[0]
	for i, l := range levels {
		if total < l.MinPoints {
			n := levels[i]
			return current, &n
		}
		current = l
	}
	return current, nil
}
