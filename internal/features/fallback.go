package features

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var plansYAML []byte

// StaticPlans is the built-in plan→modules table.
type StaticPlans struct {
	DefaultPlan string              `yaml:"default_plan"`
	Plans       map[string][]string `yaml:"plans"`
}

// LoadStaticPlans parses the embedded plan table.
func LoadStaticPlans() (StaticPlans, error) {
	return ParseStaticPlans(plansYAML)
}

// ParseStaticPlans parses a plan table document.
func ParseStaticPlans(raw []byte) (StaticPlans, error) {
	var sp StaticPlans
	if err := yaml.Unmarshal(raw, &sp); err != nil {
		return StaticPlans{}, fmt.Errorf("parse plans: %w", err)
	}
	if len(sp.Plans) == 0 {
		return StaticPlans{}, fmt.Errorf("parse plans: no plans defined")
	}
	if _, ok := sp.Plans[sp.DefaultPlan]; !ok {
		return StaticPlans{}, fmt.Errorf("parse plans: default plan %q not defined", sp.DefaultPlan)
	}
	return sp, nil
}

// Modules returns the plan's modules, or the default plan's for unknown plans.
func (sp StaticPlans) Modules(plan string) []string {
	if mods, ok := sp.Plans[plan]; ok {
		return mods
	}
	return sp.Plans[sp.DefaultPlan]
}
