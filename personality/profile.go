package personality

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var builtinProfiles embed.FS

// Variant names a model personality.
type Variant string

const (
	VariantDominator Variant = "dominator"
	VariantVision    Variant = "vision"
)

// ErrUnknownVariant is returned for variant names without a profile.
var ErrUnknownVariant = errors.New("unknown model variant")

// Variants lists every supported variant.
func Variants() []Variant {
	return []Variant{VariantDominator, VariantVision}
}

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantDominator, VariantVision:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// Directives shape a response for one expertise level or user need.
type Directives struct {
	ExplanationDetail string `yaml:"explanation_detail,omitempty"`
	DetailLevel       string `yaml:"detail_level,omitempty"`
	TechnicalTerms    string `yaml:"technical_terms,omitempty"`
	StepByStep        bool   `yaml:"step_by_step,omitempty"`
	StepBreakdown     bool   `yaml:"step_breakdown,omitempty"`
}

// AdaptationRules maps user levels and conversation contexts to directives.
type AdaptationRules struct {
	UserExpertise       map[string]Directives     `yaml:"user_expertise,omitempty"`
	UserNeeds           map[string]Directives     `yaml:"user_needs,omitempty"`
	ConversationContext map[string]map[string]any `yaml:"conversation_context,omitempty"`
	ImageContext        map[string]map[string]any `yaml:"image_context,omitempty"`
}

// ExpertiseArea describes one domain the personality is proficient in.
type ExpertiseArea struct {
	Proficiency  float64  `yaml:"proficiency"`
	Capabilities []string `yaml:"capabilities,omitempty"`
	Types        []string `yaml:"types,omitempty"`
	Areas        []string `yaml:"areas,omitempty"`
}

func (a ExpertiseArea) covers(domain string) bool {
	for _, list := range [][]string{a.Capabilities, a.Types, a.Areas} {
		for _, d := range list {
			if d == domain {
				return true
			}
		}
	}
	return false
}

// Profile is the static personality of a model variant.
type Profile struct {
	Name               string                   `yaml:"name"`
	Version            string                   `yaml:"version"`
	CoreTraits         map[string]float64       `yaml:"core_traits"`
	CommunicationStyle map[string]float64       `yaml:"communication_style"`
	BehavioralPatterns map[string]any           `yaml:"behavioral_patterns,omitempty"`
	ExpertiseAreas     map[string]ExpertiseArea `yaml:"expertise_areas,omitempty"`
	AdaptationRules    AdaptationRules          `yaml:"adaptation_rules"`
	MemoryWeights      map[string]float64       `yaml:"memory_weights"`
	ResponseGuidelines map[string]any           `yaml:"response_guidelines,omitempty"`
}

// LoadProfile loads the profile for variant. A <variant>.yaml file in dir
// replaces the built-in profile; an empty dir uses the built-in one.
func LoadProfile(variant Variant, dir string) (*Profile, error) {
	if _, err := ParseVariant(string(variant)); err != nil {
		return nil, err
	}

	name := string(variant) + ".yaml"
	var (
		raw []byte
		err error
	)
	if dir != "" {
		path := filepath.Join(dir, name)
		raw, err = os.ReadFile(path) //#nosec G304 -- profile directory is operator supplied
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read profile %q: %w", path, err)
		}
	}
	if raw == nil {
		raw, err = builtinProfiles.ReadFile("profiles/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in profile %q: %w", name, err)
		}
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = string(variant)
	}
	return &p, nil
}
