package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
)

// DefaultProfile is the threshold profile used when none is selected
const DefaultProfile = "warrior"

// WarriorThresholds are the classic small-cap momentum thresholds
var WarriorThresholds = models.CriteriaThresholds{
	MinPrice:     2,
	MaxPrice:     50,
	MinChangePct: 10,
	MinRelVolume: 5,
	MaxFloat:     50_000_000,
}

// criteriaFile is the on-disk layout of CRITERIA_FILE
//
//	profiles:
//	  warrior:
//	    min_price: 2
//	    max_price: 50
//	    ...
type criteriaFile struct {
	Profiles map[string]models.CriteriaThresholds `yaml:"profiles"`
}

// builtinProfiles are always available, file profiles override them by name
func builtinProfiles() map[string]models.CriteriaThresholds {
	return map[string]models.CriteriaThresholds{
		DefaultProfile: WarriorThresholds,
		"relaxed": {
			MinPrice:     1,
			MaxPrice:     100,
			MinChangePct: 5,
			MinRelVolume: 2,
			MaxFloat:     100_000_000,
		},
	}
}

// LoadProfiles reads threshold profiles from a YAML file and merges them over the built-ins.
// An empty path returns the built-ins.
func LoadProfiles(path string) (map[string]models.CriteriaThresholds, error) {
	profiles := builtinProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read criteria file: %w", err)
	}

	var file criteriaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse criteria file: %w", err)
	}

	for name, t := range file.Profiles {
		if err := validate.Struct(t); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		profiles[name] = t
	}
	return profiles, nil
}

// ResolveThresholds returns the named profile from path (or the built-ins)
func ResolveThresholds(path, profile string) (models.CriteriaThresholds, error) {
	profiles, err := LoadProfiles(path)
	if err != nil {
		return models.CriteriaThresholds{}, err
	}
	if profile == "" {
		profile = DefaultProfile
	}
	t, ok := profiles[profile]
	if !ok {
		return models.CriteriaThresholds{}, fmt.Errorf("unknown criteria profile %q (available: %v)", profile, ProfileNames(profiles))
	}
	return t, nil
}

// ProfileNames returns the sorted profile names
func ProfileNames(profiles map[string]models.CriteriaThresholds) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
