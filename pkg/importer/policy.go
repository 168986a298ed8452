package importer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AuthorityPolicy declares which stored-entity fields an import source is
// trusted to write. The table is configuration, not code: each deployment can
// adjust which sources own which fields without a rebuild.
type AuthorityPolicy struct {
	// Authoritative fields are overwritten whenever the source disagrees
	// with the store.
	Authoritative []string `yaml:"authoritative"`

	// FillBlankOnly fields are written only when the stored value is empty,
	// preserving manual curation.
	FillBlankOnly []string `yaml:"fill_blank_only"`
}

// PolicySet maps a provenance tag ("csv-import", "GOVMAN", ...) to its
// authority policy.
type PolicySet map[string]AuthorityPolicy

// LoadPolicySet reads a policy set from a YAML file.
func LoadPolicySet(path string) (PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field authority file: %w", err)
	}

	var set PolicySet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse field authority file: %w", err)
	}

	return set, nil
}

// For returns the policy for a provenance tag.
func (s PolicySet) For(source string) (AuthorityPolicy, error) {
	policy, ok := s[source]
	if !ok {
		return AuthorityPolicy{}, fmt.Errorf("no field authority policy for source %q", source)
	}
	return policy, nil
}
