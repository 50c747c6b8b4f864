package destinations

import "fmt"

// Provider resolves the destinations and rules that apply to a subscription key
type Provider interface {
	Resolve(key string) (Set, error)
}

// Set is the configuration that applies to one subscription key
type Set struct {
	Destinations []Destination
	Rules        []Rule
}

// Validate checks destinations, name uniqueness and rule shape
func (s Set) Validate() error {
	names := make(map[string]struct{}, len(s.Destinations))
	for _, d := range s.Destinations {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("duplicate destination name %s", d.Name)
		}
		names[d.Name] = struct{}{}
	}
	for i, r := range s.Rules {
		if r.Source == "" {
			return fmt.Errorf("rule %d: source cannot be empty", i)
		}
		if r.Destination == "" {
			return fmt.Errorf("rule %d: destination cannot be empty", i)
		}
	}
	return nil
}

// Destination returns a destination by name
func (s Set) Destination(name string) (Destination, bool) {
	for _, d := range s.Destinations {
		if d.Name == name {
			return d, true
		}
	}
	return Destination{}, false
}

/* Select returns the destinations whose rules match source, in rule order and without duplicates
 * Rule targets that name no destination come back in unresolved
 */
func (s Set) Select(source string) (matched []Destination, unresolved []string) {
	seen := map[string]struct{}{}
	for _, r := range s.Rules {
		if !r.Matches(source) {
			continue
		}
		if _, ok := seen[r.Destination]; ok {
			continue
		}
		seen[r.Destination] = struct{}{}
		d, ok := s.Destination(r.Destination)
		if !ok {
			unresolved = append(unresolved, r.Destination)
			continue
		}
		matched = append(matched, d)
	}
	return matched, unresolved
}

// Static is a Provider that hands the same Set to every key
type Static Set

// Resolve implements Provider
func (s Static) Resolve(string) (Set, error) {
	return Set(s), nil
}
