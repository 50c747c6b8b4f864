package destinations

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("destinations not found")

/* Loader manages destination configuration from destinations.yaml
 * A key without its own entry falls back to the default set
 */

// File represents the structure of destinations.yaml
type File struct {
	Default  *SetConfig           `yaml:"default"`
	Webhooks map[string]SetConfig `yaml:"webhooks"`
}

// SetConfig represents the destinations and rules of one key in the YAML file
type SetConfig struct {
	Destinations []DestinationConfig `yaml:"destinations"`
	Rules        []RuleConfig        `yaml:"rules"`
}

// DestinationConfig represents a single destination in the YAML file
type DestinationConfig struct {
	Name          string        `yaml:"name"`
	URL           string        `yaml:"url"`
	Ping          bool          `yaml:"ping"`
	PingURL       string        `yaml:"ping_url"`
	SigningSecret string        `yaml:"signing_secret"`
	Timeout       time.Duration `yaml:"timeout"` // Default: 30s
}

// RuleConfig represents a single rule in the YAML file
type RuleConfig struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
}

// Loader holds the loaded destination sets
type Loader struct {
	mu       sync.RWMutex
	path     string
	fallback *Set
	sets     map[string]Set
}

// NewLoader creates a new destination loader
func NewLoader() *Loader {
	return &Loader{sets: make(map[string]Set)}
}

// Load reads, parses and validates the file. On error the previous configuration stays in place.
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading destinations file: %w", err)
	}

	fallback, sets, err := Parse(data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = filePath
	l.fallback = fallback
	l.sets = sets
	return nil
}

// Parse decodes and validates destinations YAML
func Parse(data []byte) (*Set, map[string]Set, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parsing destinations YAML: %w", err)
	}

	var fallback *Set
	if file.Default != nil {
		set := file.Default.toSet()
		if err := set.Validate(); err != nil {
			return nil, nil, fmt.Errorf("validating default destinations: %w", err)
		}
		fallback = &set
	}

	sets := make(map[string]Set, len(file.Webhooks))
	for key, sc := range file.Webhooks {
		set := sc.toSet()
		if err := set.Validate(); err != nil {
			return nil, nil, fmt.Errorf("validating destinations for %s: %w", key, err)
		}
		sets[key] = set
	}
	return fallback, sets, nil
}

// Reload reads the last loaded file again
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("reloading destinations: nothing loaded yet")
	}
	return l.Load(path)
}

// Get retrieves the set configured for exactly this key
func (l *Loader) Get(key string) (Set, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	set, ok := l.sets[key]
	if !ok {
		return Set{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return set, nil
}

// Resolve implements Provider: the key's own set, else the default set
func (l *Loader) Resolve(key string) (Set, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if set, ok := l.sets[key]; ok {
		return set, nil
	}
	if l.fallback != nil {
		return *l.fallback, nil
	}
	return Set{}, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// List returns the keys that have their own set
func (l *Loader) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.sets))
	for k := range l.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path returns the file the loader last read
func (l *Loader) Path() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

func (sc SetConfig) toSet() Set {
	set := Set{
		Destinations: make([]Destination, 0, len(sc.Destinations)),
		Rules:        make([]Rule, 0, len(sc.Rules)),
	}
	for _, dc := range sc.Destinations {
		set.Destinations = append(set.Destinations, Destination{
			Name:          dc.Name,
			URL:           dc.URL,
			Ping:          dc.Ping,
			PingURL:       dc.PingURL,
			SigningSecret: dc.SigningSecret,
			Timeout:       dc.Timeout,
		})
	}
	for _, rc := range sc.Rules {
		set.Rules = append(set.Rules, Rule{Source: rc.Source, Destination: rc.Destination})
	}
	return set
}
