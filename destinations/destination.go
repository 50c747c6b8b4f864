package destinations

import (
	"fmt"
	"net/url"
	"time"

	"github.com/marcelsud/webhook-relay/dispatcher/signature"
	"github.com/marcelsud/webhook-relay/event"
)

// DefaultTimeout bounds a single forwarded call when a destination sets none
const DefaultTimeout = 30 * time.Second

// Wildcard matches every event source in a rule
const Wildcard = "*"

/* Destination is a locally reachable endpoint events are forwarded to
 * Name is unique inside one Set
 */
type Destination struct {
	Name          string
	URL           string
	Ping          bool
	PingURL       string
	SigningSecret string // Standard Webhooks signing secret (whsec_ prefix)
	Timeout       time.Duration
}

// Validate checks if the destination configuration is valid
func (d Destination) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if err := validateURL(d.URL); err != nil {
		return fmt.Errorf("invalid url for destination %s: %w", d.Name, err)
	}
	if d.PingURL != "" {
		if err := validateURL(d.PingURL); err != nil {
			return fmt.Errorf("invalid ping_url for destination %s: %w", d.Name, err)
		}
	}
	if d.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative for destination %s", d.Name)
	}
	if d.SigningSecret != "" {
		if _, err := signature.ParseSecret(d.SigningSecret); err != nil {
			return fmt.Errorf("invalid signing_secret for destination %s: %w", d.Name, err)
		}
	}
	return nil
}

// EffectiveTimeout returns the configured timeout or DefaultTimeout
func (d Destination) EffectiveTimeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

// ProbeURL is where liveness pings go
func (d Destination) ProbeURL() string {
	if d.PingURL != "" {
		return d.PingURL
	}
	return d.URL
}

// Snapshot freezes the destination onto a request
func (d Destination) Snapshot() event.DestinationSnapshot {
	return event.DestinationSnapshot{Name: d.Name, URL: d.URL}
}

// Rule routes events of a source to a destination by name
type Rule struct {
	Source      string
	Destination string
}

// Matches reports whether the rule applies to an event source
func (r Rule) Matches(source string) bool {
	return r.Source == Wildcard || r.Source == source
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
