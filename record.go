package ddns

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalidRecord = errors.New("invalid record")

// hostnamePattern accepts an optional subdomain part followed by a registrable domain and an optional trailing dot.
var hostnamePattern = regexp.MustCompile(`^(?:([a-zA-Z0-9\-\.]+)\.)?([a-zA-Z0-9\-]+\.[a-zA-Z0-9\-]{2,63})\.?$`)

// Record is one DNS mapping that should follow the host's address.
//
// Records are identified by provider, name and family together (see Key).
type Record struct {
	Provider string `json:"provider" yaml:"provider"`
	Name     string `json:"record" yaml:"record"`
	Family   Family `json:"type" yaml:"type"`
	TTL      int    `json:"ttl" yaml:"ttl"`
	Enabled  bool   `json:"enable" yaml:"enable"`
}

// RecordKey is the identity of a Record.
type RecordKey struct {
	Provider string
	Name     string
	Family   Family
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Provider, k.Name, int(k.Family))
}

func (r Record) Key() RecordKey {
	return RecordKey{Provider: r.Provider, Name: r.Name, Family: r.Family}
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s (%s)", r.Family.RecordType(), r.Name, r.Provider)
}

// Validate checks the fields a provider relies on.
func (r Record) Validate() error {
	if r.Provider == "" {
		return fmt.Errorf("%w: provider must not be empty", ErrInvalidRecord)
	}
	if !hostnamePattern.MatchString(r.Name) {
		return fmt.Errorf("%w: %q is not a valid host name", ErrInvalidRecord, r.Name)
	}
	if !r.Family.Valid() {
		return fmt.Errorf("%w: type must be 4 or 6; got %d", ErrInvalidRecord, int(r.Family))
	}
	if r.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrInvalidRecord)
	}
	return nil
}

// SplitName splits the record name into its subdomain and registrable domain,
// e.g. "a.b.example.com" gives "a.b" and "example.com".
// Providers that know the real zone should prefer that over this guess.
func (r Record) SplitName() (sub, domain string, ok bool) {
	m := hostnamePattern.FindStringSubmatch(r.Name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// FQDN returns the record name without a trailing dot, lowercased.
func (r Record) FQDN() string {
	return strings.ToLower(strings.TrimSuffix(r.Name, "."))
}
