package ddns

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var (
	ErrRecordExists   = errors.New("record already exists")
	ErrRecordNotFound = errors.New("record not found")
)

// Settings is the persisted configuration: global settings, the record list and per-plugin settings.
type Settings struct {
	// ServiceTimeout is the delay between recurring cycles, in milliseconds.
	ServiceTimeout int64                   `json:"serviceTimeout" yaml:"serviceTimeout"`
	IPPlugins      []string                `json:"ipPlugins" yaml:"ipPlugins"`
	DNSEntries     []Record                `json:"dnsEntries" yaml:"dnsEntries"`
	Plugins        map[string]PluginConfig `json:"plugins" yaml:"plugins"`
}

// DefaultSettings returns the settings used when no configuration file exists yet.
func DefaultSettings() Settings {
	return Settings{
		ServiceTimeout: DefaultPollInterval.Milliseconds(),
		IPPlugins:      []string{},
		DNSEntries:     []Record{},
		Plugins:        map[string]PluginConfig{},
	}
}

func (s Settings) clone() Settings {
	out := s
	out.IPPlugins = slices.Clone(s.IPPlugins)
	out.DNSEntries = slices.Clone(s.DNSEntries)
	out.Plugins = make(map[string]PluginConfig, len(s.Plugins))
	for id, cfg := range s.Plugins {
		c := make(PluginConfig, len(cfg))
		for k, v := range cfg {
			c[k] = v
		}
		out.Plugins[id] = c
	}
	return out
}

// Store holds the settings in memory, optionally backed by a JSON or YAML file.
//
// Every mutation is persisted before it returns; a mutation whose save fails is rolled back.
// Reads return copies, so callers never observe a half-applied change.
type Store struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// NewStore returns a store that is not backed by a file.
func NewStore(settings Settings) *Store {
	s := &Store{settings: settings.clone()}
	s.normalize()
	return s
}

// OpenStore loads the settings from path.
// A missing file yields the default settings; the file is created by the first mutation or Save.
// Paths ending in .yaml or .yml are read and written as YAML, anything else as JSON.
func OpenStore(path string) (*Store, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("error expanding %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("error resolving %q: %w", path, err)
	}

	s := &Store{path: abs, settings: DefaultSettings()}
	raw, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", abs, err)
	}

	var settings Settings
	if s.isYAML() {
		err = yaml.Unmarshal(raw, &settings)
	} else {
		err = json.Unmarshal(raw, &settings)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", abs, err)
	}
	s.settings = settings
	s.normalize()
	return s, nil
}

func (s *Store) normalize() {
	if s.settings.ServiceTimeout <= 0 {
		s.settings.ServiceTimeout = DefaultPollInterval.Milliseconds()
	}
	if s.settings.IPPlugins == nil {
		s.settings.IPPlugins = []string{}
	}
	if s.settings.DNSEntries == nil {
		s.settings.DNSEntries = []Record{}
	}
	if s.settings.Plugins == nil {
		s.settings.Plugins = map[string]PluginConfig{}
	}
}

func (s *Store) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(s.path))
	return ext == ".yaml" || ext == ".yml"
}

// Path returns the backing file, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

// Settings returns a copy of everything in the store.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.clone()
}

// Records returns every record, enabled or not.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.settings.DNSEntries)
}

// EnabledRecords implements RecordSource.
func (s *Store) EnabledRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Filter(s.settings.DNSEntries, func(r Record, _ int) bool { return r.Enabled })
}

// ResolverPriority implements RecordSource.
func (s *Store) ResolverPriority() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.settings.IPPlugins)
}

// PollInterval implements RecordSource.
func (s *Store) PollInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.settings.ServiceTimeout) * time.Millisecond
}

// ProviderIDs returns the distinct providers named by any record, enabled or not.
func (s *Store) ProviderIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Uniq(lo.Map(s.settings.DNSEntries, func(r Record, _ int) string { return r.Provider }))
}

// Plugins returns a copy of the per-plugin settings.
func (s *Store) Plugins() map[string]PluginConfig {
	return s.Settings().Plugins
}

func (s *Store) Get(key RecordKey) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(key)
	if i < 0 {
		return Record{}, false
	}
	return s.settings.DNSEntries[i], true
}

func (s *Store) SetPollInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("poll interval must be positive; got %s", d)
	}
	return s.mutate(func(st *Settings) error {
		st.ServiceTimeout = d.Milliseconds()
		return nil
	})
}

func (s *Store) SetResolverPriority(ids []string) error {
	return s.mutate(func(st *Settings) error {
		st.IPPlugins = slices.Clone(ids)
		if st.IPPlugins == nil {
			st.IPPlugins = []string{}
		}
		return nil
	})
}

func (s *Store) SetPlugin(id string, cfg PluginConfig) error {
	if id == "" {
		return fmt.Errorf("plugin id must not be empty")
	}
	return s.mutate(func(st *Settings) error {
		if cfg == nil {
			delete(st.Plugins, id)
			return nil
		}
		st.Plugins[id] = cfg
		return nil
	})
}

// Add appends a new record. Records with the same key are rejected with ErrRecordExists.
func (s *Store) Add(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.mutate(func(st *Settings) error {
		if indexOf(st.DNSEntries, r.Key()) >= 0 {
			return fmt.Errorf("%w: %s", ErrRecordExists, r.Key())
		}
		st.DNSEntries = append(st.DNSEntries, r)
		return nil
	})
}

// Update replaces the record identified by key with r, which may carry a different key.
func (s *Store) Update(key RecordKey, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.mutate(func(st *Settings) error {
		i := indexOf(st.DNSEntries, key)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, key)
		}
		if j := indexOf(st.DNSEntries, r.Key()); j >= 0 && j != i {
			return fmt.Errorf("%w: %s", ErrRecordExists, r.Key())
		}
		st.DNSEntries[i] = r
		return nil
	})
}

// Toggle flips the enabled flag of the record and returns the new value.
func (s *Store) Toggle(key RecordKey) (enabled bool, err error) {
	err = s.mutate(func(st *Settings) error {
		i := indexOf(st.DNSEntries, key)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, key)
		}
		st.DNSEntries[i].Enabled = !st.DNSEntries[i].Enabled
		enabled = st.DNSEntries[i].Enabled
		return nil
	})
	return enabled, err
}

func (s *Store) Delete(key RecordKey) error {
	return s.mutate(func(st *Settings) error {
		i := indexOf(st.DNSEntries, key)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, key)
		}
		st.DNSEntries = slices.Delete(st.DNSEntries, i, i+1)
		return nil
	})
}

// Save writes the current settings to the backing file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) mutate(fn func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.settings.clone()
	if err := fn(&s.settings); err != nil {
		s.settings = old
		return err
	}
	if err := s.persistLocked(); err != nil {
		s.settings = old
		return err
	}
	return nil
}

func (s *Store) indexLocked(key RecordKey) int {
	return indexOf(s.settings.DNSEntries, key)
}

func indexOf(records []Record, key RecordKey) int {
	return slices.IndexFunc(records, func(r Record) bool { return r.Key() == key })
}

// persistLocked writes the settings atomically through a temp file and rename. Caller must hold mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	var raw []byte
	var err error
	if s.isYAML() {
		raw, err = yaml.Marshal(s.settings)
	} else {
		raw, err = json.MarshalIndent(s.settings, "", "\t")
	}
	if err != nil {
		return fmt.Errorf("error encoding settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ddns-*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error renaming temp file to %s: %w", s.path, err)
	}
	return nil
}
