// Package profile owns the active profile and publishes each activation as an immutable
// generation.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midibridge/internal/binding"
	"github.com/leandrodaf/midibridge/internal/control"
	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// ErrProfileNotFound is returned by SwitchByName when no file matches the name.
var ErrProfileNotFound = errors.New("profile not found")

// Generation is one published activation. Table and Profile are read-only; States belongs to
// the inbound goroutine.
type Generation struct {
	ID      uint64
	Profile contracts.Profile
	Table   *binding.Table
	States  *control.Set
}

// Store holds the current generation. Readers call Current and keep the returned pointer
// for the duration of one event; the previous generation is collected once nobody holds it.
type Store struct {
	logger    contracts.Logger
	diag      contracts.Diagnostics
	persister contracts.ProfilePersister
	dir       string
	states    control.Config

	current atomic.Pointer[Generation]

	activateMu sync.Mutex // serializes writers; readers never take it
	nextID     uint64

	listenersMu sync.Mutex
	listeners   []func(*Generation)
}

// NewStore returns a store whose current generation is an empty profile.
func NewStore(options *contracts.BridgeOptions) *Store {
	persister := options.Persister
	if persister == nil {
		persister = YAMLPersister{}
	}
	s := &Store{
		logger:    options.Logger,
		diag:      options.Diagnostics,
		persister: persister,
		dir:       options.ProfileDir,
		states: control.Config{
			Resolution: options.Resolution,
			Curve: control.Curve{
				Window:    options.Acceleration.Window,
				MaxFactor: options.Acceleration.MaxFactor,
			},
		},
	}
	empty, _ := binding.Activate(contracts.Profile{})
	s.current.Store(&Generation{Table: empty, States: control.NewSet(s.states)})
	return s
}

// Current returns the published generation. It is never nil.
func (s *Store) Current() *Generation {
	return s.current.Load()
}

// CurrentProfile returns the active profile.
func (s *Store) CurrentProfile() contracts.Profile {
	return s.current.Load().Profile
}

// OnActivate registers fn to run after every successful activation. fn runs on the
// activating goroutine with no store lock held.
func (s *Store) OnActivate(fn func(*Generation)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// Activate validates profile and publishes it. On failure the previous generation stays
// in effect and the error wraps contracts.ErrInvalidBinding.
func (s *Store) Activate(profile contracts.Profile) (*Generation, error) {
	table, err := binding.Activate(profile)
	if err != nil {
		s.count(contracts.CounterProfileFailures)
		s.logger.Error("Profile activation failed",
			s.logger.Field().String("profile", profile.Name),
			s.logger.Field().Error("error", err))
		return nil, err
	}

	s.activateMu.Lock()
	s.nextID++
	gen := &Generation{
		ID:      s.nextID,
		Profile: profile,
		Table:   table,
		States:  control.NewSet(s.states),
	}
	s.current.Store(gen)
	s.activateMu.Unlock()

	s.count(contracts.CounterProfileActivations)
	s.logger.Info("Profile activated",
		s.logger.Field().String("profile", profile.Name),
		s.logger.Field().Uint64("generation", gen.ID),
		s.logger.Field().Int("bindings", table.Len()))

	s.listenersMu.Lock()
	listeners := append([]func(*Generation){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(gen)
	}
	return gen, nil
}

// Load reads the profile at path through the persister and activates it.
func (s *Store) Load(path string) (*Generation, error) {
	profile, err := s.persister.LoadProfile(path)
	if err != nil {
		s.count(contracts.CounterProfileFailures)
		s.logger.Error("Profile load failed",
			s.logger.Field().String("path", path),
			s.logger.Field().Error("error", err))
		return nil, err
	}
	if profile.Path == "" {
		profile.Path = path
	}
	return s.Activate(profile)
}

// Save writes the active profile to path, or to its source path when path is empty.
func (s *Store) Save(path string) error {
	profile := s.CurrentProfile()
	if path == "" {
		path = profile.Path
	}
	if path == "" {
		return errors.New("save profile: no path")
	}
	if err := s.persister.SaveProfile(profile, path); err != nil {
		s.logger.Error("Profile save failed",
			s.logger.Field().String("path", path),
			s.logger.Field().Error("error", err))
		return err
	}
	s.logger.Info("Profile saved",
		s.logger.Field().String("profile", profile.Name),
		s.logger.Field().String("path", path))
	return nil
}

// SwitchByName activates the profile called name from the profile directory. name may
// carry an extension; otherwise .yaml and .yml are tried.
func (s *Store) SwitchByName(name string) (*Generation, error) {
	if s.dir == "" {
		return nil, fmt.Errorf("%w: no profile directory configured", ErrProfileNotFound)
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: invalid name %q", ErrProfileNotFound, name)
	}
	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = []string{name + ".yaml", name + ".yml"}
	}
	for _, c := range candidates {
		path := filepath.Join(s.dir, c)
		if _, err := os.Stat(path); err == nil {
			return s.Load(path)
		}
	}
	s.count(contracts.CounterProfileFailures)
	s.logger.Warn("Requested profile not found",
		s.logger.Field().String("profile", name),
		s.logger.Field().String("dir", s.dir))
	return nil, fmt.Errorf("%w: %q in %s", ErrProfileNotFound, name, s.dir)
}

func (s *Store) count(c contracts.Counter) {
	if s.diag != nil {
		s.diag.Add(c, 1)
	}
}
