// Package sourcing decides which providers serve a capability and in what
// order, based on the operator's persisted provider configuration.
package sourcing

import "sort"

// ProviderSetting is one operator-configured provider row. Priority orders
// enabled providers ascending; disabled rows exclude the provider entirely.
type ProviderSetting struct {
	Name     string
	Enabled  bool
	Priority int
}

// Snapshot is an immutable view of the provider configuration. Build one
// with NewSnapshot whenever the configuration changes and swap it in; a
// snapshot itself needs no locking.
type Snapshot struct {
	hasExplicit bool
	configured  map[string]struct{} // explicitly enabled
	disabled    map[string]struct{} // explicitly disabled
	priority    []string            // enabled names, ascending priority
}

// NewSnapshot builds a snapshot from configured rows. Ties in priority keep
// the input order, so callers feeding rows sorted by name get stable output.
func NewSnapshot(settings []ProviderSetting) *Snapshot {
	s := &Snapshot{
		hasExplicit: len(settings) > 0,
		configured:  make(map[string]struct{}),
		disabled:    make(map[string]struct{}),
	}

	enabled := make([]ProviderSetting, 0, len(settings))
	for _, ps := range settings {
		if ps.Enabled {
			s.configured[ps.Name] = struct{}{}
			enabled = append(enabled, ps)
		} else {
			s.disabled[ps.Name] = struct{}{}
		}
	}

	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })
	for _, ps := range enabled {
		s.priority = append(s.priority, ps.Name)
	}
	return s
}

// HasExplicitConfig reports whether the operator configured any provider.
func (s *Snapshot) HasExplicitConfig() bool { return s.hasExplicit }

// IsDisabled reports whether the provider is explicitly disabled.
func (s *Snapshot) IsDisabled(name string) bool {
	_, ok := s.disabled[name]
	return ok
}

// IsConfigured reports whether the provider is explicitly enabled.
func (s *Snapshot) IsConfigured(name string) bool {
	_, ok := s.configured[name]
	return ok
}

// PriorityOrder returns the enabled providers in ascending priority.
func (s *Snapshot) PriorityOrder() []string {
	out := make([]string, len(s.priority))
	copy(out, s.priority)
	return out
}

// Resolve returns the providers to try for a capability, in order.
//
// allowed is the capability's full provider set; defaultOrder is its
// built-in preference order (a subset of allowed). With no explicit
// configuration the default order stands. With configuration, explicitly
// enabled providers lead in priority order, then the remaining unconfigured
// providers follow in default order. Disabled providers never appear; if
// the operator disabled everything the result is empty and stays empty.
func (s *Snapshot) Resolve(allowed, defaultOrder []string) []string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}

	if !s.hasExplicit {
		return s.defaults(allowedSet, defaultOrder)
	}

	var out []string
	for _, name := range s.priority {
		if _, ok := allowedSet[name]; ok {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		// Configuration exists but names no provider this capability can
		// use. Treat the capability as unconfigured so enabling a search
		// engine cannot starve quotes, honoring disables all the same.
		return s.defaults(allowedSet, defaultOrder)
	}

	for _, name := range defaultOrder {
		if _, ok := allowedSet[name]; !ok {
			continue
		}
		if s.IsConfigured(name) || s.IsDisabled(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func (s *Snapshot) defaults(allowedSet map[string]struct{}, defaultOrder []string) []string {
	var out []string
	for _, name := range defaultOrder {
		if _, ok := allowedSet[name]; !ok {
			continue
		}
		if s.IsDisabled(name) {
			continue
		}
		out = append(out, name)
	}
	return out
}
