// Package sensor exposes named diagnostic probes over HTTP.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// ErrUnknownSensor is returned when no sensor has the requested name.
var ErrUnknownSensor = errors.New("unknown sensor")

// Probe reads the current value of a sensor.
type Probe func(ctx context.Context) (any, error)

// Registry holds the named probes.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Probe)}
}

// Register adds a probe. Names are unique.
func (r *Registry) Register(name string, p Probe) error {
	if name == "" || p == nil {
		return fmt.Errorf("sensor name and probe are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.probes[name]; ok {
		return fmt.Errorf("sensor %q is already registered", name)
	}
	r.probes[name] = p
	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Read runs the named probe. A panicking probe is reported as an error.
func (r *Registry) Read(ctx context.Context, name string) (value any, err error) {
	r.mu.RLock()
	p, ok := r.probes[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			value, err = nil, fmt.Errorf("sensor %s panicked: %v", name, rec)
		}
	}()
	return p(ctx)
}

// VersionInfo is the value of the version sensor.
type VersionInfo struct {
	Version   string    `json:"version"`
	BuildDate time.Time `json:"buildDate"`
	Revision  string    `json:"revision,omitempty"`
	GoVersion string    `json:"goVersion,omitempty"`
}

// VersionProbe reports the build of the running binary. Empty arguments are
// filled from the embedded build info when available.
func VersionProbe(version string, buildDate time.Time) Probe {
	info := VersionInfo{Version: version, BuildDate: buildDate}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Version == "" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Revision = s.Value
			case "vcs.time":
				if info.BuildDate.IsZero() {
					if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
						info.BuildDate = t
					}
				}
			}
		}
	}
	return func(context.Context) (any, error) {
		return info, nil
	}
}
