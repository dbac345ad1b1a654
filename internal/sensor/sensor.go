// Package sensor models the motion sensors the relay can stream from: the
// sample data types, the per-type registry, and the fan-out hub that feeds
// every connected session from one physical source.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrSensorNotFound is returned when no sensor of the requested type is
	// registered.
	ErrSensorNotFound = errors.New("sensor not found")
	// ErrHubClosed ends a sensor loop whose hub has shut down.
	ErrHubClosed = errors.New("sensor hub closed")
)

// FrameFunc handles one batch. A non-nil error stops the sensor loop and is
// returned from ExecuteSensorLoop unchanged.
type FrameFunc func(*SampleBatch) error

// Sensor is an acquired handle on one logical sensor.
type Sensor interface {
	Type() Type
	// WaitForConsent blocks until the user grants or denies access, or ctx is
	// cancelled (treated as denial).
	WaitForConsent(ctx context.Context) bool
	// ExecuteSensorLoop delivers batches to fn until ctx is cancelled, fn
	// returns an error, or the sensor stops. Calls to fn never overlap.
	ExecuteSensorLoop(ctx context.Context, fn FrameFunc) error
	// Extrinsics is the fixed sensor-to-rig transform.
	Extrinsics() Pose
}

// Finder resolves a sensor by type.
type Finder interface {
	Find(t Type) (Sensor, error)
}

// Registry maps sensor types to the sensors that serve them.
type Registry struct {
	mu      sync.RWMutex
	sensors map[Type]Sensor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sensors: make(map[Type]Sensor)}
}

// Register adds s under its own type. A second sensor of the same type is
// rejected.
func (r *Registry) Register(s Sensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sensors[s.Type()]; ok {
		return fmt.Errorf("sensor %s already registered", s.Type())
	}
	r.sensors[s.Type()] = s
	return nil
}

// Find returns the sensor registered for t, or ErrSensorNotFound.
func (r *Registry) Find(t Type) (Sensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sensors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSensorNotFound, t)
	}
	return s, nil
}

// Types lists the registered types in ascending order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.sensors))
	for t := range r.sensors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
