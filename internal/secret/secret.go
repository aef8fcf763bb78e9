// Package secret holds credentials that are injected at startup rather than
// read from configuration at every use.
package secret

import (
	"errors"
	"sync"
)

// ErrNotInjected is returned by Get before a value has been injected.
var ErrNotInjected = errors.New("secret not injected")

// Accessor is a process-wide slot for one secret value.
type Accessor struct {
	mu    sync.RWMutex
	value string
	set   bool
}

// Inject stores v, replacing any previous value.
func (a *Accessor) Inject(v string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
	a.set = true
}

// Get returns the injected value.
func (a *Accessor) Get() (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.set {
		return "", ErrNotInjected
	}
	return a.value, nil
}

// Default holds the model provider API key.
var Default = &Accessor{}
