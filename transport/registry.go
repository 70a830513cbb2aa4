package transport

import (
	"fmt"
	"sync"
)

// FactoryBuilder creates a Factory for the transport it is registered
// under. Transport plugins call Register from init().
type FactoryBuilder func() (Factory, error)

var (
	mu       sync.RWMutex
	builders = make(map[string]FactoryBuilder)
)

// Register adds a named transport factory builder.
func Register(name string, builder FactoryBuilder) {
	mu.Lock()
	defer mu.Unlock()
	builders[name] = builder
}

// Create instantiates a Factory by name using its registered builder.
func Create(name string) (Factory, error) {
	mu.RLock()
	b, ok := builders[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: unknown transport %q", name)
	}
	return b()
}
