// internal/di/container.go
package di

import (
	"fmt"
	"sort"
	"sync"
)

// Container holds the services of one process by name and releases them in
// reverse registration order on Shutdown.
type Container struct {
	mu       sync.RWMutex
	services map[string]interface{}
	order    []string
	closers  map[string]func()
	shutdown bool
}

// NewContainer creates an empty container
func NewContainer() *Container {
	return &Container{
		services: make(map[string]interface{}),
		closers:  make(map[string]func()),
	}
}

// Register stores service under name. Registering a name again replaces the
// service but keeps its original shutdown position.
func (c *Container) Register(name string, service interface{}) {
	c.register(name, service, nil)
}

// RegisterWithClose registers service together with the func that releases it
func (c *Container) RegisterWithClose(name string, service interface{}, closeFn func()) {
	c.register(name, service, closeFn)
}

func (c *Container) register(name string, service interface{}, closeFn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; !exists {
		c.order = append(c.order, name)
	}
	c.services[name] = service
	if closeFn != nil {
		c.closers[name] = closeFn
	} else {
		delete(c.closers, name)
	}
}

// Get returns the service registered under name, or nil
func (c *Container) Get(name string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.services[name]
}

// Has reports whether name is registered
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.services[name]
	return exists
}

// Names returns the registered names in sorted order
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown runs the close funcs, last registered first. Only the first call
// has an effect.
func (c *Container) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	closers := make([]func(), 0, len(c.closers))
	for i := len(c.order) - 1; i >= 0; i-- {
		if closeFn, ok := c.closers[c.order[i]]; ok {
			closers = append(closers, closeFn)
		}
	}
	c.mu.Unlock()

	for _, closeFn := range closers {
		closeFn()
	}
}

// Resolve returns the service registered under name as a T
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T

	service := c.Get(name)
	if service == nil {
		return zero, fmt.Errorf("service %q is not registered", name)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("service %q is %T, not %T", name, service, zero)
	}
	return typed, nil
}

// MustResolve is Resolve for wiring code where a missing service is a bug
func MustResolve[T any](c *Container, name string) T {
	service, err := Resolve[T](c, name)
	if err != nil {
		panic(err)
	}
	return service
}
