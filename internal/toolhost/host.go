// Package toolhost connects external tool servers. Each host owns a
// namespace; a call to "db::run_query" is routed to the host named "db" with
// the bare tool name "run_query". Hosts are external collaborators: their
// process lifecycle and tool implementations are their own business, this
// package only speaks their invocation protocol.
package toolhost

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/codefionn/werkzeug/internal/config"
	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/toolcall"
	"github.com/codefionn/werkzeug/internal/tools"
)

// Host exposes a namespace of invocable tools.
type Host interface {
	Name() string
	// List returns the host's tool specs with bare names.
	List() []tools.Spec
	Invoke(ctx context.Context, tool string, args map[string]interface{}) (string, error)
}

// Registry holds the configured hosts by name.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]Host
}

// NewRegistry creates an empty host registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[string]Host)}
}

// Add registers a host under its name.
func (r *Registry) Add(host Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := host.Name()
	if name == "" {
		return fmt.Errorf("host has no name")
	}
	if _, exists := r.hosts[name]; exists {
		return fmt.Errorf("host %s already registered", name)
	}
	r.hosts[name] = host
	return nil
}

// Get returns the host with the given name.
func (r *Registry) Get(name string) (Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	host, ok := r.hosts[name]
	return host, ok
}

// List returns all host tool specs under their qualified names, sorted for
// stable prompt construction.
func (r *Registry) List() []tools.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var specs []tools.Spec
	for name, host := range r.hosts {
		for _, spec := range host.List() {
			spec.Name = name + toolcall.NameSeparator + spec.Name
			specs = append(specs, spec)
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// BuildHosts constructs the hosts defined in configuration. A host that
// fails to build is skipped and reported; the remaining hosts stay usable.
func BuildHosts(cfg *config.Config) (*Registry, []error) {
	registry := NewRegistry()
	var errs []error

	names := make([]string, 0, len(cfg.Hosts))
	for name := range cfg.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		hostCfg := cfg.Hosts[name]
		if hostCfg == nil || hostCfg.Disabled {
			continue
		}

		host, err := buildHost(name, hostCfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("host %s: %w", name, err))
			continue
		}
		if err := registry.Add(host); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("Registered tool host %s (%s) with %d tools", name, hostCfg.Type, len(host.List()))
	}

	return registry, errs
}

func buildHost(name string, hostCfg *config.HostConfig) (Host, error) {
	switch hostCfg.Type {
	case "command":
		if hostCfg.Command == nil {
			return nil, fmt.Errorf("command host without command settings")
		}
		return NewCommandHost(name, hostCfg.Command), nil
	case "openapi":
		if hostCfg.OpenAPI == nil {
			return nil, fmt.Errorf("openapi host without openapi settings")
		}
		return NewOpenAPIHost(name, hostCfg.OpenAPI)
	default:
		return nil, fmt.Errorf("unknown host type %q", hostCfg.Type)
	}
}
