// Package dependency wires the bridge services using go.uber.org/dig.
// The supervisor/registrar pair is explicitly constructed and passed down;
// nothing here is a process-global singleton.
package dependency

import (
	"go.uber.org/dig"

	"github.com/unitybridge/unitybridge/internal/config"
	"github.com/unitybridge/unitybridge/internal/gateway"
	"github.com/unitybridge/unitybridge/internal/registry"
	"github.com/unitybridge/unitybridge/internal/schedule"
	"github.com/unitybridge/unitybridge/internal/unity"
)

// Container holds the resolved service singletons. Callers use the typed
// getters; they never need to import dig directly.
type Container struct {
	manager  *unity.Manager
	registry *registry.Registry
	invoker  *registry.Invoker
	gateway  *gateway.Server
	refresh  *schedule.Service
}

func (c *Container) Manager() *unity.Manager      { return c.manager }
func (c *Container) Registry() *registry.Registry { return c.registry }
func (c *Container) Invoker() *registry.Invoker   { return c.invoker }
func (c *Container) Gateway() *gateway.Server     { return c.gateway }
func (c *Container) Refresh() *schedule.Service   { return c.refresh }

// New builds and wires all bridge services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(newClient); err != nil {
		return nil, err
	}
	if err := d.Provide(newManager); err != nil {
		return nil, err
	}
	if err := d.Provide(newRegistry); err != nil {
		return nil, err
	}
	if err := d.Provide(newInvoker); err != nil {
		return nil, err
	}
	if err := d.Provide(newGateway); err != nil {
		return nil, err
	}
	if err := d.Provide(newRefresh); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		mgr *unity.Manager,
		reg *registry.Registry,
		inv *registry.Invoker,
		gw *gateway.Server,
		refresh *schedule.Service,
	) {
		result = &Container{
			manager:  mgr,
			registry: reg,
			invoker:  inv,
			gateway:  gw,
			refresh:  refresh,
		}
	})
	return result, err
}

func newClient(cfg *config.Config) *unity.Client {
	u := cfg.Unity
	return unity.NewClient(unity.ClientOptions{
		Addr:              u.Addr(),
		ConnectDelay:      u.ReconnectDelayDuration(),
		RequestTimeout:    u.RequestTimeoutDuration(),
		HandshakeTimeout:  u.HandshakeTimeoutDuration(),
		KeepAliveInterval: u.KeepAliveIntervalDuration(),
		MaxFrameSize:      u.MaxFrameSize,
	})
}

func newManager(cfg *config.Config, client *unity.Client) *unity.Manager {
	u := cfg.Unity
	return unity.NewManager(client, unity.ManagerOptions{
		ConnectAttempts:   u.ConnectAttempts,
		ReconnectAttempts: u.ReconnectAttempts,
		ReconnectDelay:    u.ReconnectDelayDuration(),
		AutoReconnect:     u.AutoReconnect,
	})
}

func newRegistry(mgr *unity.Manager) *registry.Registry {
	return registry.New(mgr)
}

func newInvoker(reg *registry.Registry, mgr *unity.Manager) *registry.Invoker {
	return registry.NewInvoker(reg, mgr)
}

func newGateway(cfg *config.Config, mgr *unity.Manager, reg *registry.Registry, inv *registry.Invoker) *gateway.Server {
	return gateway.New(cfg.Gateway.Addr(), mgr, reg, inv)
}

func newRefresh(cfg *config.Config, reg *registry.Registry) *schedule.Service {
	return schedule.NewService(cfg.Schema.RefreshSpec, reg.RegisterFromSchema)
}
