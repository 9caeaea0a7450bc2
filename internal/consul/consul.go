// Package consul registers the service with a Consul agent so peers and load balancers
// can discover it.
package consul

import (
	"fmt"
	"log/slog"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

func NewClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return client, nil
}

func ServiceID(name, host string, port int) string {
	return name + "-" + host + "-" + strconv.Itoa(port)
}

func registration(name, host string, port int) *consulapi.AgentServiceRegistration {
	return &consulapi.AgentServiceRegistration{
		ID:      ServiceID(name, host, port),
		Name:    name,
		Address: host,
		Port:    port,
		Tags:    []string{"http"},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/ping", host, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

// Register adds the service with an HTTP health check on /ping and returns its id.
func Register(client *consulapi.Client, name, host string, port int) (string, error) {
	reg := registration(name, host, port)
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return "", fmt.Errorf("register %s: %w", reg.ID, err)
	}
	slog.Info("registered with consul", slog.String("service", reg.ID))
	return reg.ID, nil
}

func Deregister(client *consulapi.Client, id string) error {
	if err := client.Agent().ServiceDeregister(id); err != nil {
		return fmt.Errorf("deregister %s: %w", id, err)
	}
	return nil
}

