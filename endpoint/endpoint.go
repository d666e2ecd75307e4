// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoint computes the listen addresses for the primary (HTTP) and
// secondary (push) channels from a single configured base port.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrPortCollision is returned when the push port would collide with the
// primary port. This is fatal at startup.
var ErrPortCollision = errors.New("push port collides with primary port")

// Config holds the inputs for endpoint resolution.
type Config struct {
	// Host is the bind host for both channels.
	Host string

	// BasePort is the primary (HTTP) channel port.
	BasePort int

	// PushPort overrides the secondary channel port. Zero means BasePort+1.
	PushPort int

	// Environment is an operator-facing label (e.g. "local", "production")
	// echoed through discovery responses.
	Environment string
}

// Info describes the resolved endpoints. Computed once at startup and
// immutable for the process lifetime.
type Info struct {
	PrimaryHost   string
	PrimaryPort   int
	SecondaryHost string
	SecondaryPort int
	Environment   string
	Hostname      string
	LocalIP       string
}

// WebSocketURL returns the ws:// URL of the secondary channel.
func (i *Info) WebSocketURL() string {
	host := i.SecondaryHost
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d", host, i.SecondaryPort)
}

// PrimaryAddr returns the primary channel listen address.
func (i *Info) PrimaryAddr() string {
	return fmt.Sprintf("%s:%d", i.PrimaryHost, i.PrimaryPort)
}

// SecondaryAddr returns the secondary channel listen address.
func (i *Info) SecondaryAddr() string {
	return fmt.Sprintf("%s:%d", i.SecondaryHost, i.SecondaryPort)
}

// Resolve computes endpoint info from the configuration. The secondary port
// defaults to BasePort+1; an explicit PushPort override is honored but must
// not collide with the primary port.
func Resolve(cfg Config) (*Info, error) {
	if cfg.BasePort <= 0 || cfg.BasePort > 65535 {
		return nil, fmt.Errorf("base port %d out of range", cfg.BasePort)
	}

	secondary := cfg.BasePort + 1
	if cfg.PushPort != 0 {
		if cfg.PushPort < 0 || cfg.PushPort > 65535 {
			return nil, fmt.Errorf("push port %d out of range", cfg.PushPort)
		}
		secondary = cfg.PushPort
	}

	if secondary == cfg.BasePort {
		return nil, fmt.Errorf("%w: both on %d", ErrPortCollision, cfg.BasePort)
	}
	if secondary > 65535 {
		return nil, fmt.Errorf("push port %d out of range", secondary)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Info{
		PrimaryHost:   cfg.Host,
		PrimaryPort:   cfg.BasePort,
		SecondaryHost: cfg.Host,
		SecondaryPort: secondary,
		Environment:   cfg.Environment,
		Hostname:      hostname,
		LocalIP:       localIP(),
	}, nil
}

// localIP returns the first non-loopback IPv4 address, best-effort.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
