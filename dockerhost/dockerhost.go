// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

/*
Package dockerhost discovers debug boxes running as Docker containers on the
local Docker host, so that they can be registered with the services debugger
without typing in their SSH addresses.

A container counts as a debug box when it publishes the debug box SSH port
10022/tcp to the Docker host.
*/
package dockerhost

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/siemens/svcdebug/api"
)

// DebugPort is the container port of the debug box SSH daemon.
const DebugPort = 10022

// Default debug box credentials.
const (
	DefaultUser     = "test_user"
	DefaultPassword = "test_password"
)

// ContainerLister lists containers; it is satisfied by the Docker client.
type ContainerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
}

// Discoverer finds debug box containers.
type Discoverer struct {
	lister   ContainerLister
	closer   func() error
	User     string
	Password string
}

// New returns a Discoverer talking to the Docker daemon as configured by the
// usual DOCKER_HOST et cetera environment variables.
func New() (*Discoverer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "cannot create Docker client")
	}
	d := NewWithLister(cli)
	d.closer = cli.Close
	return d, nil
}

// NewWithLister returns a Discoverer using the specified container lister.
func NewWithLister(lister ContainerLister) *Discoverer {
	return &Discoverer{
		lister:   lister,
		User:     DefaultUser,
		Password: DefaultPassword,
	}
}

// Close releases the Docker client, if any.
func (d *Discoverer) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

// Discover returns host candidates for all running debug box containers,
// sorted by name.
func (d *Discoverer) Discover(ctx context.Context) (api.Hosts, error) {
	containers, err := d.lister.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("status", "running"),
			filters.Arg("expose", fmt.Sprintf("%d/tcp", DebugPort))),
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot list Docker containers")
	}
	log.Debugf("found %d candidate containers", len(containers))
	return Hosts(containers, d.User, d.Password), nil
}

// Hosts converts containers publishing the debug box port into host
// descriptions with the specified credentials. Containers that don't publish
// the debug port are skipped.
func Hosts(containers []types.Container, user, password string) api.Hosts {
	hosts := api.Hosts{}
	for _, cntr := range containers {
		addr, port, ok := published(cntr.Ports)
		if !ok {
			continue
		}
		hosts = append(hosts, &api.Host{
			Name:        hostName(cntr),
			Description: fmt.Sprintf("container %s (%s)", shortID(cntr.ID), cntr.Image),
			SSHAddress:  addr,
			SSHPort:     port,
			Username:    user,
			Password:    password,
		})
	}
	sort.SliceStable(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
	return hosts
}

// published returns the host address and port the debug port is published
// on, preferring IPv4 bindings. Wildcard bindings map to the loopback address.
func published(ports []types.Port) (addr string, port int, ok bool) {
	for _, p := range ports {
		if p.PrivatePort != DebugPort || p.Type != "tcp" || p.PublicPort == 0 {
			continue
		}
		ip := net.ParseIP(p.IP)
		v6 := ip != nil && ip.To4() == nil
		if ok && v6 {
			continue
		}
		addr, port, ok = "127.0.0.1", int(p.PublicPort), true
		if ip != nil && !ip.IsUnspecified() {
			addr = ip.String()
		}
		if !v6 {
			break
		}
	}
	return
}

// hostName derives a valid host name from the container's name, falling back
// to its ID.
func hostName(cntr types.Container) string {
	name := ""
	if len(cntr.Names) > 0 {
		name = strings.TrimPrefix(cntr.Names[0], "/")
	}
	if len(name) < api.MinHostNameLen {
		name = "box-" + shortID(cntr.ID)
	}
	if len(name) > api.MaxHostNameLen {
		name = name[:api.MaxHostNameLen]
	}
	return name
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
