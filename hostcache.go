// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Provides caching host descriptions and looking them up again.

package svcdebug

import (
	"strconv"
	"sync"

	"github.com/siemens/svcdebug/api"
)

// HostCache caches and indexes a set of registered hosts. It can safely be
// accessed simultaneously by multiple go routines.
type HostCache struct {
	// The list of host descriptions
	hs api.Hosts
	// Hosts by their IDs.
	byID map[int]*api.Host
	// Hosts by their names; names are not necessarily unique, so there
	// might be multiple hosts with the same name.
	byName map[string]api.Hosts
	m      sync.Mutex
}

// IsEmpty returns true if the cache is empty, otherwise false.
func (hc *HostCache) IsEmpty() bool {
	hc.m.Lock()
	defer hc.m.Unlock()
	return len(hc.hs) == 0
}

// Hosts returns the list of host descriptions.
func (hc *HostCache) Hosts() api.Hosts {
	hc.m.Lock()
	defer hc.m.Unlock()
	return hc.hs
}

// ByID returns the host with the specified ID.
func (hc *HostCache) ByID(id int) (*api.Host, bool) {
	hc.m.Lock()
	defer hc.m.Unlock()
	h, ok := hc.byID[id]
	return h, ok
}

// ByName returns the host with the specified name. If there are multiple hosts
// with the same name, the lookup fails and returns (nil, false); use ByID()
// instead.
func (hc *HostCache) ByName(name string) (*api.Host, bool) {
	hc.m.Lock()
	defer hc.m.Unlock()
	if hs, ok := hc.byName[name]; ok && len(hs) == 1 {
		return hs[0], true
	}
	return nil, false
}

// Lookup returns the host with the specified ID (in decimal), or otherwise
// the host with the specified name.
func (hc *HostCache) Lookup(idOrName string) (*api.Host, bool) {
	if id, err := strconv.Atoi(idOrName); err == nil {
		if h, ok := hc.ByID(id); ok {
			return h, true
		}
	}
	return hc.ByName(idOrName)
}

// Set the host descriptions to be cached.
func (hc *HostCache) Set(hs api.Hosts) {
	hc.m.Lock()
	defer hc.m.Unlock()
	hc.hs = hs
	hc.byID = make(map[int]*api.Host, len(hs))
	hc.byName = make(map[string]api.Hosts, len(hs))
	for _, h := range hs {
		hc.byID[h.ID] = h
		hc.byName[h.Name] = append(hc.byName[h.Name], h)
	}
}

// Clear the cached host descriptions.
func (hc *HostCache) Clear() {
	hc.m.Lock()
	defer hc.m.Unlock()
	hc.hs = api.Hosts{}
	hc.byID = nil
	hc.byName = nil
}
