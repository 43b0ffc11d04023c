// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package sshconn

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// ErrLeaseNotFound is returned when releasing an unknown or already released
// lease.
var ErrLeaseNotFound = errors.New("lease not found")

// LeaseIDLen is the length of lease identifiers.
const LeaseIDLen = 8

// DefaultDialTimeout limits establishing new SSH connections, including the
// SSH handshake and authentication.
const DefaultDialTimeout = 10 * time.Second

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// connkey identifies a shared connection.
type connkey struct {
	address string
	port    int
}

func (k connkey) String() string {
	return net.JoinHostPort(k.address, strconv.Itoa(k.port))
}

// Dialer establishes new SSH client connections.
type Dialer func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Manager leases shared SSH connections. It can safely be used from multiple
// go routines simultaneously.
type Manager struct {
	name        string
	log         *log.Entry
	DialTimeout time.Duration
	dial        Dialer

	m       sync.Mutex
	conns   map[connkey]*ssh.Client
	dialing map[connkey]*dialing
	leases  map[string]connkey
}

// dialing tracks a connection attempt in progress, so that concurrent Gets
// for the same address and port wait for it instead of dialing again.
type dialing struct {
	done chan struct{}
	err  error
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// DefaultManager returns the process-wide connection manager, creating it on
// first use. All callers share the same manager, regardless of the name passed.
func DefaultManager(name string) *Manager {
	defaultOnce.Do(func() {
		defaultManager = New(name)
	})
	return defaultManager
}

// New returns a new, independent connection manager.
func New(name string) *Manager {
	m := &Manager{
		name:        name,
		log:         log.WithField("ssh-manager", name),
		DialTimeout: DefaultDialTimeout,
		dial:        ssh.Dial,
		conns:       map[connkey]*ssh.Client{},
		dialing:     map[connkey]*dialing{},
		leases:      map[string]connkey{},
	}
	m.log.Info("new SSH connection manager")
	return m
}

// String returns a description of the manager.
func (m *Manager) String() string {
	return fmt.Sprintf("sshconn.Manager(name=%q)", m.name)
}

// SetDialer replaces the function used to dial new SSH connections.
func (m *Manager) SetDialer(d Dialer) {
	m.m.Lock()
	defer m.m.Unlock()
	m.dial = d
}

// Get leases an SSH connection to the specified address and port. If there
// already is an open connection to the same address and port, it is reused;
// otherwise, a new connection is established using the given credentials.
// Get returns a fresh lease ID together with the connection.
//
// Dialing happens without holding the manager lock, so an unreachable host
// only delays Gets for that same address and port.
func (m *Manager) Get(address string, port int, username, password string) (string, *ssh.Client, error) {
	key := connkey{address: address, port: port}
	l := m.log.WithField("conn", key.String())
	l.Infof("requesting SSH connection for %q", username)
	m.m.Lock()
	for {
		l.Debugf("open connections: %d, active leases: %d", len(m.conns), len(m.leases))
		if conn, ok := m.conns[key]; ok {
			defer m.m.Unlock()
			return m.lease(l, key), conn, nil
		}
		d, ok := m.dialing[key]
		if !ok {
			break
		}
		m.m.Unlock()
		<-d.done
		if d.err != nil {
			return "", nil, d.err
		}
		m.m.Lock()
	}
	d := &dialing{done: make(chan struct{})}
	m.dialing[key] = d
	dial, timeout := m.dial, m.DialTimeout
	m.m.Unlock()

	conn, err := m.connect(dial, timeout, key, username, password)

	m.m.Lock()
	defer m.m.Unlock()
	delete(m.dialing, key)
	d.err = err
	close(d.done)
	if err != nil {
		return "", nil, err
	}
	m.conns[key] = conn
	go m.watch(key, conn)
	return m.lease(l, key), conn, nil
}

// lease registers a new lease for the connection identified by key; the
// caller must hold the manager lock.
func (m *Manager) lease(l *log.Entry, key connkey) string {
	leaseID := m.newLeaseID()
	m.leases[leaseID] = key
	l.WithField("lease", leaseID).Info("new lease")
	return leaseID
}

// connect dials a new SSH connection; any host key is accepted, as debug
// targets come and go with fresh keys.
func (m *Manager) connect(dial Dialer, timeout time.Duration, key connkey, username, password string) (*ssh.Client, error) {
	m.log.WithField("conn", key.String()).Info("creating new SSH connection")
	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106
		Timeout:         timeout,
	}
	conn, err := dial("tcp", key.String(), config)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to %s", key)
	}
	return conn, nil
}

// watch forgets the connection as soon as it breaks, so that the next Get
// dials anew. Leases on the broken connection stay valid until released.
func (m *Manager) watch(key connkey, conn *ssh.Client) {
	err := conn.Wait()
	m.m.Lock()
	defer m.m.Unlock()
	if m.conns[key] == conn {
		m.log.WithField("conn", key.String()).Infof("connection lost: %v", err)
		delete(m.conns, key)
	}
}

// newLeaseID returns a random lease ID not in use by any active lease.
func (m *Manager) newLeaseID() string {
	for {
		id := RandomID(LeaseIDLen)
		if _, taken := m.leases[id]; !taken {
			return id
		}
	}
}

// Release releases the specified lease. When it was the last lease for its
// connection, the connection gets closed.
func (m *Manager) Release(leaseID string) error {
	l := m.log.WithField("lease", leaseID)
	l.Info("releasing lease")
	m.m.Lock()
	defer m.m.Unlock()
	key, ok := m.leases[leaseID]
	if !ok {
		return errors.Wrapf(ErrLeaseNotFound, "failed to find the lease ID %s in lease list", leaseID)
	}
	delete(m.leases, leaseID)
	for _, leased := range m.leases {
		if leased == key {
			return nil
		}
	}
	conn, ok := m.conns[key]
	if !ok {
		// already lost or destroyed.
		return nil
	}
	l.WithField("conn", key.String()).Info("closing connection")
	delete(m.conns, key)
	return conn.Close()
}

// DestroyAll closes all connections and invalidates all leases.
func (m *Manager) DestroyAll() {
	m.log.Info("destroying all connections")
	m.m.Lock()
	defer m.m.Unlock()
	for key, conn := range m.conns {
		if err := conn.Close(); err != nil {
			m.log.WithField("conn", key.String()).Debugf("closing: %s", err.Error())
		}
	}
	m.conns = map[connkey]*ssh.Client{}
	m.leases = map[string]connkey{}
}

// Leases returns the number of active leases.
func (m *Manager) Leases() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.leases)
}

// Connections returns the number of open connections.
func (m *Manager) Connections() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.conns)
}

// Connection leases a connection, calls fn with it and finally releases the
// lease again.
func (m *Manager) Connection(address string, port int, username, password string, fn func(*ssh.Client) error) error {
	leaseID, conn, err := m.Get(address, port, username, password)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Release(leaseID); err != nil {
			m.log.WithField("lease", leaseID).Warnf("release: %s", err.Error())
		}
	}()
	return fn(conn)
}

// RandomID returns a random identifier of the given length, consisting of
// upper case ASCII letters and digits.
func RandomID(n int) string {
	id := make([]byte, n)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range id {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		id[i] = idAlphabet[idx.Int64()]
	}
	return string(id)
}
