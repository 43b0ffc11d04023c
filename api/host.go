// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// This statically typed data model matches the JSON schema used for the
// "/api/v1/hosts" service URL path of the services debugger. A host is a
// remote machine (or debug container) that is reachable via SSH and from which
// logs and network traffic get dumped.

package api

import (
	"fmt"
	"unicode/utf8"
)

// DefaultSSHPort is assumed for hosts registered without an explicit SSH
// port.
const DefaultSSHPort = 22

// Host limits on the lengths of the host name.
const (
	MinHostNameLen = 3
	MaxHostNameLen = 32
)

// Hosts is a list of host descriptions.
type Hosts []*Host

// Host describes a remote machine to which the services debugger connects
// using SSH with password authentication.
type Host struct {
	// Server-assigned identifier; zero when registering a new host.
	ID int `json:"host_id,omitempty" yaml:"host-id,omitempty"`
	// Short name of the host, between 3 and 32 characters.
	Name string `json:"name" yaml:"name"`
	// Free-form description.
	Description string `json:"description" yaml:"description"`
	// DNS name or IP address of the SSH server.
	SSHAddress string `json:"ssh_address" yaml:"ssh-address"`
	// TCP port of the SSH server.
	SSHPort int `json:"ssh_port" yaml:"ssh-port"`
	// SSH user name and password.
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password,omitempty"`
}

// ValidationError lists the reasons why a host (or task request) description
// got rejected.
type ValidationError struct {
	Fields map[string]string
}

// Error returns the rejection reasons in a stable order.
func (e *ValidationError) Error() string {
	msg := "invalid description:"
	for _, field := range sortedKeys(e.Fields) {
		msg += fmt.Sprintf(" %s: %s;", field, e.Fields[field])
	}
	return msg
}

// Validate checks the host description and fills in the default SSH port if
// missing. It returns a *ValidationError if the description is unusable.
func (h *Host) Validate() error {
	fields := map[string]string{}
	if n := utf8.RuneCountInString(h.Name); n < MinHostNameLen || n > MaxHostNameLen {
		fields["name"] = fmt.Sprintf("must have %d to %d characters", MinHostNameLen, MaxHostNameLen)
	}
	if h.SSHAddress == "" {
		fields["ssh_address"] = "must not be empty"
	}
	if h.SSHPort == 0 {
		h.SSHPort = DefaultSSHPort
	} else if h.SSHPort < 0 || h.SSHPort > 65535 {
		fields["ssh_port"] = "must be within 1..65535"
	}
	if h.Username == "" {
		fields["username"] = "must not be empty"
	}
	if len(fields) != 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Redacted returns a shallow copy of the host description with the password
// blanked, suitable for logging.
func (h *Host) Redacted() Host {
	r := *h
	if r.Password != "" {
		r.Password = "***"
	}
	return r
}
