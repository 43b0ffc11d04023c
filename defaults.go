// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package svcdebug

import "time"

const (
	// DefaultServiceTimeout specifies the time limit for completing REST API
	// calls and for establishing a stream connection to the svcdebug service.
	DefaultServiceTimeout = 30 * time.Second

	// DefaultTaskTimeout limits starting new dump tasks, from connecting to
	// the remote host until the remote command is up and running.
	DefaultTaskTimeout = 5 * time.Second

	// DefaultStartGrace is the period a freshly started remote dump command
	// must survive in order to count as successfully started.
	DefaultStartGrace = 250 * time.Millisecond
)
