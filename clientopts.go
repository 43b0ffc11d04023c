// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Defines the options of clients talking to a svcdebug service.

package svcdebug

import "time"

// ClientOptions allows some degree of control over how to use a svcdebug
// service reachable at a given URL.
type ClientOptions struct {
	// BearerToken optionally specifies the bearer token to use when talking to
	// the svcdebug service.
	BearerToken string
	// Timeout specifies a time limit for requests made to the svcdebug
	// service. For REST calls it limits the time allowed to complete a request
	// and its response. For streams it limits just the connection
	// establishing phase, including the web socket handshake phase.
	Timeout time.Duration
	// InsecureSkipVerify skips verifying the server's TLS certificate.
	InsecureSkipVerify bool
}
