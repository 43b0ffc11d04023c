// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"errors"
	"strings"

	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/cli"
	"github.com/thediveo/go-plugger/v3"
)

// NewClient returns a suitable svcdebug service client by asking the
// registered client factories one after another until the first one returns a
// client or an error.
func NewClient() (*svcdebug.Client, error) {
	for _, newClient := range plugger.Group[cli.NewClient]().Symbols() {
		c, err := newClient()
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	plugins := strings.Join(plugger.Group[cli.NewClient]().Plugins(), ", ")
	if plugins == "" {
		plugins = "(none)"
	}
	return nil, errors.New("no suitable svcdebug API client; available clients: " + plugins)
}
