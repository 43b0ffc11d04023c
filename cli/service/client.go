// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Package service registers the svcdebug service client plugin, which talks
// to the svcdebug service specified using the "--server" flag.
package service

import (
	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/cli"
	"github.com/siemens/svcdebug/cli/command"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// DefaultServer is the svcdebug service contacted if not told otherwise.
const DefaultServer = "http://localhost:8000"

// ServiceURL specifies the [http://|https://]hostname[:port][/path] of a
// svcdebug service.
var ServiceURL string

// Insecure skips invalid server certificates.
var Insecure bool

func init() {
	plugger.Group[cli.SetupCLI]().Register(
		ServerSetupCLI, plugger.WithPlugin("server"))
	plugger.Group[cli.NewClient]().Register(
		NewServerClient, plugger.WithPlugin("server"))
	plugger.Group[cli.CommandExamples]().Register(
		func() map[string]string {
			return map[string]string{
				"hosts list": `# List the hosts registered with a remote svcdebug service.
svcdebug --server https://debugger.example.org:8443 --token s3cr3t hosts list`,
			}
		},
		plugger.WithPlugin("server"), plugger.WithPlacement("<"))
}

// ServerSetupCLI adds the "--server" and "--insecure" flags.
func ServerSetupCLI(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&ServiceURL, "server", DefaultServer,
		"[http://|https://]hostname[:port][/path] of the svcdebug service")
	pf.BoolVarP(&Insecure, "insecure", "k", false,
		"Danger: skip invalid server certificates when connecting to the svcdebug service")
}

// NewServerClient returns a client for the svcdebug service specified by
// "--server".
func NewServerClient() (*svcdebug.Client, error) {
	if ServiceURL == "" {
		return nil, nil
	}
	return svcdebug.NewClient(ServiceURL, &svcdebug.ClientOptions{
		BearerToken:        command.BearerToken,
		Timeout:            command.ReqTimeout,
		InsecureSkipVerify: Insecure,
	})
}
