// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Implements the svcdebug "root" command with its global CLI flags.
// Additionally applies environment variables and the optional configuration
// file to all flags, so individual commands do not need to care.

package command

import (
	"time"

	"github.com/siemens/svcdebug/cli"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// EnvPrefix is the prefix of environment variables configuring svcdebug.
const EnvPrefix = "SVCDEBUG"

// BearerToken specifies an optional user-supplied bearer token for
// authentication to the svcdebug service; when serving, clients must present
// this token.
var BearerToken string

// ReqTimeout specifies the length of time to wait before giving up on a single
// server request.
var ReqTimeout time.Duration

// ConfigFile optionally names a YAML configuration file.
var ConfigFile string

// rootCmd represents the Cobra "root" command thus the svcdebug CLI itself.
var rootCmd = &cobra.Command{
	Use:   "svcdebug",
	Short: "Debug services via SSH-reachable debug boxes",
	Long: `svcdebug manages debug boxes (and other SSH-reachable hosts) and dumps
their logs and network traffic, either into files on the svcdebug service or
live to the command line.`,
	// See: https://github.com/spf13/cobra/issues/340
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.BindConfig(cmd, EnvPrefix, ConfigFile); err != nil {
			return err
		}
		// Run the registered before-the-command plugins
		for _, beforeCmd := range plugger.Group[cli.BeforeCommand]().Symbols() {
			if err := beforeCmd(cmd); err != nil {
				return err
			}
		}
		return nil
	},
}

// SetupCLI registers the global ("persistent") CLI flags, as well as the
// (sub)commands. The individual commands are registered via a plugin-mechanism.
func SetupCLI() *cobra.Command {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&BearerToken, "token", "",
		"Bearer token for authentication to the svcdebug service")
	pf.DurationVar(&ReqTimeout, "request-timeout", 0,
		`The length of time to wait before giving up on a single server request.
Non-zero values should contain a corresponding time unit (e.g. 1s, 2m, 3h).
A value of zero means the default timeout of 30s.`)
	pf.StringVar(&ConfigFile, "config", "",
		"YAML configuration file; flags can also be set via SVCDEBUG_* environment variables")

	// Call registered plugins in order to add further CLI args as well as
	// commands to the root command (or below).
	for _, setupCLI := range plugger.Group[cli.SetupCLI]().Symbols() {
		setupCLI(rootCmd)
	}
	// Fill in/expand command example sections, where additional command
	// examples are available.
	cli.SetExamples(rootCmd)

	return rootCmd
}
