// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package command

import (
	"fmt"
	"strings"

	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/cli"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
)

// Provides the “svcdebug version” command. The semantic version is the one
// defined for the main svcdebug package. In addition, the version command
// lists the included service client types.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version (with integrated service clients).",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionInfo(cmd.Root().Name()))
	},
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(
		VersionSetupCLI, plugger.WithPlugin("version"))
}

// VersionSetupCLI adds the “version” command.
func VersionSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(versionCmd)
}

func versionInfo(name string) string {
	semver := svcdebug.SemVersion
	for _, pluginsemver := range plugger.Group[cli.SemVer]().Symbols() {
		semver = pluginsemver()
		break
	}
	clients := plugger.Group[cli.NewClient]().Plugins()
	if len(clients) == 0 {
		clients = []string{"none"}
	}
	return fmt.Sprintf("%s version %s (service clients: %s)",
		name, semver, strings.Join(clients, ", "))
}
