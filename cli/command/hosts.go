// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Provides the "svcdebug hosts" commands for managing the hosts registered
// with a svcdebug service, including the discovery of debug box containers on
// the local Docker host.

package command

import (
	"context"
	"fmt"

	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/cli"
	"github.com/siemens/svcdebug/dockerhost"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
	"github.com/thediveo/klo"
)

var hostSpecs = &klo.Specs{
	DefaultColumnSpec: HostListTemplate,
	WideColumnSpec:    HostWideListTemplate,
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Manage the hosts to debug",
}

var hostsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered hosts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := NewClient()
		if err != nil {
			return err
		}
		hosts, err := c.Hosts()
		if err != nil {
			return err
		}
		return printValue(cmd, hostSpecs, hosts)
	},
}

var hostsGetCmd = &cobra.Command{
	Use:   "get HOST",
	Short: "Show a registered host, identified by ID or unique name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := NewClient()
		if err != nil {
			return err
		}
		host, err := c.Lookup(args[0])
		if err != nil {
			return err
		}
		return printValue(cmd, hostSpecs, api.Hosts{host})
	},
}

var hostsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := NewClient()
		if err != nil {
			return err
		}
		host := &api.Host{}
		hostFromFlags(cmd, host)
		id, err := c.AddHost(host)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var hostsUpdateCmd = &cobra.Command{
	Use:   "update HOST",
	Short: "Update a registered host; unspecified properties remain unchanged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := NewClient()
		if err != nil {
			return err
		}
		host, err := c.Lookup(args[0])
		if err != nil {
			return err
		}
		hostFromFlags(cmd, host)
		return c.UpdateHost(host.ID, host)
	},
}

var hostsDeleteCmd = &cobra.Command{
	Use:     "delete HOST...",
	Aliases: []string{"rm"},
	Short:   "Unregister hosts",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := NewClient()
		if err != nil {
			return err
		}
		for _, arg := range args {
			host, err := c.Lookup(arg)
			if err != nil {
				return err
			}
			if err := c.DeleteHost(host.ID); err != nil {
				return err
			}
			log.Debugf("deleted host %d (%s)", host.ID, host.Name)
		}
		return nil
	},
}

var hostsDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover debug box containers on the local Docker host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := dockerhost.New()
		if err != nil {
			return err
		}
		defer d.Close()
		d.User, _ = cmd.Flags().GetString("user")
		d.Password, _ = cmd.Flags().GetString("password")
		hosts, err := d.Discover(context.Background())
		if err != nil {
			return err
		}
		if register, _ := cmd.Flags().GetBool("register"); !register {
			return printValue(cmd, hostSpecs, hosts)
		}
		c, err := NewClient()
		if err != nil {
			return err
		}
		for _, host := range hosts {
			id, err := c.AddHost(host)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s as host %d\n", host.Name, id)
		}
		return nil
	},
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(HostsSetupCLI, plugger.WithPlugin("hosts"))
	plugger.Group[cli.CommandExamples]().Register(
		func() map[string]string {
			return map[string]string{
				"hosts add": `# Register a debug box running on the local host.
svcdebug hosts add --name debugbox --address 127.0.0.1 --port 10022 \
  --user test_user --password test_password`,
				"hosts list": `# List registered hosts including their user names.
svcdebug hosts list -o wide`,
				"hosts discover": `# Register all debug box containers running on the local Docker host.
svcdebug hosts discover --register`,
			}
		},
		plugger.WithPlugin("hosts"))
}

// HostsSetupCLI adds the “hosts” command with its subcommands.
func HostsSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(hostsCmd)
	hostsCmd.AddCommand(hostsListCmd, hostsGetCmd, hostsAddCmd, hostsUpdateCmd,
		hostsDeleteCmd, hostsDiscoverCmd)
	addPrinterFlags(hostsListCmd, "{.ID}")
	addPrinterFlags(hostsGetCmd, "")
	addPrinterFlags(hostsDiscoverCmd, "{.Name}")

	for _, c := range []*cobra.Command{hostsAddCmd, hostsUpdateCmd} {
		f := c.Flags()
		f.String("name", "", "Name of the host, 3 to 32 characters")
		f.String("description", "", "Description of the host")
		f.String("address", "", "DNS name or IP address of the host's SSH server")
		f.Int("port", api.DefaultSSHPort, "TCP port of the host's SSH server")
		f.String("user", "", "SSH user name")
		f.String("password", "", "SSH password")
	}
	_ = hostsAddCmd.MarkFlagRequired("name")
	_ = hostsAddCmd.MarkFlagRequired("address")
	_ = hostsAddCmd.MarkFlagRequired("user")

	f := hostsDiscoverCmd.Flags()
	f.Bool("register", false, "Register the discovered debug boxes")
	f.String("user", dockerhost.DefaultUser, "SSH user name of the discovered debug boxes")
	f.String("password", dockerhost.DefaultPassword, "SSH password of the discovered debug boxes")
}

// hostFromFlags sets the host properties from the flags; when updating, only
// explicitly specified flags are taken into account.
func hostFromFlags(cmd *cobra.Command, host *api.Host) {
	f := cmd.Flags()
	adding := host.ID == 0
	set := func(name string, field *string) {
		if adding || f.Changed(name) {
			*field, _ = f.GetString(name)
		}
	}
	set("name", &host.Name)
	set("description", &host.Description)
	set("address", &host.SSHAddress)
	set("user", &host.Username)
	set("password", &host.Password)
	if adding || f.Changed("port") {
		host.SSHPort, _ = f.GetInt("port")
	}
	log.Debugf("host description: %+v", host.Redacted())
}
