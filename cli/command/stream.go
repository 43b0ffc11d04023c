// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Provides the "svcdebug capture" and "svcdebug follow" commands which live
// stream network traffic and logs from hosts to the command line.

package command

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/siemens/svcdebug"
	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/cli"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
	"golang.org/x/exp/slices"
)

// captureCmd defines the "svcdebug capture" command.
var captureCmd = &cobra.Command{
	Use:   "capture [flags] HOST",
	Short: "Capture and then live stream network traffic from a host.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		opts := &svcdebug.PcapOptions{}
		opts.Interface, _ = f.GetString("interface")
		opts.Filter, _ = f.GetString("filter")
		format, _ := f.GetString("format")
		if !slices.Contains(pcapFormats, format) {
			return fmt.Errorf("invalid capture format %q, must be either pcap or pcapng", format)
		}
		opts.Format = api.PcapFormat(format)
		return stream(cmd, args[0], func(c *svcdebug.Client, w io.Writer, host *api.Host) (svcdebug.StreamReceiver, error) {
			log.Debugf("capturing from %q on host %q, filter %q", opts.Interface, host.Name, opts.Filter)
			return c.Capture(w, host.ID, opts)
		})
	},
}

// followCmd defines the "svcdebug follow" command.
var followCmd = &cobra.Command{
	Use:   "follow [flags] HOST FILE",
	Short: "Live stream a log file from a host.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stream(cmd, args[0], func(c *svcdebug.Client, w io.Writer, host *api.Host) (svcdebug.StreamReceiver, error) {
			log.Debugf("following %q on host %q", args[1], host.Name)
			return c.FollowLog(w, host.ID, args[1])
		})
	},
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(StreamSetupCLI, plugger.WithPlugin("stream"))
	plugger.Group[cli.CommandExamples]().Register(
		func() map[string]string {
			return map[string]string{
				"capture": `# Capture from host "debugbox" and pipe the captured packets into Wireshark.
svcdebug capture debugbox | wireshark -k -i -`,
				"follow": `# Follow the ping log of host 1.
svcdebug follow 1 /tmp/ping.log`,
			}
		},
		plugger.WithPlugin("stream"))
}

// StreamSetupCLI adds the "capture" and "follow" commands.
func StreamSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(captureCmd, followCmd)
	f := captureCmd.Flags()
	f.StringP("interface", "i", api.DefaultInterface, "Name of interface to capture from")
	f.StringP("filter", "f", "",
		"Set the capture filter expression; the SSH connection itself is always filtered out")
	f.String("format", string(api.FormatPcapng), "Capture stream format, either pcap or pcapng")
	for _, c := range []*cobra.Command{captureCmd, followCmd} {
		c.Flags().StringP("write", "w", "-",
			"Write the stream to file. Use \"-\" for stdout.")
	}
}

type startStream func(*svcdebug.Client, io.Writer, *api.Host) (svcdebug.StreamReceiver, error)

// stream starts a live stream from the specified host, identified by ID or
// unique name, and keeps streaming until either the stream ends or this CLI
// tool gets SIGINT'ed or SIGTERM'ed.
func stream(cmd *cobra.Command, hostIDOrName string, start startStream) error {
	c, err := NewClient()
	if err != nil {
		return err
	}
	host, err := c.Lookup(hostIDOrName)
	if err != nil {
		return err
	}
	// Open a new output file to dump the stream into, or use stdout, if "-"
	// was specified.
	var out io.Writer = cmd.OutOrStdout()
	if wname, _ := cmd.Flags().GetString("write"); wname != "-" {
		f, err := os.OpenFile(wname, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
		if err != nil {
			return fmt.Errorf("cannot create output file: %s", err.Error())
		}
		defer f.Close()
		out = f
	}
	sr, err := start(c, out, host)
	if err != nil {
		return fmt.Errorf("cannot start stream: %s", err.Error())
	}
	ended := make(chan struct{})
	go func() {
		sr.Wait()
		close(ended)
	}()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	select {
	case <-sigs:
		// Stop the stream in an orderly manner, so that we won't write
		// half-broken captures, but instead get a clean end.
		log.Debugf("closing live stream from host %q...", host.Name)
		sr.Stop()
		log.Debugf("live stream from host %q finished", host.Name)
	case <-ended:
		log.Debugf("live stream from host %q ended", host.Name)
	}
	return nil
}
