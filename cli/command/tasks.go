// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Provides the "svcdebug tasks" commands for starting, inspecting and stopping
// dump tasks which write into files on the svcdebug service's host.

package command

import (
	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/cli"
	"github.com/spf13/cobra"
	"github.com/thediveo/go-plugger/v3"
	"github.com/thediveo/klo"
	"golang.org/x/exp/slices"
)

var taskSpecs = &klo.Specs{
	DefaultColumnSpec: TaskListTemplate,
	WideColumnSpec:    TaskWideListTemplate,
}

var pcapFormats = []string{string(api.FormatPcap), string(api.FormatPcapng)}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage log and network traffic dump tasks",
}

var tasksListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List dump tasks",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := NewClient()
		if err != nil {
			return err
		}
		tasks, err := c.Tasks()
		if err != nil {
			return err
		}
		return printValue(cmd, taskSpecs, tasks)
	},
}

var tasksGetCmd = &cobra.Command{
	Use:   "get TASK-ID",
	Short: "Show a dump task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := NewClient()
		if err != nil {
			return err
		}
		task, err := c.Task(args[0])
		if err != nil {
			return err
		}
		return printValue(cmd, taskSpecs, api.Tasks{task})
	},
}

var tasksStartLogCmd = &cobra.Command{
	Use:   "start-log HOST REMOTE-FILE",
	Short: "Start following a log file on a host into an output file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output-file")
		return startTask(cmd, args[0], &api.TaskRequest{
			Type:       api.LogDump,
			Output:     output,
			DumpedFile: args[1],
		})
	},
}

var tasksStartPcapCmd = &cobra.Command{
	Use:   "start-pcap HOST",
	Short: "Start capturing network traffic on a host into an output file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		output, _ := f.GetString("output-file")
		nif, _ := f.GetString("interface")
		filter, _ := f.GetString("filter")
		format, _ := f.GetString("format")
		if !slices.Contains(pcapFormats, format) {
			return &api.ValidationError{Fields: map[string]string{
				"format": "must be either pcap or pcapng"}}
		}
		return startTask(cmd, args[0], &api.TaskRequest{
			Type:      api.PcapDump,
			Output:    output,
			Interface: nif,
			Filter:    filter,
			Format:    api.PcapFormat(format),
		})
	},
}

var tasksStopCmd = &cobra.Command{
	Use:   "stop TASK-ID...",
	Short: "Stop and remove dump tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := NewClient()
		if err != nil {
			return err
		}
		tasks := api.Tasks{}
		for _, id := range args {
			task, err := c.StopTask(id)
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return printValue(cmd, taskSpecs, tasks)
	},
}

func init() {
	plugger.Group[cli.SetupCLI]().Register(TasksSetupCLI, plugger.WithPlugin("tasks"))
	plugger.Group[cli.CommandExamples]().Register(
		func() map[string]string {
			return map[string]string{
				"tasks start-pcap": `# Capture ICMP traffic of host "debugbox" into a pcapng file on the service host.
svcdebug tasks start-pcap debugbox -w /tmp/icmp.pcapng -f icmp --format pcapng`,
				"tasks start-log": `# Follow the ping log of host 1 into a file on the service host.
svcdebug tasks start-log 1 /tmp/ping.log -w /tmp/ping.log`,
			}
		},
		plugger.WithPlugin("tasks"))
}

// TasksSetupCLI adds the “tasks” command with its subcommands.
func TasksSetupCLI(cmd *cobra.Command) {
	cmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd, tasksGetCmd, tasksStartLogCmd,
		tasksStartPcapCmd, tasksStopCmd)
	for _, c := range []*cobra.Command{tasksListCmd, tasksStopCmd} {
		addPrinterFlags(c, "{.ID}")
	}
	for _, c := range []*cobra.Command{tasksGetCmd, tasksStartLogCmd, tasksStartPcapCmd} {
		addPrinterFlags(c, "")
	}
	for _, c := range []*cobra.Command{tasksStartLogCmd, tasksStartPcapCmd} {
		c.Flags().StringP("output-file", "w", "",
			"File on the svcdebug service host to write the dumped data to")
		_ = c.MarkFlagRequired("output-file")
	}
	f := tasksStartPcapCmd.Flags()
	f.StringP("interface", "i", api.DefaultInterface, "Name of interface to capture from")
	f.StringP("filter", "f", "", "Capture filter expression")
	f.String("format", string(api.FormatPcap), "Capture file format, either pcap or pcapng")
}

// startTask starts the task requested for the specified host, given by ID or
// unique name, and prints the new task.
func startTask(cmd *cobra.Command, host string, req *api.TaskRequest) error {
	c, err := NewClient()
	if err != nil {
		return err
	}
	h, err := c.Lookup(host)
	if err != nil {
		return err
	}
	req.HostID = h.ID
	task, err := c.StartTask(req)
	if err != nil {
		return err
	}
	return printValue(cmd, taskSpecs, api.Tasks{task})
}
