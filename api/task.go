// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// This statically typed data model matches the JSON schema used for the
// "/api/v1/tasks" service URL path: tasks are running log or network traffic
// dumps from remote hosts into local files.

package api

import "sort"

// TaskType identifies what a task dumps.
type TaskType string

const (
	// LogDump tasks follow a remote log file.
	LogDump TaskType = "log_dump"
	// PcapDump tasks capture network traffic on a remote host.
	PcapDump TaskType = "pcap_dump"
)

// TaskIDLen is the length of task identifiers.
const TaskIDLen = 8

// DefaultInterface is the capture interface used when none is specified.
const DefaultInterface = "any"

// Tasks is a list of task descriptions.
type Tasks []*Task

// Task describes a single (running or finished) dump task.
type Task struct {
	ID       string   `json:"task_id" yaml:"task-id"`
	Name     string   `json:"name" yaml:"name"`
	Type     TaskType `json:"task_type" yaml:"task-type"`
	IsAlive  bool     `json:"is_alive" yaml:"is-alive"`
	HostID   int      `json:"host_id,omitempty" yaml:"host-id,omitempty"`
	Output   string   `json:"output_file,omitempty" yaml:"output-file,omitempty"`
	ErrorMsg string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// PcapFormat selects the file format of captured network traffic.
type PcapFormat string

const (
	// FormatPcap is the classic libpcap format, as written by tcpdump.
	FormatPcap PcapFormat = "pcap"
	// FormatPcapng is the pcapng format, with host meta data in the section
	// header comment.
	FormatPcapng PcapFormat = "pcapng"
)

// TaskRequest asks the services debugger to start a new dump task.
type TaskRequest struct {
	Type   TaskType `json:"task_type"`
	HostID int      `json:"host_id"`
	// Local file to write the dumped data to.
	Output string `json:"output_file"`
	// Remote log file to follow (log dumps only).
	DumpedFile string `json:"dumped_file,omitempty"`
	// Network interface to capture from (pcap dumps only), defaults to
	// "any".
	Interface string `json:"interface,omitempty"`
	// Optional capture filter expression (pcap dumps only); the SSH
	// transport itself is always filtered out.
	Filter string `json:"filter,omitempty"`
	// Output format (pcap dumps only), defaults to pcap.
	Format PcapFormat `json:"format,omitempty"`
}

// Validate checks the task request, filling in defaults.
func (r *TaskRequest) Validate() error {
	fields := map[string]string{}
	switch r.Type {
	case LogDump:
		if r.DumpedFile == "" {
			fields["dumped_file"] = "must not be empty for log dumps"
		}
	case PcapDump:
		if r.Interface == "" {
			r.Interface = DefaultInterface
		}
		switch r.Format {
		case "":
			r.Format = FormatPcap
		case FormatPcap, FormatPcapng:
		default:
			fields["format"] = "must be either pcap or pcapng"
		}
	default:
		fields["task_type"] = "must be either log_dump or pcap_dump"
	}
	if r.HostID <= 0 {
		fields["host_id"] = "must reference a registered host"
	}
	if r.Output == "" {
		fields["output_file"] = "must not be empty"
	}
	if len(fields) != 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// IDResponse is returned when a new host has been registered.
type IDResponse struct {
	ID int `json:"id"`
}

// DetailResponse carries a human-readable outcome or error detail.
type DetailResponse struct {
	Detail string `json:"detail"`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
