// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package svcdebug

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/sshconn"
)

// ErrTaskNotFound is matched by errors about unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// TaskNotFoundError reports an unknown task ID.
type TaskNotFoundError struct {
	ID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("Task with id=%q not found in task list.", e.ID)
}

// Is allows matching a TaskNotFoundError against ErrTaskNotFound.
func (e *TaskNotFoundError) Is(target error) bool {
	return target == ErrTaskNotFound
}

// task is a running dumper together with its output file.
type task struct {
	id     string
	hostID int
	output string
	dumper *Dumper
}

func (t *task) info() *api.Task {
	info := &api.Task{
		ID:      t.id,
		Name:    t.dumper.Name(),
		Type:    t.dumper.Type(),
		IsAlive: t.dumper.Alive(),
		HostID:  t.hostID,
		Output:  t.output,
	}
	if err := t.dumper.Err(); err != nil {
		info.ErrorMsg = err.Error()
	}
	return info
}

// TaskManager keeps track of dump tasks writing into local files. It can
// safely be used from multiple go routines simultaneously.
type TaskManager struct {
	name string
	// Timeout limits starting new tasks.
	Timeout time.Duration
	// StartGrace is passed on to the dumpers of new tasks.
	StartGrace time.Duration
	ssh        *sshconn.Manager
	log        *log.Entry

	m     sync.Mutex
	tasks map[string]*task
}

// NewTaskManager returns a new task manager, leasing SSH connections from the
// specified connection manager; nil means the default connection manager.
func NewTaskManager(name string, ssh *sshconn.Manager) *TaskManager {
	if ssh == nil {
		ssh = sshconn.DefaultManager(name + ".ssh_mngr")
	}
	return &TaskManager{
		name:       name,
		Timeout:    DefaultTaskTimeout,
		StartGrace: DefaultStartGrace,
		ssh:        ssh,
		log:        log.WithField("task-manager", name),
		tasks:      map[string]*task{},
	}
}

// String returns a description of the task manager.
func (tm *TaskManager) String() string {
	return fmt.Sprintf("TaskManager(name=%q, timeout=%s)", tm.name, tm.Timeout)
}

// StartPcapDump starts capturing network traffic on the specified host into
// the output file.
func (tm *TaskManager) StartPcapDump(host *api.Host, output string, opts *PcapOptions) (*api.Task, error) {
	tm.log.Infof("starting pcap dump on host %q into %s", host.Name, output)
	return tm.start(host, output, "pcap", func(name string, f *os.File) *Dumper {
		return NewPcapDump(name, host, f, opts, tm.ssh)
	})
}

// StartLogDump starts following the remote file on the specified host into
// the output file.
func (tm *TaskManager) StartLogDump(host *api.Host, output string, dumpedFile string) (*api.Task, error) {
	tm.log.Infof("starting log dump of %s on host %q into %s", dumpedFile, host.Name, output)
	return tm.start(host, output, "log", func(name string, f *os.File) *Dumper {
		return NewLogDump(name, host, f, dumpedFile, tm.ssh)
	})
}

// Start a new task as described by the request for the given host.
func (tm *TaskManager) Start(host *api.Host, req *api.TaskRequest) (*api.Task, error) {
	switch req.Type {
	case api.LogDump:
		return tm.StartLogDump(host, req.Output, req.DumpedFile)
	case api.PcapDump:
		return tm.StartPcapDump(host, req.Output, &PcapOptions{
			Interface: req.Interface,
			Filter:    req.Filter,
			Format:    req.Format,
		})
	}
	return nil, errors.Errorf("unknown task type %q", req.Type)
}

func (tm *TaskManager) start(host *api.Host, output string, kind string, newDumper func(string, *os.File) *Dumper) (*api.Task, error) {
	f, err := os.Create(output)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create output file %s", output)
	}
	tm.m.Lock()
	id := tm.newTaskID()
	t := &task{
		id:     id,
		hostID: host.ID,
		output: output,
		dumper: newDumper(fmt.Sprintf("%s.%s_%s", tm.name, kind, id), f),
	}
	t.dumper.StartGrace = tm.StartGrace
	// Reserve the ID while starting.
	tm.tasks[id] = t
	tm.m.Unlock()

	go func() {
		t.dumper.Wait()
		f.Close()
	}()
	started := make(chan error, 1)
	go func() { started <- t.dumper.Start() }()
	select {
	case err = <-started:
	case <-time.After(tm.Timeout):
		go t.dumper.Stop()
		err = errors.Errorf("no answer was received within %s", tm.Timeout)
	}
	if err != nil {
		tm.m.Lock()
		delete(tm.tasks, id)
		tm.m.Unlock()
		return nil, err
	}
	info := t.info()
	tm.log.WithField("task", id).Infof("started %s", t.dumper)
	return info, nil
}

// newTaskID returns a fresh random task ID; the caller must hold the lock.
func (tm *TaskManager) newTaskID() string {
	for {
		id := sshconn.RandomID(api.TaskIDLen)
		if _, taken := tm.tasks[id]; !taken {
			return id
		}
	}
}

// TaskInfo returns information about the specified task.
func (tm *TaskManager) TaskInfo(id string) (*api.Task, error) {
	tm.m.Lock()
	t, ok := tm.tasks[id]
	tm.m.Unlock()
	if !ok {
		return nil, &TaskNotFoundError{ID: id}
	}
	return t.info(), nil
}

// Tasks returns information about all tasks, sorted by task ID.
func (tm *TaskManager) Tasks() api.Tasks {
	tm.m.Lock()
	tasks := make([]*task, 0, len(tm.tasks))
	for _, t := range tm.tasks {
		tasks = append(tasks, t)
	}
	tm.m.Unlock()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].id < tasks[j].id })
	infos := make(api.Tasks, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.info())
	}
	return infos
}

// StopTask stops the specified task and removes it from the task list,
// returning its final state.
func (tm *TaskManager) StopTask(id string) (*api.Task, error) {
	tm.m.Lock()
	t, ok := tm.tasks[id]
	delete(tm.tasks, id)
	tm.m.Unlock()
	if !ok {
		return nil, &TaskNotFoundError{ID: id}
	}
	tm.log.WithField("task", id).Info("stopping task")
	t.dumper.Stop()
	return t.info(), nil
}

// Close stops all tasks.
func (tm *TaskManager) Close() {
	tm.m.Lock()
	tasks := tm.tasks
	tm.tasks = map[string]*task{}
	tm.m.Unlock()
	var wg sync.WaitGroup
	for id, t := range tasks {
		tm.log.WithField("task", id).Info("stopping task")
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			t.dumper.Stop()
		}(t)
	}
	wg.Wait()
}
