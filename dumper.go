// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

// Implements dumpers running a remote command on a host via a leased SSH
// connection and copying the command's output into a local sink.

package svcdebug

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/siemens/svcdebug/api"
	"github.com/siemens/svcdebug/sshconn"
)

// ErrEarlyExit is matched by errors of dumpers whose remote command
// terminated right after starting, see errors.Is.
var ErrEarlyExit = errors.New("remote process terminated early")

// DumperError reports a remote dump command that terminated early.
type DumperError struct {
	ExitCode int
}

func (e *DumperError) Error() string {
	return fmt.Sprintf("the process terminated early with exit code: %d", e.ExitCode)
}

// Is allows matching a DumperError against ErrEarlyExit.
func (e *DumperError) Is(target error) bool {
	return target == ErrEarlyExit
}

// Transfer copies the output of a remote command into a sink.
type Transfer func(sink io.Writer, src io.Reader) error

// Dumper runs a remote command and dumps its output into a sink.
type Dumper struct {
	name    string
	typ     api.TaskType
	host    api.Host
	command string
	sink    io.Writer
	copy    Transfer
	manager *sshconn.Manager
	log     *log.Entry

	// StartGrace is the time the remote command must survive after start
	// in order to count as successfully started.
	StartGrace time.Duration

	m        sync.Mutex
	started  bool
	stopping bool
	session  *ssh.Session
	err      error
	done     chan struct{}
	alive    int32
	written  int64
}

// LogDumpCommand returns the remote command following the specified file,
// even across log rotations and while the file doesn't exist (yet).
func LogDumpCommand(file string) string {
	return "tail --follow=name --retry --lines=1 " + ShellQuote(file)
}

// PcapDumpCommand returns the remote tcpdump command capturing from the
// specified network interface. The SSH transport of the capture itself is
// always filtered out, optionally combined with an additional capture filter.
func PcapDumpCommand(nif string, filter string, sshPort int) string {
	if nif == "" {
		nif = api.DefaultInterface
	}
	if sshPort <= 0 {
		sshPort = api.DefaultSSHPort
	}
	bpf := "not tcp port " + strconv.Itoa(sshPort)
	if strings.TrimSpace(filter) != "" {
		bpf = "(" + filter + ") and " + bpf
	}
	return "tcpdump -i " + ShellQuote(nif) + " -U -w - -f " + ShellQuote(bpf)
}

// CaptureFilter returns the complete capture filter expression used for
// capturing from a host.
func CaptureFilter(filter string, sshPort int) string {
	cmd := PcapDumpCommand("", filter, sshPort)
	bpf := cmd[strings.Index(cmd, " -f ")+4:]
	return strings.ReplaceAll(strings.Trim(bpf, "'"), `'\''`, "'")
}

// ShellQuote quotes a string for use as a single POSIX shell word.
func ShellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=:,@+%", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// NewLogDump returns a new dumper following the specified remote file and
// writing the lines into the sink.
func NewLogDump(name string, host *api.Host, sink io.Writer, dumpedFile string, manager *sshconn.Manager) *Dumper {
	return newDumper(name, api.LogDump, host, LogDumpCommand(dumpedFile), sink, nil, manager)
}

// PcapOptions control network captures.
type PcapOptions struct {
	// Network interface to capture from; defaults to "any".
	Interface string
	// Additional capture filter expression; for its syntax, please refer to
	// https://www.tcpdump.org/manpages/pcap-filter.7.html
	Filter string
	// Format of the dumped packet data; defaults to the pcap format.
	Format api.PcapFormat
}

// NewPcapDump returns a new dumper capturing network traffic on the specified
// host and writing the packet data into the sink.
func NewPcapDump(name string, host *api.Host, sink io.Writer, opts *PcapOptions, manager *sshconn.Manager) *Dumper {
	if opts == nil {
		opts = &PcapOptions{}
	}
	nif := opts.Interface
	if nif == "" {
		nif = api.DefaultInterface
	}
	var transfer Transfer
	if opts.Format == api.FormatPcapng {
		filter := CaptureFilter(opts.Filter, host.SSHPort)
		transfer = func(sink io.Writer, src io.Reader) error {
			return PcapToPcapng(sink, src, host, nif, filter)
		}
	}
	return newDumper(name, api.PcapDump, host,
		PcapDumpCommand(nif, opts.Filter, host.SSHPort), sink, transfer, manager)
}

func newDumper(name string, typ api.TaskType, host *api.Host, command string, sink io.Writer, transfer Transfer, manager *sshconn.Manager) *Dumper {
	if manager == nil {
		manager = sshconn.DefaultManager("ssh_mngr")
	}
	d := &Dumper{
		name:       name,
		typ:        typ,
		host:       *host,
		command:    command,
		manager:    manager,
		log:        log.WithField("dumper", name),
		StartGrace: DefaultStartGrace,
		done:       make(chan struct{}),
	}
	d.sink = &countingWriter{w: sink, n: &d.written}
	if transfer == nil {
		transfer = func(sink io.Writer, src io.Reader) error {
			_, err := io.Copy(sink, src)
			return err
		}
	}
	d.copy = transfer
	return d
}

// countingWriter counts the bytes successfully written.
type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	atomic.AddInt64(c.n, int64(n))
	return n, err
}

// Name returns the dumper's name.
func (d *Dumper) Name() string { return d.name }

// Type returns the type of task this dumper implements.
func (d *Dumper) Type() api.TaskType { return d.typ }

// Command returns the remote command run by the dumper.
func (d *Dumper) Command() string { return d.command }

// Alive returns true while the remote command is running.
func (d *Dumper) Alive() bool { return atomic.LoadInt32(&d.alive) != 0 }

// Written returns the number of bytes written into the sink so far.
func (d *Dumper) Written() int64 { return atomic.LoadInt64(&d.written) }

// Err returns the error that ended the dumper, if any.
func (d *Dumper) Err() error {
	d.m.Lock()
	defer d.m.Unlock()
	return d.err
}

// String returns a description of the dumper, without the password.
func (d *Dumper) String() string {
	return fmt.Sprintf("%s(name=%q, address=%q, port=%d, username=%q, command=%q)",
		d.typ, d.name, d.host.SSHAddress, d.host.SSHPort, d.host.Username, d.command)
}

// Start the remote command, returning after it has survived the start grace
// period, or with an error. A dumper can only be started once.
func (d *Dumper) Start() error {
	d.m.Lock()
	if d.started {
		d.m.Unlock()
		return errors.Errorf("dumper %s already started", d.name)
	}
	d.started = true
	d.m.Unlock()

	d.log.Info("starting ...")
	port := d.host.SSHPort
	if port <= 0 {
		port = api.DefaultSSHPort
	}
	leaseID, conn, err := d.manager.Get(d.host.SSHAddress, port, d.host.Username, d.host.Password)
	if err != nil {
		return d.failed(err)
	}
	release := func() {
		if err := d.manager.Release(leaseID); err != nil {
			d.log.Warnf("cannot release SSH connection: %s", err.Error())
		}
	}
	session, err := conn.NewSession()
	if err != nil {
		release()
		return d.failed(errors.Wrap(err, "cannot open SSH session"))
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		release()
		return d.failed(errors.Wrap(err, "cannot connect to remote stdout"))
	}
	stderr := d.log.WriterLevel(log.ErrorLevel)
	session.Stderr = stderr
	d.log.Infof("execute command: %s", d.command)
	if err := session.Start(d.command); err != nil {
		session.Close()
		stderr.Close()
		release()
		return d.failed(errors.Wrapf(err, "cannot start %q", d.command))
	}
	startedAt := time.Now()
	d.m.Lock()
	d.session = session
	if d.stopping {
		session.Close()
	}
	d.m.Unlock()
	atomic.StoreInt32(&d.alive, 1)

	go func() {
		defer close(d.done)
		defer release()
		defer stderr.Close()
		copyErr := d.copy(d.sink, stdout)
		if copyErr != nil {
			// The sink is broken, so there is no use in running the remote
			// command any longer.
			session.Close()
		}
		waitErr := session.Wait()
		atomic.StoreInt32(&d.alive, 0)
		d.m.Lock()
		defer d.m.Unlock()
		if d.stopping {
			d.log.Info("stopped")
			return
		}
		exitCode := 0
		exiterr, isExitErr := waitErr.(*ssh.ExitError)
		if isExitErr {
			exitCode = exiterr.ExitStatus()
		}
		switch {
		case d.Written() == 0 && time.Since(startedAt) < d.StartGrace:
			d.err = &DumperError{ExitCode: exitCode}
		case copyErr != nil && copyErr != io.EOF:
			d.err = errors.Wrap(copyErr, "dumping failed")
		case isExitErr:
			d.err = errors.Errorf("remote command exited with code %d", exitCode)
		case waitErr != nil:
			d.err = errors.Wrap(waitErr, "remote command failed")
		}
		if d.err != nil {
			d.log.Errorf("terminated: %s", d.err.Error())
		} else {
			d.log.Info("received end-of-stream, terminated")
		}
	}()

	select {
	case <-d.done:
		return d.Err()
	case <-time.After(d.StartGrace):
	}
	return nil
}

func (d *Dumper) failed(err error) error {
	d.m.Lock()
	d.err = err
	d.m.Unlock()
	close(d.done)
	d.log.Errorf("cannot start: %s", err.Error())
	return err
}

// Stop the dumper and wait for it to terminate. Stop is idempotent and can
// also be used on dumpers never started.
func (d *Dumper) Stop() {
	d.m.Lock()
	if !d.started {
		d.started = true
		d.stopping = true
		close(d.done)
		d.m.Unlock()
		return
	}
	if !d.stopping {
		d.stopping = true
		if d.session != nil {
			d.log.Info("stopping ...")
			d.session.Close()
		}
	}
	d.m.Unlock()
	<-d.done
}

// Wait for the dumper to terminate, but do not initiate the termination.
func (d *Dumper) Wait() {
	<-d.done
}

// Done returns a channel that gets closed when the dumper has terminated.
func (d *Dumper) Done() <-chan struct{} {
	return d.done
}

// StopAfter waits the specified duration for the dumper to terminate, and
// stops it after the duration if necessary.
func (d *Dumper) StopAfter(duration time.Duration) {
	select {
	case <-d.done:
	case <-time.After(duration):
		d.Stop()
	}
}
