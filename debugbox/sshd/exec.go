// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package sshd

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ExecHandler returns a Handler running session commands using the specified
// shell as "shell -c command", or the shell itself when no command was given.
// Commands run in their own process group, which gets killed when the session
// ends before the command does.
func ExecHandler(shell string) Handler {
	return func(s *Session) int {
		var args []string
		if s.Command != "" {
			args = []string{"-c", s.Command}
		}
		cmd := exec.Command(shell, args...)
		cmd.Env = append(os.Environ(), s.Env...)
		if s.Pty != nil {
			return runWithPty(s, cmd)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Stdout = s.Stdout
		cmd.Stderr = s.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			fmt.Fprintf(s.Stderr, "cannot run %s: %s\n", shell, err.Error())
			return 127
		}
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(s.Stderr, "cannot run %s: %s\n", shell, err.Error())
			return 127
		}
		// Not waited for: the client might never send EOF on its end.
		go func() {
			_, _ = io.Copy(stdin, s.Stdin)
			stdin.Close()
		}()
		return waitOrKill(s, cmd)
	}
}

// runWithPty runs the command attached to a fresh pseudo terminal, following
// window size changes.
func runWithPty(s *Session, cmd *exec.Cmd) int {
	if s.Pty.Term != "" {
		cmd.Env = append(cmd.Env, "TERM="+s.Pty.Term)
	}
	tty, err := pty.StartWithSize(cmd, winsize(s.Pty.Window))
	if err != nil {
		fmt.Fprintf(s.Stderr, "cannot start %s: %s\n", cmd.Path, err.Error())
		return 127
	}
	defer tty.Close()
	go func() {
		for {
			select {
			case w := <-s.Resizes():
				_ = pty.Setsize(tty, winsize(w))
			case <-s.Context.Done():
				return
			}
		}
	}()
	go func() { _, _ = io.Copy(tty, s.Stdin) }()
	output := make(chan struct{})
	go func() {
		defer close(output)
		_, _ = io.Copy(s.Stdout, tty)
	}()
	status := waitOrKill(s, cmd)
	// The pty master returns EIO once all slave ends are gone; don't wait
	// forever on stray background processes still holding it.
	select {
	case <-output:
	case <-s.Context.Done():
	}
	return status
}

func winsize(w Window) *pty.Winsize {
	return &pty.Winsize{Cols: uint16(w.Columns), Rows: uint16(w.Rows)}
}

// waitOrKill waits for the started command to terminate, killing its process
// group when the session context gets cancelled first.
func waitOrKill(s *Session, cmd *exec.Cmd) int {
	exited := make(chan struct{})
	go func() {
		select {
		case <-s.Context.Done():
			// Process group leader has the same ID as its group.
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		case <-exited:
		}
	}()
	err := cmd.Wait()
	close(exited)
	return ExitStatus(err)
}

// ExitStatus maps the error returned from waiting on a command to a shell
// style exit status.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	if exiterr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exiterr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exiterr.ExitCode()
	}
	return 255
}
