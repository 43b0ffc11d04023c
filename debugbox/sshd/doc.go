/*
Package sshd implements the remote-shell daemon of the debug box: a minimal
SSH server accepting password logins for a single account, and running
commands and interactive shells in "session" channels.

Closing a session channel terminates the command running in it, together
with its whole process group. This way, remote long-runners such as "tail -f"
or "tcpdump" end as soon as the client hangs up.
*/
package sshd
