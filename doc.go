/*
Package svcdebug debugs services running in remote hosts reachable via SSH,
such as the debug box container. It dumps log files followed live on a remote
host as well as network traffic captured remotely using tcpdump. Dumps either
run as long-running tasks writing into local files, or are streamed live to
clients via websockets.

There is no need to install anything on the remote hosts beyond an SSH daemon,
"tail" and "tcpdump": all remote commands are run via SSH sessions over
connections shared between dumps to the same host.

Dumping starts with registering the remote hosts. A TaskManager then starts
log and packet dumps to hosts, keeping track of them by their task IDs until
they get stopped. Network dumps can optionally be converted on the fly into
the pcapng format, with the section header block carrying information about
the capture host and the capture filter.

The Client gives remote access to the REST API of a svcdebug service, including
live capture and log streams. Packet capture streams normally go on until you
stop them; see StreamReceiver.StopAfter for automatically stopping a stream
after a given amount of time.
*/
package svcdebug
