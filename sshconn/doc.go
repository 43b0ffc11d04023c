/*
Package sshconn hands out shared SSH client connections to remote hosts. Users
lease a connection for an (address, port) pair; multiple leases share the
same underlying SSH connection, which gets closed only after its last lease
has been released.

Leases are identified by short random identifiers so that they can be passed
around (and logged) without exposing the connection objects themselves.
*/
package sshconn
