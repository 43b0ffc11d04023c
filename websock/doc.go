/*
Package websock enhances Gorilla websockets by handling graceful closing on
both sides using polite close control messages, as opposed to simply tearing
down the transport (TLS) connection. The client side reads a stream of dump
data, the server side writes it.
*/
package websock
