// Package transport provides the byte streams an improv client runs over.
//
// A local device is reached through OpenSerial. A device plugged into another
// machine is reached through a Bridge running there ("improvctl bridge"),
// which relays the serial stream over WebSocket, and DialWebSocket on this
// side. Both return an io.ReadWriteCloser suitable for improv.NewClient.
package transport
