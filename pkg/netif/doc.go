// Package netif feeds session endpoints from the network.
//
// A Server listens on TCP and UDP of the same port and keeps one
// active peer. Reader and writer goroutines never touch session state,
// every transport event is handed to the loop goroutine through the
// dispatcher inbox.
package netif
