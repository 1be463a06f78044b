// Package comm provides byte-stream framing for the node sessions.
package comm

// The console and the serial bridge carry raw bytes over TCP, UDP or
// WebSocket. No protocol negotiation is done here: the console is
// line oriented with a length-prefixed binary extension, and the bridge
// only suppresses TELNET IAC commands before bytes reach the UART.
