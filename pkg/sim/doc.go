// Package sim provides simulated collaborators for a node running on
// a host: a text display and sensors initialized in slices, a wireless
// interface and an I/O poller.
package sim
