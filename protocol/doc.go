// Package protocol defines the wire format shared by client and host.
//
// The format is binary and versioned. Handshake messages identify the
// protocol version and a capability bitset. Control messages are
// length-prefixed frames with a tag discriminator, a sequence number and a
// piggybacked acknowledgment. Data packets carry a fixed-size header
// {stream id, sequence number, fragment index, fragment count, sender
// timestamp} followed by payload bytes.
//
// Every encoder in this package has a matching parser and the two must stay
// bit-compatible with the host implementation; field order and widths are
// part of the protocol contract.
package protocol
