// Package transport implements the datagram layer beneath the streaming
// protocol.
//
// This package handles packet framing and UDP communication with the host.
// It knows nothing about sessions or media: every datagram is a one-byte
// packet type followed by an opaque payload, and received packets are
// dispatched to handlers registered per packet type.
//
// Example:
//
//	tr, err := transport.NewUDPTransport("0.0.0.0:0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tr.RegisterHandler(transport.PacketData, func(p *transport.Packet, addr net.Addr) error {
//	    // handle stream data
//	    return nil
//	})
//
//	err = tr.Send(&transport.Packet{PacketType: transport.PacketControl, Data: frame}, hostAddr)
package transport
