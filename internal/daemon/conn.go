package daemon

import (
	"errors"
	"io"
	"log"
	"net"

	"fugue/internal/dispatcher"
	"fugue/internal/wire"
)

// acceptLoop accepts client connections until the listener closes.
func (d *Daemon) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("warning: accept: %v", err)
			continue
		}
		go d.handleConn(conn)
	}
}

// handleConn runs one client connection: a read loop that serializes
// requests through the dispatcher, and a writer goroutine draining the
// client's bounded outbound queue. Responses go through the same queue
// as broadcasts so the client observes a single, ordered message
// stream; the Kind field is what lets its read loop tell them apart.
func (d *Daemon) handleConn(conn net.Conn) {
	client := d.reg.Connect()
	caller := &dispatcher.Caller{Client: client}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range client.Outbound() {
			env, ok := msg.(wire.Envelope)
			if !ok {
				continue
			}
			if err := wire.WriteEnvelope(conn, env); err != nil {
				conn.Close()
				return
			}
		}
		conn.Close()
	}()

	for {
		env, err := wire.ReadEnvelope(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Printf("warning: client %s read: %v", client.ID(), err)
			}
			break
		}
		if env.Kind != wire.KindRequest {
			// Clients only ever send requests; anything else is a framing
			// bug on their side, answered in kind so they can surface it.
			d.reg.SendToClient(client.ID(), wire.Envelope{
				Version:   wire.ProtocolVersion,
				Kind:      wire.KindResponse,
				RequestID: env.RequestID,
				Payload:   []byte(`{"error":{"kind":"protocol_error","message":"expected a request frame"}}`),
			})
			continue
		}
		client.Touch()
		resp := d.disp.Handle(caller, env)
		d.reg.SendToClient(client.ID(), resp)
	}

	d.reg.Disconnect(client)
	<-writerDone
}
