package wire

import "github.com/penguintechinc/simsubstrate/pkg/moduleid"

// ControlVerb enumerates the verbs a control frame's first element may
// carry. Any verb not in this list is echoed "ack" and otherwise ignored,
// per spec.md §4.3/§6.
type ControlVerb string

const (
	VerbQuit ControlVerb = "quit"
	VerbAck  ControlVerb = "ack"
	// VerbHello is sent once, unprompted, immediately after a worker
	// dials the control endpoint, so the listener can learn which
	// identity owns the new connection before any quit is issued.
	VerbHello ControlVerb = "hello"
)

// ControlFrame is a length-prefixed multipart control-channel message:
// an identity, a verb, and zero or more opaque argument frames.
type ControlFrame struct {
	Identity moduleid.ID
	Verb     ControlVerb
	Args     [][]byte
}

// DataEnvelope is the (peer, payload) tuple carried inside a data frame.
// On the worker→broker direction Peer is the destination module ID; on
// the broker→worker direction Peer is the source module ID (spec.md §6).
type DataEnvelope struct {
	Peer    moduleid.ID
	Payload Sample
}

// DataFrame is a data-channel message: [identity, payload] where identity
// is the socket-level sender identity (the worker's own ID on the
// worker→broker leg; the destination's ID on the broker→worker leg).
type DataFrame struct {
	Identity moduleid.ID
	Envelope DataEnvelope
}
