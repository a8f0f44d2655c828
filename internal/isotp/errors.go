package isotp

import "errors"

// Sentinel errors surfaced by Sender/Receiver. Per the transport-layer error
// policy, callers log and absorb these rather than propagate them to a client.
var (
	ErrFlowTimeout       = errors.New("isotp: flow control timeout")
	ErrOverflow          = errors.New("isotp: flow control overflow")
	ErrSeqError          = errors.New("isotp: consecutive frame sequence error")
	ErrReassemblyTimeout = errors.New("isotp: consecutive frame reassembly timeout")
)
