package talkback

import (
	"sync/atomic"

	"github.com/dkeye/patchroom/internal/core"
)

type CallState int32

const (
	CallStateOk CallState = iota
	CallStateMuted
	CallStateDelete
)

// OutCall is one outgoing audio call to a peer.
type OutCall struct {
	Call  core.OutboundCall
	state atomic.Int32 // Zero by default (CallStateOk)
}

func NewOutCall(call core.OutboundCall) *OutCall {
	return &OutCall{Call: call}
}

func (oc *OutCall) GetState() CallState {
	return CallState(oc.state.Load())
}

func (oc *OutCall) MarkOk() {
	oc.state.CompareAndSwap(int32(CallStateMuted), int32(CallStateOk))
}

func (oc *OutCall) MarkMuted() {
	oc.state.CompareAndSwap(int32(CallStateOk), int32(CallStateMuted))
}

func (oc *OutCall) MarkDelete() {
	oc.state.Store(int32(CallStateDelete))
}
