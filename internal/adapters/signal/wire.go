package signal

import (
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/goccy/go-json"
)

type MsgType string

const (
	TypeRegister   MsgType = "register"
	TypeRegistered MsgType = "registered"
	TypeSignal     MsgType = "signal"
	TypeError      MsgType = "error"
	TypePing       MsgType = "ping"
	TypePong       MsgType = "pong"
)

// Envelope is every frame on the signaling socket.
//
//	register   {id?}                      client -> server
//	registered {id}                       server -> client
//	signal     {to, session, payload}     client -> server
//	signal     {from, session, payload}   server -> client
//	error      {code, message, peer?, session?}
//	ping / pong
type Envelope struct {
	Type    MsgType         `json:"type"`
	ID      domain.PeerID   `json:"id,omitempty"`
	To      domain.PeerID   `json:"to,omitempty"`
	From    domain.PeerID   `json:"from,omitempty"`
	Session string          `json:"session,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Peer    domain.PeerID   `json:"peer,omitempty"`
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
