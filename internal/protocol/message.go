// Package protocol implements the ring wire grammar.
//
// Peers exchange colon-delimited text datagrams:
//
//	INIT CONNECT
//	JOIN:<LFT|RGT>:<ip>:<port>
//	REQINS:<LFT|RGT>:<ip>:<port>
//	INS:<LFT|RGT>:<ip>:<port>
//
// Decode is the only place payload text is interpreted; everything past it
// switches over the closed Kind set.
package protocol

import (
	"strings"

	"github.com/devrev/pairdb/ringnode/internal/errors"
	"github.com/devrev/pairdb/ringnode/internal/model"
)

// Kind enumerates the ring protocol messages
type Kind int

const (
	KindInitConnect Kind = iota + 1
	KindJoin
	KindReqIns
	KindIns
)

const (
	tokenInitConnect    = "INIT CONNECT"
	tokenInitConnectAlt = "INIT_CONNECT"
	tokenJoin           = "JOIN"
	tokenReqIns         = "REQINS"
	tokenIns            = "INS"
	tokenLeft           = "LFT"
	tokenRight          = "RGT"
)

// String returns the wire token of the kind
func (k Kind) String() string {
	switch k {
	case KindInitConnect:
		return tokenInitConnect
	case KindJoin:
		return tokenJoin
	case KindReqIns:
		return tokenReqIns
	case KindIns:
		return tokenIns
	default:
		return "UNKNOWN"
	}
}

// Label returns a lower-case name suitable for metric labels and log fields
func (k Kind) Label() string {
	switch k {
	case KindInitConnect:
		return "init_connect"
	case KindJoin:
		return "join"
	case KindReqIns:
		return "reqins"
	case KindIns:
		return "ins"
	default:
		return "unknown"
	}
}

// Message is a decoded ring protocol message.
// Side and Addr are meaningful for every kind except KindInitConnect, whose
// candidate is the envelope source.
type Message struct {
	Kind Kind
	Side model.Side
	Addr model.Address
}

// InitConnect asks the recipient to admit the sender into the ring
func InitConnect() Message {
	return Message{Kind: KindInitConnect}
}

// Join directs the recipient to set its side neighbour to addr
func Join(side model.Side, addr model.Address) Message {
	return Message{Kind: KindJoin, Side: side, Addr: addr}
}

// ReqIns asks the recipient to keep routing candidate addr towards side
func ReqIns(side model.Side, addr model.Address) Message {
	return Message{Kind: KindReqIns, Side: side, Addr: addr}
}

// Ins commits addr as the recipient's side neighbour without re-routing
func Ins(side model.Side, addr model.Address) Message {
	return Message{Kind: KindIns, Side: side, Addr: addr}
}

// String renders the message in wire form
func (m Message) String() string {
	if m.Kind == KindInitConnect {
		return tokenInitConnect
	}
	return m.Kind.String() + ":" + sideToken(m.Side) + ":" + m.Addr.String()
}

// Encode returns the datagram payload for the message
func (m Message) Encode() []byte {
	return []byte(m.String())
}

// Decode parses a datagram payload.
// Trailing line terminators and NUL padding are ignored.
func Decode(payload string) (Message, error) {
	text := strings.TrimRight(payload, "\r\n\x00 ")

	if text == tokenInitConnect || text == tokenInitConnectAlt {
		return InitConnect(), nil
	}

	parts := strings.SplitN(text, ":", 3)
	if len(parts) != 3 {
		return Message{}, errors.DecodeFailed(payload, "expected <CMD>:<SIDE>:<ip>:<port>")
	}

	var kind Kind
	switch parts[0] {
	case tokenJoin:
		kind = KindJoin
	case tokenReqIns:
		kind = KindReqIns
	case tokenIns:
		kind = KindIns
	default:
		return Message{}, errors.DecodeFailed(payload, "unknown command "+parts[0])
	}

	side, ok := parseSide(parts[1])
	if !ok {
		return Message{}, errors.DecodeFailed(payload, "unknown side "+parts[1])
	}

	addr, err := model.ParseAddress(parts[2])
	if err != nil {
		return Message{}, errors.DecodeFailedWithCause(payload, "invalid address", err)
	}

	return Message{Kind: kind, Side: side, Addr: addr}, nil
}

func sideToken(s model.Side) string {
	if s == model.SideLeft {
		return tokenLeft
	}
	return tokenRight
}

func parseSide(token string) (model.Side, bool) {
	switch token {
	case tokenLeft:
		return model.SideLeft, true
	case tokenRight:
		return model.SideRight, true
	default:
		return 0, false
	}
}
