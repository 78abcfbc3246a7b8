package protocol

import (
	"strings"

	"github.com/devrev/pairdb/ringnode/internal/errors"
	"github.com/devrev/pairdb/ringnode/internal/model"
)

const (
	envelopeSourcePrefix = "SRC:"
	envelopeSeparator    = ";MSG:"
)

// Envelope carries a received payload together with the address it came from.
// The listener produces envelopes; the ring node is their only consumer.
type Envelope struct {
	Source  model.Address
	Payload string
}

// NewEnvelope wraps a payload received from source
func NewEnvelope(source model.Address, payload string) Envelope {
	return Envelope{Source: source, Payload: payload}
}

// String renders the envelope line SRC:<ip>:<port>;MSG:<payload>
func (e Envelope) String() string {
	return envelopeSourcePrefix + e.Source.String() + envelopeSeparator + e.Payload
}

// Message decodes the payload
func (e Envelope) Message() (Message, error) {
	return Decode(e.Payload)
}

// ParseEnvelope parses an envelope line.
// The payload is everything after the first ";MSG:" and may itself contain
// separators.
func ParseEnvelope(line string) (Envelope, error) {
	if !strings.HasPrefix(line, envelopeSourcePrefix) {
		return Envelope{}, errors.DecodeFailed(line, "envelope must start with "+envelopeSourcePrefix)
	}

	rest := strings.TrimPrefix(line, envelopeSourcePrefix)
	src, payload, found := strings.Cut(rest, envelopeSeparator)
	if !found {
		return Envelope{}, errors.DecodeFailed(line, "envelope has no MSG section")
	}

	addr, err := model.ParseAddress(src)
	if err != nil {
		return Envelope{}, errors.DecodeFailedWithCause(line, "invalid source address", err)
	}

	return Envelope{Source: addr, Payload: payload}, nil
}
