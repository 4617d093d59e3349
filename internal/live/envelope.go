package live

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"screener/internal/domain"
)

// Envelope types sent by the push stream.
const (
	TypeMarketUpdate = "market_update"
	TypeWelcome      = "welcome"
)

// ErrMalformed wraps every payload the manager cannot use.
var ErrMalformed = errors.New("malformed message")

// Envelope is the tagged wire format of every inbound stream message.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ParseEnvelope decodes one stream frame. A frame without a type is
// malformed.
func ParseEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Rows decodes and normalizes the row batch of a market_update envelope.
// Individual rows without a symbol are dropped; a data field that is not an
// array of objects is malformed.
func (e Envelope) Rows(log *slog.Logger) ([]domain.Row, error) {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformed, e.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(e.Data))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Type, err)
	}
	return domain.NormalizeRows(raw, log), nil
}
