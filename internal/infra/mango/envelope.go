package mango

import (
	"errors"
	"fmt"

	"mango_go/internal/domain"

	"github.com/goccy/go-json"
)

const (
	// MethodAccountNotification is the JSON-RPC method of account change pushes.
	MethodAccountNotification = "accountNotification"

	// EncodingBase64 is the only account data encoding the decoder understands.
	EncodingBase64 = "base64"
)

// EnvelopeKind classifies an inbound message.
type EnvelopeKind int

const (
	KindAck EnvelopeKind = iota
	KindNotification
)

func (k EnvelopeKind) String() string {
	switch k {
	case KindAck:
		return "ACK"
	case KindNotification:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the parsed form of one websocket message.
type Envelope struct {
	Kind EnvelopeKind

	// Ack fields
	RequestID      json.RawMessage
	SubscriptionID uint64 // server-assigned id, zero when the result is not a number

	// Notification fields
	Method       string
	Subscription uint64
	Slot         uint64
	Payload      string
	Encoding     string
}

type rawEnvelope struct {
	ID     json.RawMessage  `json:"id"`
	Result json.RawMessage  `json:"result"`
	Error  *domain.RPCError `json:"error"`
	Method string           `json:"method"`
	Params json.RawMessage  `json:"params"`
}

type rawParams struct {
	Subscription *uint64 `json:"subscription"`
	Result       *struct {
		Context *struct {
			Slot *uint64 `json:"slot"`
		} `json:"context"`
		Value *struct {
			Data json.RawMessage `json:"data"`
		} `json:"value"`
	} `json:"result"`
}

// ParseEnvelope classifies msg as an acknowledgement or extracts the account
// notification fields. Any other shape is an *domain.EnvelopeError.
func ParseEnvelope(msg []byte) (*Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, domain.NewEnvelopeError("$", err)
	}

	if len(raw.Result) > 0 {
		env := &Envelope{Kind: KindAck, RequestID: raw.ID}
		var id uint64
		if json.Unmarshal(raw.Result, &id) == nil {
			env.SubscriptionID = id
		}
		return env, nil
	}

	if raw.Error != nil {
		return nil, domain.NewEnvelopeError("error", raw.Error)
	}

	if raw.Method == "" {
		return nil, domain.NewEnvelopeError("method", errors.New("missing"))
	}
	if raw.Method != MethodAccountNotification {
		return nil, domain.NewEnvelopeError("method", fmt.Errorf("unexpected method %q", raw.Method))
	}
	if len(raw.Params) == 0 {
		return nil, domain.NewEnvelopeError("params", errors.New("missing"))
	}

	var params rawParams
	if err := json.Unmarshal(raw.Params, &params); err != nil {
		return nil, domain.NewEnvelopeError("params", err)
	}
	if params.Subscription == nil {
		return nil, domain.NewEnvelopeError("params.subscription", errors.New("missing"))
	}
	if params.Result == nil {
		return nil, domain.NewEnvelopeError("params.result", errors.New("missing"))
	}
	if params.Result.Context == nil || params.Result.Context.Slot == nil {
		return nil, domain.NewEnvelopeError("params.result.context.slot", errors.New("missing"))
	}
	if params.Result.Value == nil || len(params.Result.Value.Data) == 0 {
		return nil, domain.NewEnvelopeError("params.result.value.data", errors.New("missing"))
	}

	var data []string
	if err := json.Unmarshal(params.Result.Value.Data, &data); err != nil {
		return nil, domain.NewEnvelopeError("params.result.value.data", err)
	}
	if len(data) != 2 {
		return nil, domain.NewEnvelopeError("params.result.value.data",
			fmt.Errorf("expected [payload, encoding], got %d elements", len(data)))
	}
	if data[1] != EncodingBase64 {
		return nil, domain.NewEnvelopeError("params.result.value.data[1]",
			fmt.Errorf("unsupported encoding %q", data[1]))
	}

	return &Envelope{
		Kind:         KindNotification,
		Method:       raw.Method,
		Subscription: *params.Subscription,
		Slot:         *params.Result.Context.Slot,
		Payload:      data[0],
		Encoding:     data[1],
	}, nil
}

// SubscribeRequest builds the accountSubscribe JSON-RPC call for account.
func SubscribeRequest(id uint64, account, commitment string) ([]byte, error) {
	req := struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      uint64        `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
	}{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params: []interface{}{
			account,
			map[string]string{
				"encoding":   EncodingBase64,
				"commitment": commitment,
			},
		},
	}
	return json.Marshal(req)
}
