package reception

import (
	"encoding/json"
	"fmt"

	"github.com/wireapp/kalium-sub009/ids"
	"github.com/wireapp/kalium-sub009/message"
)

type jsonEnvelope struct {
	MessageID string          `json:"message_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	External  *jsonExternal   `json:"external,omitempty"`
}

type jsonExternal struct {
	OTRKey []byte `json:"otr_key"`
	SHA256 []byte `json:"sha256"`
}

// JSONCodec is the default plaintext codec: a json envelope carrying a message id and
// either a tagged content payload or external-content instructions.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

func (c *JSONCodec) Decode(plaintext []byte) (*DecodedEnvelope, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, fmt.Errorf("reception: error decoding plaintext envelope: %w", err)
	}
	id, err := ids.Parse(env.MessageID)
	if err != nil {
		return nil, fmt.Errorf("reception: error parsing message id %q: %w", env.MessageID, err)
	}

	decoded := &DecodedEnvelope{MessageID: id}
	if env.External != nil {
		decoded.External = &ExternalInstructions{OTRKey: env.External.OTRKey, SHA256: env.External.SHA256}
		return decoded, nil
	}

	content, err := message.DecodeContent(env.Kind, env.Payload)
	if err != nil {
		return nil, err
	}
	decoded.Content = content
	return decoded, nil
}
