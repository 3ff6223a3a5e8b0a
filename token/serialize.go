package token

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/BIGmindz/chainbridge/errors"
)

// Serialize encodes a token to canonical JSON bytes. Map keys are sorted, so
// the same token always produces the same bytes; token_id, state, metadata
// and relations round-trip exactly.
func Serialize(t *Token) ([]byte, error) {
	if t == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil token"), "Token", "Serialize", "encode token")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Token", "Serialize", "encode token")
	}
	return data, nil
}

// Deserialize decodes canonical token bytes and validates the result against
// the variant's declared state set.
func Deserialize(data []byte) (*Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.WrapInvalid(err, "Token", "Deserialize", "decode token")
	}

	if _, ok := variants[t.Type]; !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown token type %q", t.Type),
			"Token", "Deserialize", "validate token type")
	}
	if !ValidState(t.Type, t.State) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("state %q not in %s state set", t.State, t.Type),
			"Token", "Deserialize", "validate token state")
	}

	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	if t.Relations == nil {
		t.Relations = make(map[string][]string)
	}
	return &t, nil
}
