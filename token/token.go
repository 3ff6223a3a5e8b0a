// Package token implements the ChainBridge token framework: typed, auditable
// logistics and financial tokens governed by closed state machines.
//
// Each variant (ST-01 shipment, MT-01 movement, AT-02 accessorial, DT-01
// dispute, IT-01 invoice, PT-01 payment) declares a fixed state set, a static
// transition table with guard conditions, and the relations required at
// construction. A token never holds a state outside its variant's set and is
// never deleted; terminal states are final.
package token

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/BIGmindz/chainbridge/errors"
	"github.com/BIGmindz/chainbridge/pkg/timestamp"
)

// Type identifies a token variant.
type Type string

// Token variants.
const (
	TypeShipment    Type = "ST-01"
	TypeMovement    Type = "MT-01"
	TypeAccessorial Type = "AT-02"
	TypeDispute     Type = "DT-01"
	TypeInvoice     Type = "IT-01"
	TypePayment     Type = "PT-01"
)

// State is a lifecycle state within a variant's declared set.
type State string

// Proof is an artifact attached to a token by the proof service. Attaching
// proof never changes state; it only unblocks transitions whose guard
// requires it.
type Proof struct {
	Hash       string         `json:"hash"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	AttachedAt int64          `json:"attached_at"`
}

// Token is a typed, state-machine-governed record. ID and ParentShipmentID
// are immutable after creation. Relations hold plain identifier values, never
// pointers, so tokens serialize independently.
type Token struct {
	ID               string              `json:"token_id"`
	Type             Type                `json:"token_type"`
	ParentShipmentID string              `json:"parent_shipment_id"`
	State            State               `json:"state"`
	Metadata         map[string]any      `json:"metadata"`
	Relations        map[string][]string `json:"relations"`
	Proof            *Proof              `json:"proof,omitempty"`
	CreatedAt        int64               `json:"created_at"`
	UpdatedAt        int64               `json:"updated_at"`
}

// New creates a token of the given variant in its initial state. Relations
// required at construction (DT-01 requires "it01_id") are checked here once;
// a missing required relation is a hard construction failure and no token is
// produced.
func New(tokenType Type, parentShipmentID string, metadata map[string]any, relations map[string][]string) (*Token, error) {
	v, ok := variants[tokenType]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown token type %q", tokenType),
			"Token", "New", "resolve variant")
	}

	for _, name := range v.requiredRelations {
		if len(relations[name]) == 0 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s requires relation %q at construction",
					errors.ErrRelationValidation, tokenType, name),
				"Token", "New", "validate construction relations")
		}
	}

	if metadata == nil {
		metadata = make(map[string]any)
	}
	if relations == nil {
		relations = make(map[string][]string)
	}

	now := timestamp.Now()
	return &Token{
		ID:               fmt.Sprintf("%s-%s", tokenType, uuid.NewString()),
		Type:             tokenType,
		ParentShipmentID: parentShipmentID,
		State:            v.initial,
		Metadata:         metadata,
		Relations:        relations,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Transition moves the token to target. The edge must exist in the variant's
// transition table and its guard must pass; otherwise the state is left
// unchanged. Terminal states have no outgoing edges, so any transition out of
// one fails the table lookup.
func (t *Token) Transition(target State) error {
	v, ok := variants[t.Type]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("unknown token type %q", t.Type),
			"Token", "Transition", "resolve variant")
	}

	rule, ok := v.transitions[edge{from: t.State, to: target}]
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s %s -> %s",
				errors.ErrInvalidTransition, t.Type, t.State, target),
			"Token", "Transition", "look up transition edge")
	}

	if rule.guard != nil {
		if err := rule.guard(t); err != nil {
			return errors.WrapInvalid(err, "Token", "Transition",
				fmt.Sprintf("evaluate guard for %s -> %s", t.State, target))
		}
	}

	t.State = target
	t.UpdatedAt = timestamp.Now()
	if rule.commit != nil {
		rule.commit(t)
	}
	return nil
}

// CanTransition reports whether the edge from the current state to target
// exists and its guard passes, without mutating the token.
func (t *Token) CanTransition(target State) bool {
	v, ok := variants[t.Type]
	if !ok {
		return false
	}
	rule, ok := v.transitions[edge{from: t.State, to: target}]
	if !ok {
		return false
	}
	return rule.guard == nil || rule.guard(t) == nil
}

// IsTerminal reports whether the token is in a final state.
func (t *Token) IsTerminal() bool {
	v, ok := variants[t.Type]
	if !ok {
		return false
	}
	_, terminal := v.terminal[t.State]
	return terminal
}

// AttachProof attaches a proof artifact. Legal any time before a terminal
// state; it never changes state.
func (t *Token) AttachProof(hash, source string, metadata map[string]any) error {
	if t.IsTerminal() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s is %s", errors.ErrTerminalState, t.ID, t.State),
			"Token", "AttachProof", "check token state")
	}
	t.Proof = &Proof{
		Hash:       hash,
		Source:     source,
		Metadata:   metadata,
		AttachedAt: timestamp.Now(),
	}
	t.UpdatedAt = timestamp.Now()
	return nil
}

// AddRelation appends ids to a named relation, skipping duplicates.
func (t *Token) AddRelation(name string, ids ...string) {
	existing := t.Relations[name]
	for _, id := range ids {
		seen := false
		for _, have := range existing {
			if have == id {
				seen = true
				break
			}
		}
		if !seen {
			existing = append(existing, id)
		}
	}
	t.Relations[name] = existing
	t.UpdatedAt = timestamp.Now()
}

// SetMetadata sets a metadata key.
func (t *Token) SetMetadata(key string, value any) {
	t.Metadata[key] = value
	t.UpdatedAt = timestamp.Now()
}

// Clone returns a deep copy of the token. Store reads hand out clones so
// callers can never mutate stored state outside the per-token lock.
func (t *Token) Clone() *Token {
	c := *t
	c.Metadata = make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		c.Metadata[k] = v
	}
	c.Relations = make(map[string][]string, len(t.Relations))
	for k, v := range t.Relations {
		ids := make([]string, len(v))
		copy(ids, v)
		c.Relations[k] = ids
	}
	if t.Proof != nil {
		p := *t.Proof
		if t.Proof.Metadata != nil {
			p.Metadata = make(map[string]any, len(t.Proof.Metadata))
			for k, v := range t.Proof.Metadata {
				p.Metadata[k] = v
			}
		}
		c.Proof = &p
	}
	return &c
}

// States returns the declared state set for a variant, or nil for an unknown
// type.
func States(tokenType Type) []State {
	v, ok := variants[tokenType]
	if !ok {
		return nil
	}
	states := make([]State, 0, len(v.states))
	for s := range v.states {
		states = append(states, s)
	}
	return states
}

// ValidState reports whether state belongs to the variant's declared set.
func ValidState(tokenType Type, state State) bool {
	v, ok := variants[tokenType]
	if !ok {
		return false
	}
	_, member := v.states[state]
	return member
}

// InitialState returns the construction state for a variant.
func InitialState(tokenType Type) (State, bool) {
	v, ok := variants[tokenType]
	if !ok {
		return "", false
	}
	return v.initial, true
}
