package token

import (
	"fmt"

	"github.com/BIGmindz/chainbridge/errors"
)

// ST-01 shipment states.
const (
	ShipmentCreated    State = "CREATED"
	ShipmentPlanned    State = "PLANNED"
	ShipmentDispatched State = "DISPATCHED"
	ShipmentInTransit  State = "IN_TRANSIT"
	ShipmentArrived    State = "ARRIVED"
	ShipmentDelivered  State = "DELIVERED"
	ShipmentSettled    State = "SETTLED"
	ShipmentClosed     State = "CLOSED"
)

// MT-01 movement states.
const (
	MovementCreated   State = "CREATED"
	MovementVerified  State = "VERIFIED"
	MovementPublished State = "PUBLISHED"
)

// AT-02 accessorial states.
const (
	AccessorialOpen          State = "OPEN"
	AccessorialProofAttached State = "PROOF_ATTACHED"
	AccessorialVerified      State = "VERIFIED"
	AccessorialPublished     State = "PUBLISHED"
)

// DT-01 dispute states.
const (
	DisputeOpen        State = "OPEN"
	DisputeUnderReview State = "UNDER_REVIEW"
	DisputeResolved    State = "RESOLVED"
	DisputeClosed      State = "CLOSED"
)

// IT-01 invoice states.
const (
	InvoiceDraft  State = "DRAFT"
	InvoiceIssued State = "ISSUED"
	InvoicePaid   State = "PAID"
	InvoiceClosed State = "CLOSED"
)

// PT-01 payment states.
const (
	PaymentInitiated State = "INITIATED"
	PaymentEscrowed  State = "ESCROWED"
	PaymentReleased  State = "RELEASED"
	PaymentComplete  State = "COMPLETE"
)

// RelationPayments names the relation from a shipment or invoice to its
// PT-01 payment tokens.
const RelationPayments = "pt01_ids"

// RelationInvoice names the relation from a dispute to the IT-01 invoice it
// contests. Required at DT-01 construction.
const RelationInvoice = "it01_id"

// RelationMilestones names the relation from a shipment to its MT-01 tokens.
const RelationMilestones = "mt01_ids"

// MetaSettlementConfirmed is stamped on an ST-01 when the SETTLED transition
// commits; the CLOSED guard requires it.
const MetaSettlementConfirmed = "settlement_confirmed"

// MetaPolicyMatchID is set by a governance approval; the AT-02 VERIFIED
// guard requires it.
const MetaPolicyMatchID = "policy_match_id"

// edge is one directed transition in a variant's state graph.
type edge struct {
	from State
	to   State
}

// rule couples an edge with its guard and an optional commit hook run after
// the state is set. Guards never mutate the token.
type rule struct {
	guard  func(*Token) error
	commit func(*Token)
}

// variant is the static definition of one token type.
type variant struct {
	initial           State
	states            map[State]struct{}
	terminal          map[State]struct{}
	transitions       map[edge]rule
	requiredRelations []string
}

func stateSet(states ...State) map[State]struct{} {
	set := make(map[State]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}

// requireRelation builds a guard that fails with a relation validation error
// when the named relation is empty.
func requireRelation(name string) func(*Token) error {
	return func(t *Token) error {
		if len(t.Relations[name]) == 0 {
			return fmt.Errorf("%w: relation %q required", errors.ErrRelationValidation, name)
		}
		return nil
	}
}

// requireProof fails with a token validation error when no proof is attached.
func requireProof(t *Token) error {
	if t.Proof == nil {
		return fmt.Errorf("%w: proof required", errors.ErrTokenValidation)
	}
	return nil
}

// requireMetadata builds a guard that fails with a token validation error
// when the named metadata key is absent.
func requireMetadata(key string) func(*Token) error {
	return func(t *Token) error {
		if _, ok := t.Metadata[key]; !ok {
			return fmt.Errorf("%w: metadata %q required", errors.ErrTokenValidation, key)
		}
		return nil
	}
}

func allOf(guards ...func(*Token) error) func(*Token) error {
	return func(t *Token) error {
		for _, g := range guards {
			if err := g(t); err != nil {
				return err
			}
		}
		return nil
	}
}

// variants holds the static transition tables. The graph is strictly
// forward: no variant declares a backward edge and terminal states have no
// outgoing edges.
var variants = map[Type]variant{
	TypeShipment: {
		initial: ShipmentCreated,
		states: stateSet(ShipmentCreated, ShipmentPlanned, ShipmentDispatched,
			ShipmentInTransit, ShipmentArrived, ShipmentDelivered,
			ShipmentSettled, ShipmentClosed),
		terminal: stateSet(ShipmentClosed),
		transitions: map[edge]rule{
			{ShipmentCreated, ShipmentPlanned}:      {},
			{ShipmentCreated, ShipmentDispatched}:   {},
			{ShipmentPlanned, ShipmentDispatched}:   {},
			{ShipmentDispatched, ShipmentInTransit}: {},
			{ShipmentInTransit, ShipmentArrived}:    {},
			{ShipmentArrived, ShipmentDelivered}:    {},
			{ShipmentDelivered, ShipmentSettled}: {
				guard: requireRelation(RelationPayments),
				commit: func(t *Token) {
					t.Metadata[MetaSettlementConfirmed] = true
				},
			},
			{ShipmentSettled, ShipmentClosed}: {
				guard: requireMetadata(MetaSettlementConfirmed),
			},
		},
	},

	TypeMovement: {
		initial:  MovementCreated,
		states:   stateSet(MovementCreated, MovementVerified, MovementPublished),
		terminal: stateSet(MovementPublished),
		transitions: map[edge]rule{
			{MovementCreated, MovementVerified}:   {},
			{MovementVerified, MovementPublished}: {},
		},
	},

	TypeAccessorial: {
		initial: AccessorialOpen,
		states: stateSet(AccessorialOpen, AccessorialProofAttached,
			AccessorialVerified, AccessorialPublished),
		terminal: stateSet(AccessorialPublished),
		transitions: map[edge]rule{
			{AccessorialOpen, AccessorialProofAttached}: {
				guard: requireProof,
			},
			{AccessorialProofAttached, AccessorialVerified}: {
				guard: allOf(requireProof, requireMetadata(MetaPolicyMatchID)),
			},
			{AccessorialVerified, AccessorialPublished}: {},
		},
	},

	TypeDispute: {
		initial: DisputeOpen,
		states: stateSet(DisputeOpen, DisputeUnderReview,
			DisputeResolved, DisputeClosed),
		terminal:          stateSet(DisputeClosed),
		requiredRelations: []string{RelationInvoice},
		transitions: map[edge]rule{
			{DisputeOpen, DisputeUnderReview}:     {},
			{DisputeUnderReview, DisputeResolved}: {},
			{DisputeResolved, DisputeClosed}:      {},
		},
	},

	TypeInvoice: {
		initial:  InvoiceDraft,
		states:   stateSet(InvoiceDraft, InvoiceIssued, InvoicePaid, InvoiceClosed),
		terminal: stateSet(InvoiceClosed),
		transitions: map[edge]rule{
			{InvoiceDraft, InvoiceIssued}: {},
			{InvoiceIssued, InvoicePaid}: {
				guard: requireRelation(RelationPayments),
			},
			{InvoicePaid, InvoiceClosed}: {},
		},
	},

	TypePayment: {
		initial:  PaymentInitiated,
		states:   stateSet(PaymentInitiated, PaymentEscrowed, PaymentReleased, PaymentComplete),
		terminal: stateSet(PaymentComplete),
		transitions: map[edge]rule{
			{PaymentInitiated, PaymentEscrowed}: {},
			{PaymentEscrowed, PaymentReleased}:  {},
			{PaymentReleased, PaymentComplete}:  {},
		},
	},
}
