package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIGmindz/chainbridge/errors"
)

func newShipment(t *testing.T) *Token {
	t.Helper()
	tok, err := New(TypeShipment, "SHIP-001", nil, nil)
	require.NoError(t, err)
	return tok
}

func TestNew_InitialStates(t *testing.T) {
	tests := []struct {
		tokenType Type
		relations map[string][]string
		initial   State
	}{
		{TypeShipment, nil, ShipmentCreated},
		{TypeMovement, nil, MovementCreated},
		{TypeAccessorial, nil, AccessorialOpen},
		{TypeDispute, map[string][]string{RelationInvoice: {"IT-01-abc"}}, DisputeOpen},
		{TypeInvoice, nil, InvoiceDraft},
		{TypePayment, nil, PaymentInitiated},
	}

	for _, test := range tests {
		t.Run(string(test.tokenType), func(t *testing.T) {
			tok, err := New(test.tokenType, "SHIP-001", nil, test.relations)
			require.NoError(t, err)
			assert.Equal(t, test.initial, tok.State)
			assert.Contains(t, tok.ID, string(test.tokenType)+"-")
			assert.Equal(t, "SHIP-001", tok.ParentShipmentID)
			assert.True(t, ValidState(test.tokenType, tok.State))
		})
	}
}

func TestNew_UnknownType(t *testing.T) {
	tok, err := New(Type("XX-99"), "SHIP-001", nil, nil)
	require.Error(t, err)
	assert.Nil(t, tok)
	assert.True(t, errors.IsInvalid(err))
}

func TestNew_DisputeRequiresInvoiceRelation(t *testing.T) {
	tok, err := New(TypeDispute, "SHIP-001", nil, nil)
	require.Error(t, err)
	assert.Nil(t, tok, "no token is produced on construction failure")
	assert.ErrorIs(t, err, errors.ErrRelationValidation)

	tok, err = New(TypeDispute, "SHIP-001", nil, map[string][]string{
		RelationInvoice: {"IT-01-abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, DisputeOpen, tok.State)
}

func TestTransition_EdgeNotInTable(t *testing.T) {
	tok := newShipment(t)

	err := tok.Transition(ShipmentDelivered)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.Equal(t, ShipmentCreated, tok.State, "state unchanged on rejection")
}

func TestTransition_UnknownTargetState(t *testing.T) {
	tok := newShipment(t)

	err := tok.Transition(State("TELEPORTED"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

// Shipment lifecycle: forward chain, settlement guard, terminal CLOSED.
func TestShipmentLifecycle(t *testing.T) {
	tok := newShipment(t)

	for _, target := range []State{
		ShipmentPlanned, ShipmentDispatched, ShipmentInTransit,
		ShipmentArrived, ShipmentDelivered,
	} {
		require.NoError(t, tok.Transition(target))
	}

	// SETTLED without a payment relation fails and leaves state unchanged
	err := tok.Transition(ShipmentSettled)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRelationValidation)
	assert.Equal(t, ShipmentDelivered, tok.State)

	tok.AddRelation(RelationPayments, "PT-01-abc")
	require.NoError(t, tok.Transition(ShipmentSettled))
	assert.Equal(t, true, tok.Metadata[MetaSettlementConfirmed],
		"settlement flag stamped on commit")

	require.NoError(t, tok.Transition(ShipmentClosed))
	assert.True(t, tok.IsTerminal())

	// Any further transition fails: terminal states have no outgoing edges
	for _, target := range []State{ShipmentCreated, ShipmentDelivered, ShipmentSettled} {
		err := tok.Transition(target)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	}
}

func TestShipment_ClosedRequiresSettlementFlag(t *testing.T) {
	tok := newShipment(t)
	// Force the state without going through SETTLED; the CLOSED guard must
	// still reject a shipment that never committed settlement.
	tok.State = ShipmentSettled

	err := tok.Transition(ShipmentClosed)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTokenValidation)
}

func TestShipment_NoBackwardEdges(t *testing.T) {
	tok := newShipment(t)
	require.NoError(t, tok.Transition(ShipmentPlanned))
	require.NoError(t, tok.Transition(ShipmentDispatched))

	err := tok.Transition(ShipmentPlanned)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

// Accessorial lifecycle: proof and policy-match guards.
func TestAccessorialLifecycle(t *testing.T) {
	tok, err := New(TypeAccessorial, "SHIP-001", nil, nil)
	require.NoError(t, err)

	err = tok.Transition(AccessorialProofAttached)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTokenValidation)
	assert.Equal(t, AccessorialOpen, tok.State)

	require.NoError(t, tok.AttachProof("0xdeadbeef", "sxt", map[string]any{"rows": 12}))
	assert.Equal(t, AccessorialOpen, tok.State, "attaching proof never changes state")
	require.NoError(t, tok.Transition(AccessorialProofAttached))

	err = tok.Transition(AccessorialVerified)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTokenValidation)

	tok.SetMetadata(MetaPolicyMatchID, "POL-7")
	require.NoError(t, tok.Transition(AccessorialVerified))
	require.NoError(t, tok.Transition(AccessorialPublished))
	assert.True(t, tok.IsTerminal())
}

func TestInvoice_PaidRequiresPaymentRelation(t *testing.T) {
	tok, err := New(TypeInvoice, "SHIP-001", nil, nil)
	require.NoError(t, err)
	require.NoError(t, tok.Transition(InvoiceIssued))

	err = tok.Transition(InvoicePaid)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRelationValidation)

	tok.AddRelation(RelationPayments, "PT-01-xyz")
	require.NoError(t, tok.Transition(InvoicePaid))
	require.NoError(t, tok.Transition(InvoiceClosed))
}

func TestPaymentLifecycle(t *testing.T) {
	tok, err := New(TypePayment, "SHIP-001", nil, nil)
	require.NoError(t, err)

	for _, target := range []State{PaymentEscrowed, PaymentReleased, PaymentComplete} {
		require.NoError(t, tok.Transition(target))
	}
	assert.True(t, tok.IsTerminal())
}

func TestMovementLifecycle(t *testing.T) {
	tok, err := New(TypeMovement, "SHIP-001", map[string]any{"milestone": "ARRIVED"}, nil)
	require.NoError(t, err)

	require.NoError(t, tok.Transition(MovementVerified))
	require.NoError(t, tok.Transition(MovementPublished))
	assert.True(t, tok.IsTerminal())
}

func TestAttachProof_TerminalState(t *testing.T) {
	tok, err := New(TypeMovement, "SHIP-001", nil, nil)
	require.NoError(t, err)
	require.NoError(t, tok.Transition(MovementVerified))
	require.NoError(t, tok.Transition(MovementPublished))

	err = tok.AttachProof("0xabc", "sxt", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTerminalState)
}

func TestAddRelation_Deduplicates(t *testing.T) {
	tok := newShipment(t)
	tok.AddRelation(RelationPayments, "PT-01-a", "PT-01-b")
	tok.AddRelation(RelationPayments, "PT-01-a", "PT-01-c")

	assert.Equal(t, []string{"PT-01-a", "PT-01-b", "PT-01-c"}, tok.Relations[RelationPayments])
}

// Every state reachable through the transition tables is a member of the
// variant's declared set, and initial states are members too.
func TestStateSetMembership(t *testing.T) {
	for _, tokenType := range []Type{
		TypeShipment, TypeMovement, TypeAccessorial,
		TypeDispute, TypeInvoice, TypePayment,
	} {
		t.Run(string(tokenType), func(t *testing.T) {
			initial, ok := InitialState(tokenType)
			require.True(t, ok)
			assert.True(t, ValidState(tokenType, initial))

			v := variants[tokenType]
			for e := range v.transitions {
				assert.True(t, ValidState(tokenType, e.from), "from state %s", e.from)
				assert.True(t, ValidState(tokenType, e.to), "to state %s", e.to)
			}
			for terminal := range v.terminal {
				for e := range v.transitions {
					assert.NotEqual(t, terminal, e.from,
						"terminal state %s must have no outgoing edges", terminal)
				}
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tok := newShipment(t)
	assert.True(t, tok.CanTransition(ShipmentPlanned))
	assert.False(t, tok.CanTransition(ShipmentDelivered))

	tok.State = ShipmentDelivered
	assert.False(t, tok.CanTransition(ShipmentSettled), "guard fails without payment relation")
	tok.AddRelation(RelationPayments, "PT-01-a")
	assert.True(t, tok.CanTransition(ShipmentSettled))
	assert.Equal(t, ShipmentDelivered, tok.State, "CanTransition never mutates")
}

func TestClone_Isolation(t *testing.T) {
	tok := newShipment(t)
	tok.SetMetadata("carrier", "ACME")
	tok.AddRelation(RelationPayments, "PT-01-a")
	require.NoError(t, tok.AttachProof("0xabc", "sxt", map[string]any{"rows": 1}))

	clone := tok.Clone()
	clone.SetMetadata("carrier", "OTHER")
	clone.AddRelation(RelationPayments, "PT-01-b")
	clone.Proof.Metadata["rows"] = 99

	assert.Equal(t, "ACME", tok.Metadata["carrier"])
	assert.Equal(t, []string{"PT-01-a"}, tok.Relations[RelationPayments])
	assert.Equal(t, 1, tok.Proof.Metadata["rows"])
}
