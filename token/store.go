package token

import (
	"fmt"
	"sync"

	"github.com/BIGmindz/chainbridge/errors"
)

// Store is the in-memory token ledger. All mutation goes through Update,
// which serializes writers per token id; reads hand out clones so callers
// never share mutable state with the store.
type Store struct {
	mu         sync.RWMutex
	tokens     map[string]*Token
	locks      map[string]*sync.Mutex
	byShipment map[string][]string // shipment id -> token ids, insertion order
}

// NewStore creates an empty token store.
func NewStore() *Store {
	return &Store{
		tokens:     make(map[string]*Token),
		locks:      make(map[string]*sync.Mutex),
		byShipment: make(map[string][]string),
	}
}

// Put inserts a token. Token ids are unique; inserting an existing id fails.
func (s *Store) Put(t *Token) error {
	if t == nil || t.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("nil or unidentified token"), "Store", "Put", "insert token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.ID]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("token %s already stored", t.ID),
			"Store", "Put", "insert token")
	}

	s.tokens[t.ID] = t.Clone()
	s.locks[t.ID] = &sync.Mutex{}
	if t.ParentShipmentID != "" {
		s.byShipment[t.ParentShipmentID] = append(s.byShipment[t.ParentShipmentID], t.ID)
	}
	return nil
}

// Get returns a clone of the token, or ErrTokenNotFound.
func (s *Store) Get(id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[id]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrTokenNotFound, id),
			"Store", "Get", "look up token")
	}
	return t.Clone(), nil
}

// Update runs fn against the stored token under its per-token lock. fn
// receives the live token; an error from fn leaves any mutation it already
// made, so fn must mutate only through the token's own operations, which
// never partially apply.
func (s *Store) Update(id string, fn func(*Token) error) error {
	s.mu.RLock()
	t, ok := s.tokens[id]
	lock := s.locks[id]
	s.mu.RUnlock()

	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrTokenNotFound, id),
			"Store", "Update", "look up token")
	}

	lock.Lock()
	defer lock.Unlock()
	return fn(t)
}

// Transition moves the stored token to target under its per-token lock.
func (s *Store) Transition(id string, target State) error {
	return s.Update(id, func(t *Token) error {
		return t.Transition(target)
	})
}

// ByShipment returns clones of the shipment's tokens, optionally filtered by
// type, in insertion order. An empty filter returns all of them.
func (s *Store) ByShipment(shipmentID string, filter Type) []*Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Token
	for _, id := range s.byShipment[shipmentID] {
		t := s.tokens[id]
		if filter != "" && t.Type != filter {
			continue
		}
		result = append(result, t.Clone())
	}
	return result
}

// ShipmentToken returns the ST-01 token whose own id matches the shipment
// id reference, when one exists. Shipment tokens carry their own id as
// ParentShipmentID.
func (s *Store) ShipmentToken(shipmentID string) (*Token, error) {
	tokens := s.ByShipment(shipmentID, TypeShipment)
	if len(tokens) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: no %s for shipment %s", errors.ErrTokenNotFound, TypeShipment, shipmentID),
			"Store", "ShipmentToken", "look up shipment token")
	}
	return tokens[0], nil
}

// CountByType returns the number of stored tokens per variant.
func (s *Store) CountByType() map[Type]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Type]int)
	for _, t := range s.tokens {
		counts[t.Type]++
	}
	return counts
}

// Len returns the number of stored tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
