// Package device implements the ChainSense device registry and the
// signature and replay guard that fronts telemetry ingestion.
//
// Every device holds a shared secret and a strictly increasing nonce
// watermark. A request is accepted only when its HMAC-SHA256 over the
// canonical field encoding matches and its nonce is strictly greater than
// the watermark; acceptance advances the watermark under the device lock so
// a duplicate nonce can never be partially processed.
package device

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/BIGmindz/chainbridge/errors"
)

// Profile is the registration record for one device, loaded at service
// start. Secrets are read-only during evaluation.
type Profile struct {
	DeviceID     string `json:"device_id"`
	SharedSecret string `json:"shared_secret"`
	Owner        string `json:"owner"`
}

// Sign computes the hex HMAC-SHA256 of the canonical payload. Devices call
// this with their shared secret; the guard recomputes it on verification.
func Sign(secret string, canonical []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// deviceState is the mutable per-device record guarded by its own lock.
type deviceState struct {
	mu        sync.Mutex
	profile   Profile
	lastNonce uint64
}

// Guard is the signature and replay guard over a fixed device registry.
type Guard struct {
	mu      sync.RWMutex
	devices map[string]*deviceState
}

// NewGuard builds a guard from registered device profiles.
func NewGuard(profiles []Profile) *Guard {
	devices := make(map[string]*deviceState, len(profiles))
	for _, p := range profiles {
		devices[p.DeviceID] = &deviceState{profile: p}
	}
	return &Guard{devices: devices}
}

// Register adds a device profile. Registration happens out of band before
// traffic flows; re-registering a device id resets its watermark.
func (g *Guard) Register(p Profile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.devices[p.DeviceID] = &deviceState{profile: p}
}

// Verify checks a signed submission and, on acceptance, atomically advances
// the device's nonce watermark. Rejections are definitive: unknown device,
// MAC mismatch, or a nonce at or below the watermark, in that order, and
// nothing is mutated on rejection. The verify-and-advance runs under the
// per-device lock so two submissions with the same nonce can never both
// pass.
func (g *Guard) Verify(deviceID string, nonce uint64, canonical []byte, signature string) error {
	g.mu.RLock()
	state, ok := g.devices[deviceID]
	g.mu.RUnlock()
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrUnknownDevice, deviceID),
			"Guard", "Verify", "look up device")
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	expected := Sign(state.profile.SharedSecret, canonical)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: device %s", errors.ErrSignatureInvalid, deviceID),
			"Guard", "Verify", "verify signature")
	}

	if nonce <= state.lastNonce {
		return errors.WrapInvalid(
			fmt.Errorf("%w: device %s nonce %d, watermark %d",
				errors.ErrReplayDetected, deviceID, nonce, state.lastNonce),
			"Guard", "Verify", "check nonce watermark")
	}

	state.lastNonce = nonce
	return nil
}

// Watermark returns the device's last accepted nonce.
func (g *Guard) Watermark(deviceID string) (uint64, error) {
	g.mu.RLock()
	state, ok := g.devices[deviceID]
	g.mu.RUnlock()
	if !ok {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrUnknownDevice, deviceID),
			"Guard", "Watermark", "look up device")
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.lastNonce, nil
}

// Known reports whether the device is registered.
func (g *Guard) Known(deviceID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.devices[deviceID]
	return ok
}
