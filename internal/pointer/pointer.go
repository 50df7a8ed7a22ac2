// Package pointer persists the single open-trade pointer that lets a
// restarted tracker resume a countdown or go straight to reconciliation.
package pointer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultKey is the name of the storage slot holding the pointer.
const DefaultKey = "active_trade"

// ErrNoPointer is returned by Store.Load when no pointer is stored.
var ErrNoPointer = errors.New("pointer: no open trade pointer")

// Pointer records the most recently placed trade that has not been
// reconciled yet.
type Pointer struct {
	TradeID                    string    `json:"tradeId"`
	CreatedAt                  time.Time `json:"createdAt"`
	TradeExpirationTimeSeconds int       `json:"tradeExpirationTimeSeconds"`
}

// ExpiresAt is CreatedAt plus the expiration duration.
func (p Pointer) ExpiresAt() time.Time {
	return p.CreatedAt.Add(time.Duration(p.TradeExpirationTimeSeconds) * time.Second)
}

// Encode serializes the pointer to the string stored in the slot.
func (p Pointer) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("pointer: encode: %w", err)
	}
	return string(b), nil
}

// Decode parses a stored slot value.
func Decode(s string) (Pointer, error) {
	var p Pointer
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Pointer{}, fmt.Errorf("pointer: decode: %w", err)
	}
	return p, nil
}

// Store is a single-slot durable location for the pointer. Save overwrites
// whatever was stored before: last write wins.
type Store interface {
	Save(ctx context.Context, p Pointer) error
	Load(ctx context.Context) (Pointer, error)
	Clear(ctx context.Context) error
}

// Action says how a stored pointer should be resumed.
type Action int

const (
	// Discard means the pointer carries nothing resumable and should be deleted.
	Discard Action = iota
	// ResumeCountdown means the trade window is still open.
	ResumeCountdown
	// ResumePolling means the window closed while nobody was watching.
	ResumePolling
)

func (a Action) String() string {
	switch a {
	case ResumeCountdown:
		return "countdown"
	case ResumePolling:
		return "polling"
	default:
		return "discard"
	}
}

// Resume is the decision taken for a stored pointer.
type Resume struct {
	Action    Action
	Remaining int // whole seconds, only for ResumeCountdown
}

// Plan decides how to resume p at now. A window that closes in less than
// half a second rounds to zero and is treated as already closed.
func Plan(p Pointer, now time.Time) Resume {
	if p.TradeID == "" {
		return Resume{Action: Discard}
	}
	left := p.ExpiresAt().Sub(now)
	if left <= 0 {
		return Resume{Action: ResumePolling}
	}
	remaining := int(math.Round(left.Seconds()))
	if remaining < 1 {
		return Resume{Action: ResumePolling}
	}
	return Resume{Action: ResumeCountdown, Remaining: remaining}
}
