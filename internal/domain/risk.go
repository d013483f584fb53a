package domain

import "time"

// GateDecision is the outcome of one pre-quote risk check. A denied decision
// names the gate that tripped and how long the caller should back off.
type GateDecision struct {
	Allowed bool          `json:"allowed"`
	Gate    string        `json:"gate,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Backoff time.Duration `json:"backoff,omitempty"`
}
