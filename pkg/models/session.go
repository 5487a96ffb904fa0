package models

import "time"

// ClickStatus represents the current state of a click session
type ClickStatus string

const (
	StatusProcessing       ClickStatus = "PROCESSING"
	StatusAwaitingHomeLoad ClickStatus = "AWAITING_HOME_LOAD"
	StatusInProgress       ClickStatus = "IN_PROGRESS"
	StatusApiCompleted     ClickStatus = "API_COMPLETED"
	StatusLoginCompleted   ClickStatus = "LOGIN_COMPLETED"
	StatusCompletedSuccess ClickStatus = "COMPLETED_SUCCESS"
	StatusCompletedError   ClickStatus = "COMPLETED_ERROR"
	StatusError            ClickStatus = "ERROR"
)

// Terminal reports whether a session in this status is finished and
// eligible for sweeping.
func (s ClickStatus) Terminal() bool {
	switch s {
	case StatusCompletedSuccess, StatusCompletedError, StatusError:
		return true
	}
	return false
}

// Waiting reports whether a session in this status is waiting for a
// page-ready signal before a check-in can be dispatched.
func (s ClickStatus) Waiting() bool {
	return s == StatusProcessing || s == StatusAwaitingHomeLoad
}

// ClickSession represents one end-to-end automation attempt, correlating a
// trigger with its tab and outcome. Owned and mutated exclusively by the
// orchestrator; the page agent only carries the identifiers.
type ClickSession struct {
	ID        string      `json:"id"`
	ProcessID string      `json:"processId"`
	TabID     int         `json:"tabId"`
	Status    ClickStatus `json:"status"`
	Source    string      `json:"source"`
	Reason    string      `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// TriggerCheckRequest is the payload for starting a check run
type TriggerCheckRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}

// CheckInPayload is carried by the begin instruction from the orchestrator
// to the page agent.
type CheckInPayload struct {
	SessionID string `json:"sessionId"`
	ProcessID string `json:"processId"`
}

// CheckReport is the page agent's completion report, sent regardless of
// which path the run took.
type CheckReport struct {
	Success   bool   `json:"success"`
	Reason    string `json:"reason"`
	TabID     int    `json:"tabId"`
	SessionID string `json:"sessionId"`
	ProcessID string `json:"processId"`
}

// FetchRequest describes an HTTP call relayed through the privileged
// cookie-bearing client.
type FetchRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FetchResult is the relayed response. OK is false only for transport
// failures; a non-2xx HTTP status is still a delivered response.
type FetchResult struct {
	OK         bool   `json:"ok"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
}
