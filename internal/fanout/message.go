package fanout

import (
	"time"

	"github.com/spec-kit/feedback-service/internal/domain"
)

// Kind distinguishes per-record deltas from bulk refetch hints.
type Kind string

const (
	KindDelta Kind = "delta"
	KindHint  Kind = "hint"
)

// Source names the producer of a message.
type Source string

const (
	SourceDirect     Source = "direct"
	SourceChangeFeed Source = "change_feed"
)

// Reason describes what happened to the record.
type Reason string

const (
	ReasonSubmitted   Reason = "submitted"
	ReasonTransition  Reason = "transition"
	ReasonEdited      Reason = "edited"
	ReasonSentiment   Reason = "sentiment"
	ReasonStateChange Reason = "state_change"
)

// Message is the wire shape pushed to viewers.
type Message struct {
	Kind   Kind   `json:"kind"`
	Source Source `json:"source"`
	Reason Reason `json:"reason"`

	ID         string            `json:"id,omitempty"`
	Status     domain.Status     `json:"status,omitempty"`
	DeptStatus domain.DeptStatus `json:"deptStatus,omitempty"`
	Department string            `json:"department,omitempty"`
	Changes    map[string]any    `json:"changes,omitempty"`

	IDs           []string `json:"ids,omitempty"`
	ChangedFields []string `json:"changedFields,omitempty"`

	At time.Time `json:"at"`
}

// Delta builds a single-record message.
func Delta(source Source, reason Reason, id string, state domain.State, department string, changes map[string]any, at time.Time) Message {
	return Message{
		Kind:       KindDelta,
		Source:     source,
		Reason:     reason,
		ID:         id,
		Status:     state.Status(),
		DeptStatus: state.DeptStatus(),
		Department: department,
		Changes:    changes,
		At:         at,
	}
}

// Hint builds a bulk refetch message for records that all reached state.
func Hint(ids []string, changedFields []string, state domain.State, at time.Time) Message {
	return Message{
		Kind:          KindHint,
		Source:        SourceDirect,
		Reason:        ReasonTransition,
		Status:        state.Status(),
		DeptStatus:    state.DeptStatus(),
		IDs:           ids,
		ChangedFields: changedFields,
		At:            at,
	}
}

// State resolves the composite state carried by a delta.
func (m Message) State() (domain.State, bool) {
	s, err := domain.StateFromPair(m.Status, m.DeptStatus)
	return s, err == nil
}

// stateChange reports whether the message announces a composite state change,
// which is what both producers can emit for the same mutation.
func (m Message) stateChange() bool {
	return m.Kind == KindDelta && (m.Reason == ReasonTransition || m.Reason == ReasonStateChange)
}

// SuppressionKey identifies one state change of one record.
func SuppressionKey(id string, status domain.Status, dept domain.DeptStatus) string {
	d := string(dept)
	if d == "" {
		d = "null"
	}
	return id + "|" + string(status) + "|" + d
}

// VisibleTo reports whether a viewer should receive the message. Hints go to
// everyone since they carry no record data.
func (m Message) VisibleTo(p domain.Principal) bool {
	if m.Kind == KindHint {
		return true
	}
	state, ok := m.State()
	if !ok {
		return p.Role == domain.RoleIntake
	}
	return p.CanView(state, m.Department)
}
