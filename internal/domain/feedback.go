package domain

import "time"

// Category identifies who submitted the feedback.
type Category string

const (
	CategoryPatient Category = "patient"
	CategoryVisitor Category = "visitor"
	CategoryStaff   Category = "staff"
)

// Partition returns the physical collection a category is stored in.
func (c Category) Partition() (Partition, bool) {
	switch c {
	case CategoryPatient, CategoryVisitor:
		return PartitionExternal, true
	case CategoryStaff:
		return PartitionInternal, true
	default:
		return "", false
	}
}

// ImpactSeverity is the staff-reported impact of internal feedback.
type ImpactSeverity string

const (
	ImpactNone     ImpactSeverity = "none"
	ImpactMinor    ImpactSeverity = "minor"
	ImpactModerate ImpactSeverity = "moderate"
	ImpactCritical ImpactSeverity = "critical"
)

// Valid reports whether the severity is a known value.
func (s ImpactSeverity) Valid() bool {
	switch s {
	case ImpactNone, ImpactMinor, ImpactModerate, ImpactCritical:
		return true
	}
	return false
}

// Sentiment is the classifier verdict.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether the sentiment is one of the three labels.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// SentimentStatus tracks classification progress.
type SentimentStatus string

const (
	SentimentStatusPending   SentimentStatus = "pending"
	SentimentStatusCompleted SentimentStatus = "completed"
	SentimentStatusFailed    SentimentStatus = "failed"
)

// Status is the intake-stage half of the composite state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUnassigned Status = "unassigned"
	StatusAssigned   Status = "assigned"
	StatusEscalated  Status = "escalated"
	StatusSpam       Status = "spam"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// DeptStatus is the department-stage half of the composite state. The empty
// value stands for null.
type DeptStatus string

const (
	DeptStatusNone           DeptStatus = ""
	DeptStatusNeedsAction    DeptStatus = "needs_action"
	DeptStatusProposed       DeptStatus = "proposed"
	DeptStatusNeedRevision   DeptStatus = "need_revision"
	DeptStatusApproved       DeptStatus = "approved"
	DeptStatusNoActionNeeded DeptStatus = "no_action_needed"
	DeptStatusEscalated      DeptStatus = "escalated"
)

// Ptr returns nil for DeptStatusNone so it can be stored as null.
func (d DeptStatus) Ptr() *string {
	if d == DeptStatusNone {
		return nil
	}
	s := string(d)
	return &s
}

// DeptStatusFromPtr is the inverse of Ptr.
func DeptStatusFromPtr(s *string) DeptStatus {
	if s == nil {
		return DeptStatusNone
	}
	return DeptStatus(*s)
}

// Contact holds optional submitter contact details.
type Contact struct {
	Name  *string `json:"name,omitempty" bson:"name,omitempty"`
	Email *string `json:"email,omitempty" bson:"email,omitempty"`
	Phone *string `json:"phone,omitempty" bson:"phone,omitempty"`
}

// FeedbackRecord is the logical feedback entity. Physically it lives in one of
// two partitions selected by the id prefix.
type FeedbackRecord struct {
	ID                     string          `json:"id" bson:"_id"`
	Category               Category        `json:"category" bson:"category"`
	FeedbackType           string          `json:"feedbackType" bson:"feedbackType"`
	Department             string          `json:"department" bson:"department"`
	Description            string          `json:"description" bson:"description"`
	Rating                 *int            `json:"rating,omitempty" bson:"rating,omitempty"`
	ImpactSeverity         *ImpactSeverity `json:"impactSeverity,omitempty" bson:"impactSeverity,omitempty"`
	IsAnonymous            bool            `json:"isAnonymous" bson:"isAnonymous"`
	Contact                Contact         `json:"contact" bson:"contact"`
	Sentiment              *Sentiment      `json:"sentiment" bson:"sentiment"`
	SentimentStatus        SentimentStatus `json:"sentimentStatus" bson:"sentimentStatus"`
	SentimentAttempts      int             `json:"sentimentAttempts" bson:"sentimentAttempts"`
	SentimentError         *string         `json:"sentimentError" bson:"sentimentError"`
	Status                 Status          `json:"status" bson:"status"`
	DeptStatus             *string         `json:"deptStatus" bson:"deptStatus"`
	ReportDetails          *string         `json:"reportDetails" bson:"reportDetails"`
	ReportCreatedAt        *time.Time      `json:"reportCreatedAt" bson:"reportCreatedAt"`
	FinalActionDescription *string         `json:"finalActionDescription" bson:"finalActionDescription"`
	RevisionNotes          *string         `json:"revisionNotes" bson:"revisionNotes"`
	AdminNotes             *string         `json:"adminNotes" bson:"adminNotes"`
	ActionHistory          []AuditEntry    `json:"actionHistory" bson:"actionHistory"`
	CreatedAt              time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// Partition derives the record's partition from its id.
func (r *FeedbackRecord) Partition() Partition {
	p, _ := PartitionOf(r.ID)
	return p
}

// State returns the composite state of the record.
func (r *FeedbackRecord) State() (State, error) {
	return StateFromPair(r.Status, DeptStatusFromPtr(r.DeptStatus))
}

// Closed reports whether the department stage has reached a terminal verdict.
func (r *FeedbackRecord) Closed() bool {
	switch DeptStatusFromPtr(r.DeptStatus) {
	case DeptStatusApproved, DeptStatusNoActionNeeded:
		return true
	}
	return false
}

// LastAuditAt returns the timestamp of the newest history entry.
func (r *FeedbackRecord) LastAuditAt() time.Time {
	if len(r.ActionHistory) == 0 {
		return time.Time{}
	}
	return r.ActionHistory[len(r.ActionHistory)-1].Timestamp
}

// RetryEligible reports whether the sweep may pick the record up.
func (r *FeedbackRecord) RetryEligible(maxAttempts int) bool {
	return r.SentimentStatus == SentimentStatusPending && r.SentimentAttempts < maxAttempts
}
