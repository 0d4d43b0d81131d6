package domain

import "time"

// AuditAction names the lifecycle step recorded in a history entry.
type AuditAction string

const (
	ActionTagSpam            AuditAction = "tag_spam"
	ActionRestore            AuditAction = "restore"
	ActionAssignReport       AuditAction = "assign_report"
	ActionEscalateToAdmin    AuditAction = "escalate_to_admin"
	ActionProposeAction      AuditAction = "propose_action"
	ActionMarkNoAction       AuditAction = "mark_no_action"
	ActionApprove            AuditAction = "approve"
	ActionRequestRevision    AuditAction = "request_revision"
	ActionAssignToDepartment AuditAction = "assign_to_department"
	ActionTakeOwnNoAction    AuditAction = "take_own_action_no_action"
	ActionTakeOwnApprove     AuditAction = "take_own_action_approve"
	ActionEdit               AuditAction = "edit"
)

// AuditEntry is an immutable history entry. Entries are only ever appended.
type AuditEntry struct {
	Action    AuditAction    `json:"action" bson:"action"`
	ActorName string         `json:"actorName" bson:"actorName"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Details   map[string]any `json:"details,omitempty" bson:"details,omitempty"`
}
