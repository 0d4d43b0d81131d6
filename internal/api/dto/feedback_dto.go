package dto

import "github.com/spec-kit/feedback-service/internal/domain"

// ContactRequest carries optional submitter contact details.
type ContactRequest struct {
	Name  *string `json:"name" validate:"omitempty,max=200"`
	Email *string `json:"email" validate:"omitempty,email"`
	Phone *string `json:"phone" validate:"omitempty,max=40"`
}

// SubmitFeedbackRequest payload.
type SubmitFeedbackRequest struct {
	Category       domain.Category        `json:"category" validate:"required,oneof=patient visitor staff"`
	FeedbackType   string                 `json:"feedbackType" validate:"max=100"`
	Department     string                 `json:"department" validate:"max=100"`
	Description    string                 `json:"description" validate:"required,max=5000"`
	Rating         *int                   `json:"rating" validate:"omitempty,min=1,max=5"`
	ImpactSeverity *domain.ImpactSeverity `json:"impactSeverity" validate:"omitempty,oneof=none minor moderate critical"`
	IsAnonymous    bool                   `json:"isAnonymous"`
	Contact        *ContactRequest        `json:"contact" validate:"omitempty"`
}

// TransitionRequest applies one transition to one or more records.
type TransitionRequest struct {
	IDs                    []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
	Department             *string  `json:"department"`
	ReportDetails          *string  `json:"reportDetails"`
	FinalActionDescription *string  `json:"finalActionDescription"`
	RevisionNotes          *string  `json:"revisionNotes"`
	AdminNotes             *string  `json:"adminNotes"`
	// OriginTab, when set, is announced to the operator's other tabs.
	OriginTab string `json:"originTab" validate:"max=100"`
}

// EditFeedbackRequest is a partial correction of one record.
type EditFeedbackRequest struct {
	Description   *string           `json:"description" validate:"omitempty,max=5000"`
	FeedbackType  *string           `json:"feedbackType" validate:"omitempty,max=100"`
	Department    *string           `json:"department" validate:"omitempty,max=100"`
	Sentiment     *domain.Sentiment `json:"sentiment" validate:"omitempty,oneof=positive neutral negative"`
	ReportDetails *string           `json:"reportDetails"`
}

// TabAnnouncementRequest tells the caller's other tabs which records one tab
// processed.
type TabAnnouncementRequest struct {
	OriginTab  string   `json:"originTab" validate:"required,max=100"`
	ActionType string   `json:"actionType" validate:"required,max=100"`
	IDs        []string `json:"ids" validate:"required,min=1,dive,required"`
}

// FeedbackListQuery captures dashboard filters.
type FeedbackListQuery struct {
	Partition       string `query:"partition" validate:"omitempty,oneof=external internal"`
	Status          string `query:"status" validate:"omitempty,oneof=pending unassigned assigned escalated spam done failed"`
	DeptStatus      string `query:"deptStatus" validate:"omitempty,oneof=none needs_action proposed need_revision approved no_action_needed escalated"`
	Department      string `query:"department"`
	Sentiment       string `query:"sentiment" validate:"omitempty,oneof=positive neutral negative"`
	SentimentStatus string `query:"sentimentStatus" validate:"omitempty,oneof=pending completed failed"`
	Limit           int    `query:"limit" validate:"omitempty,min=1,max=200"`
	Offset          int    `query:"offset" validate:"omitempty,min=0"`
}

// ListResponse wraps a page of records.
type ListResponse struct {
	Items  []domain.FeedbackRecord `json:"items"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}
