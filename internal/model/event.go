// Package model provides the records exchanged between the field client and the
// checklist server: reference data (assets, checklists), pre-shift check events,
// and the faults derived from them.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SyncStatus tracks a locally created record through the upload queue.
// It is client-only state and never leaves the device.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncError   SyncStatus = "ERROR"
)

// NeedsUpload reports whether a record in this state belongs in the next queue drain.
// ERROR is retried exactly like PENDING.
func (s SyncStatus) NeedsUpload() bool {
	return s == SyncPending || s == SyncError
}

// Answer is an operator's answer to one checklist item.
type Answer string

const (
	AnswerYes Answer = "YES"
	AnswerNo  Answer = "NO"
)

// Result is the overall outcome of a pre-shift check.
type Result string

const (
	ResultPass Result = "PASS"
	ResultFail Result = "FAIL"
)

// ErrCommentRequired is returned when a NO answer has no usable comment.
var ErrCommentRequired = errors.New("comment is required when answer is NO")

// CheckResponse is the answer given for a single checklist item.
type CheckResponse struct {
	ItemID  string `json:"item_id" yaml:"item_id"`
	Answer  Answer `json:"answer" yaml:"answer"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// Reporter identifies the operator who performed a check.
type Reporter struct {
	Name   string `json:"name"`
	UserID string `json:"user_id,omitempty"`
}

// PreShiftCheckEvent is one completed inspection of an asset.
//
// EventID is generated on the device and stays stable across local edits, which is
// what makes server upserts idempotent. The event is mutable while SyncStatus is not
// SYNCED and immutable afterwards.
type PreShiftCheckEvent struct {
	EventID           string          `json:"event_id"`
	AssetID           string          `json:"asset_id"`
	MachineClass      string          `json:"machine_class"`
	ChecklistSnapshot Checklist       `json:"checklist_snapshot"`
	Responses         []CheckResponse `json:"responses"`
	Reporter          Reporter        `json:"reporter"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       time.Time       `json:"completed_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Result            Result          `json:"result"`

	// Client-only fields, stripped by Wire before transmission.
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Key returns the primary id.
func (e *PreShiftCheckEvent) Key() string { return e.EventID }

// Created returns the stored creation time.
func (e *PreShiftCheckEvent) Created() time.Time { return e.CreatedAt }

// Stamp sets the server-managed timestamps.
func (e *PreShiftCheckEvent) Stamp(createdAt, updatedAt time.Time) {
	e.CreatedAt = createdAt
	e.UpdatedAt = updatedAt
}

// Wire returns a copy suitable for upload, without client-only fields.
func (e *PreShiftCheckEvent) Wire() *PreShiftCheckEvent {
	out := *e
	out.Responses = append([]CheckResponse(nil), e.Responses...)
	out.SyncStatus = ""
	out.LastError = ""
	return &out
}

// Clone returns a deep copy of the event.
func (e *PreShiftCheckEvent) Clone() *PreShiftCheckEvent {
	out := *e
	out.Responses = append([]CheckResponse(nil), e.Responses...)
	out.ChecklistSnapshot = e.ChecklistSnapshot.Clone()
	return &out
}

// Evaluate recomputes Result from the responses.
func (e *PreShiftCheckEvent) Evaluate() {
	e.Result = EvaluateResult(e.Responses)
}

// Validate checks that the event is well formed for local storage.
func (e *PreShiftCheckEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.AssetID == "" {
		return fmt.Errorf("asset_id is required")
	}
	if e.Result != ResultPass && e.Result != ResultFail {
		return fmt.Errorf("result must be PASS or FAIL (got %q)", e.Result)
	}
	if want := EvaluateResult(e.Responses); e.Result != want {
		return fmt.Errorf("result %s does not match responses (want %s)", e.Result, want)
	}
	return nil
}

// EvaluateResult returns PASS iff every response is YES. An empty set passes.
func EvaluateResult(responses []CheckResponse) Result {
	for _, r := range responses {
		if r.Answer != AnswerYes {
			return ResultFail
		}
	}
	return ResultPass
}

// ValidateResponse checks a single response. A NO answer needs a non-blank comment.
func ValidateResponse(r CheckResponse) error {
	switch r.Answer {
	case AnswerYes:
		return nil
	case AnswerNo:
		if strings.TrimSpace(r.Comment) == "" {
			return ErrCommentRequired
		}
		return nil
	default:
		return fmt.Errorf("answer must be YES or NO (got %q)", r.Answer)
	}
}

// ValidationError lists the responses that failed validation, keyed by item id.
type ValidationError struct {
	Items map[string]error
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Items))
	for id, err := range v.Items {
		parts = append(parts, fmt.Sprintf("%s: %v", id, err))
	}
	return "invalid responses: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-item errors to errors.Is.
func (v *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(v.Items))
	for _, err := range v.Items {
		errs = append(errs, err)
	}
	return errs
}

// ValidateResponses validates every response and reports all failures at once.
func ValidateResponses(responses []CheckResponse) error {
	var verr *ValidationError
	for _, r := range responses {
		if err := ValidateResponse(r); err != nil {
			if verr == nil {
				verr = &ValidationError{Items: make(map[string]error)}
			}
			verr.Items[r.ItemID] = err
		}
	}
	if verr != nil {
		return verr
	}
	return nil
}
