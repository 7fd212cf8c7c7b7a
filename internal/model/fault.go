package model

import (
	"fmt"
	"strings"
	"time"
)

// FaultStatus is the lifecycle state of a fault.
type FaultStatus string

const (
	FaultOpen   FaultStatus = "OPEN"
	FaultClosed FaultStatus = "CLOSED"
)

// FaultOrigin records what raised a fault.
type FaultOrigin string

const (
	OriginPreShiftCheck FaultOrigin = "PRE_SHIFT_CHECK"
	OriginManual        FaultOrigin = "MANUAL"
	OriginSystem        FaultOrigin = "SYSTEM"
)

// Fault is a defect reported against an asset.
type Fault struct {
	FaultID       string      `json:"fault_id"`
	AssetID       string      `json:"asset_id"`
	Status        FaultStatus `json:"status"`
	Origin        FaultOrigin `json:"origin"`
	Priority      Priority    `json:"priority"`
	Description   string      `json:"description"`
	SourceEventID string      `json:"source_event_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Reporter      Reporter    `json:"reporter"`

	SyncStatus SyncStatus `json:"sync_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Key returns the primary id.
func (f *Fault) Key() string { return f.FaultID }

// Created returns the stored creation time.
func (f *Fault) Created() time.Time { return f.CreatedAt }

// Stamp sets the server-managed timestamps.
func (f *Fault) Stamp(createdAt, updatedAt time.Time) {
	f.CreatedAt = createdAt
	f.UpdatedAt = updatedAt
}

// Wire returns a copy without client-only fields.
func (f *Fault) Wire() *Fault {
	out := *f
	out.SyncStatus = ""
	out.LastError = ""
	return &out
}

// Validate checks that the fault is well formed for local storage.
func (f *Fault) Validate() error {
	if f.FaultID == "" {
		return fmt.Errorf("fault_id is required")
	}
	if f.AssetID == "" {
		return fmt.Errorf("asset_id is required")
	}
	if f.Status != FaultOpen && f.Status != FaultClosed {
		return fmt.Errorf("status must be OPEN or CLOSED (got %q)", f.Status)
	}
	return nil
}

// DeriveFaults builds one OPEN fault per NO response of the event. Priority comes
// from the matching snapshot item and defaults to MED when the item is missing.
func DeriveFaults(ev *PreShiftCheckEvent, now time.Time, newID func() string) []*Fault {
	var faults []*Fault
	for _, r := range ev.Responses {
		if r.Answer != AnswerNo {
			continue
		}

		priority := PriorityMed
		text := r.ItemID
		if item, ok := ev.ChecklistSnapshot.Item(r.ItemID); ok {
			text = item.Text
			if item.Priority != "" {
				priority = item.Priority
			}
		}

		faults = append(faults, &Fault{
			FaultID:       newID(),
			AssetID:       ev.AssetID,
			Status:        FaultOpen,
			Origin:        OriginPreShiftCheck,
			Priority:      priority,
			Description:   describe(text, r.Comment),
			SourceEventID: ev.EventID,
			CreatedAt:     now,
			UpdatedAt:     now,
			Reporter:      ev.Reporter,
			SyncStatus:    SyncPending,
		})
	}
	return faults
}

func describe(text, comment string) string {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return text
	}
	return text + ": " + comment
}
