package model

import "sort"

// Asset is a piece of equipment that gets inspected. Reference data, replaced
// wholesale on every pull.
type Asset struct {
	AssetID      string `json:"asset_id" toml:"asset_id"`
	Name         string `json:"name" toml:"name"`
	MachineClass string `json:"machine_class" toml:"machine_class"`
	QRCodeValue  string `json:"qr_code_value,omitempty" toml:"qr_code_value"`
}

// Priority ranks checklist items and the faults derived from them.
type Priority string

const (
	PriorityLow  Priority = "LOW"
	PriorityMed  Priority = "MED"
	PriorityHigh Priority = "HIGH"
)

// ChecklistStatus marks whether a checklist version is in use.
type ChecklistStatus string

const (
	ChecklistActive   ChecklistStatus = "ACTIVE"
	ChecklistInactive ChecklistStatus = "INACTIVE"
)

// ChecklistItem is one question on a checklist.
type ChecklistItem struct {
	ItemID    string   `json:"item_id" toml:"item_id"`
	Text      string   `json:"text" toml:"text"`
	Priority  Priority `json:"priority" toml:"priority"`
	SortOrder int      `json:"sort_order" toml:"sort_order"`
}

// Checklist is the ordered set of items inspected for a machine class.
type Checklist struct {
	ChecklistID  string          `json:"checklist_id" toml:"checklist_id"`
	MachineClass string          `json:"machine_class" toml:"machine_class"`
	Status       ChecklistStatus `json:"status" toml:"status"`
	Version      int             `json:"version" toml:"version"`
	Items        []ChecklistItem `json:"items" toml:"items"`
}

// Clone returns a deep copy, used for event snapshots.
func (c Checklist) Clone() Checklist {
	c.Items = append([]ChecklistItem(nil), c.Items...)
	return c
}

// Item finds an item by id.
func (c *Checklist) Item(itemID string) (ChecklistItem, bool) {
	for _, it := range c.Items {
		if it.ItemID == itemID {
			return it, true
		}
	}
	return ChecklistItem{}, false
}

// SortItems orders items by SortOrder, keeping the given order for ties.
func (c *Checklist) SortItems() {
	sort.SliceStable(c.Items, func(i, j int) bool {
		return c.Items[i].SortOrder < c.Items[j].SortOrder
	})
}

// BatchError reports one record that a batch upsert rejected.
type BatchError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResponse tallies a batch upsert. Batches are not atomic: records missing
// from Errors were stored.
type BatchResponse struct {
	Processed int          `json:"processed"`
	Created   int          `json:"created"`
	Updated   int          `json:"updated"`
	Errors    []BatchError `json:"errors"`
}

// ErrorFor returns the error message reported for id, if any.
func (b *BatchResponse) ErrorFor(id string) (string, bool) {
	for _, e := range b.Errors {
		if e.ID == id {
			return e.Error, true
		}
	}
	return "", false
}
