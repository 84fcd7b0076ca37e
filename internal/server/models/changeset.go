// Package models holds the persisted shapes shared by repositories and
// services.
package models

import (
	"encoding/json"
	"time"
)

// Changeset statuses. StatusDeleted is never stored: it only labels a hard
// delete in logs and metrics.
const (
	StatusAutoDraft = "auto-draft"
	StatusDraft     = "draft"
	StatusPending   = "pending"
	StatusFuture    = "future"
	StatusPublish   = "publish"
	StatusTrash     = "trash"
	StatusDeleted   = "deleted"
)

// SettingEntry is one setting value staged in a changeset.
type SettingEntry struct {
	Value  json.RawMessage `json:"value"`
	Type   string          `json:"type,omitempty"`
	UserID string          `json:"user_id,omitempty"`
}

// SettingsData maps setting ids to staged entries.
type SettingsData map[string]SettingEntry

// Clone returns a copy that shares no maps or byte slices with d.
func (d SettingsData) Clone() SettingsData {
	if d == nil {
		return SettingsData{}
	}
	out := make(SettingsData, len(d))
	for id, e := range d {
		e.Value = append(json.RawMessage(nil), e.Value...)
		out[id] = e
	}
	return out
}

// Changeset is a UUID-keyed bundle of pending setting values.
//
// PostID is the store handle; it is zero until the changeset is first
// written. Version is the optimistic concurrency stamp compared on update.
type Changeset struct {
	PostID    int64
	UUID      string
	Status    string
	Title     string
	Data      SettingsData
	Date      *time.Time
	Author    string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of c.
func (c *Changeset) Clone() *Changeset {
	if c == nil {
		return nil
	}
	out := *c
	out.Data = c.Data.Clone()
	if c.Date != nil {
		d := *c.Date
		out.Date = &d
	}
	return &out
}

// Stored reports whether the changeset has a backing row.
func (c *Changeset) Stored() bool {
	return c.PostID != 0
}

// IsEmpty reports whether the changeset carries neither a title nor data.
func (c *Changeset) IsEmpty() bool {
	return c.Title == "" && len(c.Data) == 0
}
