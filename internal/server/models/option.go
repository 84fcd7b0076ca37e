package models

import (
	"encoding/json"
	"time"
)

// Option is the applied value of a setting after a changeset is published.
type Option struct {
	Name      string
	Value     json.RawMessage
	UpdatedAt time.Time
}
