package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AccessMode controls who may RSVP to an event without an invite
type AccessMode string

const (
	AccessRestricted AccessMode = "restricted"
	AccessOpen       AccessMode = "open"
)

// QuestionType is the declared answer type of an RSVP question
type QuestionType string

const (
	QuestionText     QuestionType = "text"
	QuestionTextarea QuestionType = "textarea"
	QuestionSelect   QuestionType = "select"
	QuestionNumber   QuestionType = "number"
)

// Question is one entry of an event's RSVP form
type Question struct {
	Key      string       `json:"key,omitempty"`
	Label    string       `json:"label"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
	Options  []string     `json:"options,omitempty"`
}

// Questions is stored as a JSON column
type Questions []Question

// Event is an RSVP event of a wedding (ceremony, reception, brunch...)
type Event struct {
	ID         string     `db:"id" json:"id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	Slug       string     `db:"slug" json:"slug"`
	Name       string     `db:"name" json:"name"`
	Active     bool       `db:"is_active" json:"is_active"`
	AccessMode AccessMode `db:"access_mode" json:"access_mode"`
	Questions  Questions  `db:"questions" json:"questions"`
	OpensAt    *time.Time `db:"opens_at" json:"opens_at,omitempty"`
	ClosesAt   *time.Time `db:"closes_at" json:"closes_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// AcceptsRSVP reports whether the event is active and inside its window at now.
func (e *Event) AcceptsRSVP(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.OpensAt != nil && now.Before(*e.OpensAt) {
		return false
	}
	if e.ClosesAt != nil && !now.Before(*e.ClosesAt) {
		return false
	}
	return true
}

func (q Questions) Value() (driver.Value, error) {
	if q == nil {
		return "[]", nil
	}
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal questions: %w", err)
	}
	return string(data), nil
}

func (q *Questions) Scan(src any) error {
	data, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*q = Questions{}
		return nil
	}
	return json.Unmarshal(data, q)
}

// JSONMap is a free-form JSON object column (answers, audit context, payloads)
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(data), nil
}

func (m *JSONMap) Scan(src any) error {
	data, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	*m = out
	return nil
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}
