package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Question is a stored question definition. Type specific settings live in Options.
type Question struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Type            string         `gorm:"size:32;not null;index" json:"type"`
	Name            string         `gorm:"size:255;not null" json:"name"`
	Text            string         `gorm:"type:text" json:"text"`
	GeneralFeedback string         `gorm:"type:text" json:"general_feedback"`
	DefaultMark     float64        `gorm:"not null;default:1" json:"default_mark"`
	Penalty         float64        `gorm:"not null;default:0" json:"penalty"`
	Options         datatypes.JSON `gorm:"type:json" json:"-"`
	CreatedBy       string         `gorm:"size:64" json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SetOptions serializes the type specific settings into the JSON column.
func (q *Question) SetOptions(options any) error {
	data, err := json.Marshal(options)
	if err != nil {
		return err
	}
	q.Options = datatypes.JSON(data)
	return nil
}

// DecodeOptions deserializes the stored settings into dst. Empty columns leave dst untouched.
func (q Question) DecodeOptions(dst any) error {
	if len(q.Options) == 0 {
		return nil
	}
	return json.Unmarshal(q.Options, dst)
}
