package models

import (
	"time"

	"github.com/MilanSurkos/fakturomat/internal/utils"
)

type IBase interface {
	GenIDIfEmpty()
	GenID()
	SetID(id utils.SixID)
}

type Base struct {
	ID        utils.SixID `json:"id,omitempty"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID == (utils.SixID{}) {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}

func (m *Base) SetID(id utils.SixID) {
	m.ID = id
}

// Touch updates the modification timestamp.
func (m *Base) Touch() {
	m.UpdatedAt = time.Now().UTC()
}

func NewBase() Base {
	now := time.Now().UTC()
	return Base{
		ID:        utils.NewSixID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
