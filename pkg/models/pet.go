package models

import (
	"time"

	"github.com/jsndz/petbus/pkg/types"
)

type Pet struct {
	PetID      string           `gorm:"size:64;primaryKey"`
	Name       string           `gorm:"size:100;not null"`
	Species    types.Species    `gorm:"type:varchar(10);not null;index"`
	Difficulty types.Difficulty `gorm:"type:varchar(10);not null;default:'low'"`
	CreatedAt  time.Time        `gorm:"autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"autoUpdateTime"`
}

func (p Pet) Entry() types.PetCatalogEntry {
	return types.PetCatalogEntry{
		PetID:      p.PetID,
		Name:       p.Name,
		Species:    p.Species,
		Difficulty: p.Difficulty,
	}
}
