package repositories

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jsndz/petbus/pkg/models"
)

type PetRepository struct {
	db *gorm.DB
}

func NewPetRepository(db *gorm.DB) *PetRepository {
	return &PetRepository{db: db}
}

func (r *PetRepository) List() ([]models.Pet, error) {
	var pets []models.Pet
	if err := r.db.Order("pet_id").Find(&pets).Error; err != nil {
		return nil, err
	}
	return pets, nil
}

// Upsert inserts pet or overwrites the existing row with the same pet id.
func (r *PetRepository) Upsert(pet *models.Pet) error {
	if pet.PetID == "" {
		return errors.New("invalid pet ID")
	}
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(pet).Error
}
