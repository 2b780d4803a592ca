package types

type Species string

const (
	SpeciesDog Species = "dog"
	SpeciesCat Species = "cat"
)

type Difficulty string

const (
	DifficultyLow    Difficulty = "low"
	DifficultyMedium Difficulty = "medium"
	DifficultyHigh   Difficulty = "high"
)

type PetCatalogEntry struct {
	PetID      string     `json:"pet_id" yaml:"pet_id"`
	Name       string     `json:"name" yaml:"name"`
	Species    Species    `json:"species" yaml:"species"`
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`
}
