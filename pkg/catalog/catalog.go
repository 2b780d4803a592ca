// Package catalog holds the read-only pet reference data used during
// validation.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jsndz/petbus/pkg/repositories"
	"github.com/jsndz/petbus/pkg/types"
)

type Catalog interface {
	Lookup(petID string) (types.PetCatalogEntry, bool)
}

// Static is an immutable in-memory catalog.
type Static struct {
	entries map[string]types.PetCatalogEntry
}

func DefaultEntries() []types.PetCatalogEntry {
	return []types.PetCatalogEntry{
		{PetID: "Budy_001", Name: "Budy", Species: types.SpeciesDog, Difficulty: types.DifficultyLow},
		{PetID: "Luna_002", Name: "Luna", Species: types.SpeciesCat, Difficulty: types.DifficultyLow},
		{PetID: "Max_003", Name: "Max", Species: types.SpeciesDog, Difficulty: types.DifficultyMedium},
		{PetID: "Molly_004", Name: "Molly", Species: types.SpeciesDog, Difficulty: types.DifficultyHigh},
		{PetID: "Simba_005", Name: "Simba", Species: types.SpeciesCat, Difficulty: types.DifficultyMedium},
	}
}

func NewStatic(entries ...types.PetCatalogEntry) *Static {
	m := make(map[string]types.PetCatalogEntry, len(entries))
	for _, e := range entries {
		m[e.PetID] = e
	}
	return &Static{entries: m}
}

func Default() *Static {
	return NewStatic(DefaultEntries()...)
}

func (s *Static) Lookup(petID string) (types.PetCatalogEntry, bool) {
	e, ok := s.entries[petID]
	return e, ok
}

// IDs returns every pet id in sorted order.
func (s *Static) IDs() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type fileFormat struct {
	Pets []types.PetCatalogEntry `yaml:"pets"`
}

func LoadYAML(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

func ParseYAML(data []byte) (*Static, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, e := range f.Pets {
		if err := validate(e); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
	}
	return NewStatic(f.Pets...), nil
}

// LoadFromRepository snapshots the pets table once; the pipeline never
// writes to it.
func LoadFromRepository(repo *repositories.PetRepository) (*Static, error) {
	pets, err := repo.List()
	if err != nil {
		return nil, fmt.Errorf("load pets: %w", err)
	}
	entries := make([]types.PetCatalogEntry, 0, len(pets))
	for _, p := range pets {
		e := p.Entry()
		if err := validate(e); err != nil {
			return nil, fmt.Errorf("pet %s: %w", p.PetID, err)
		}
		entries = append(entries, e)
	}
	return NewStatic(entries...), nil
}

func validate(e types.PetCatalogEntry) error {
	if e.PetID == "" {
		return fmt.Errorf("pet_id is required")
	}
	switch e.Species {
	case types.SpeciesDog, types.SpeciesCat:
	default:
		return fmt.Errorf("unknown species %q", e.Species)
	}
	switch e.Difficulty {
	case types.DifficultyLow, types.DifficultyMedium, types.DifficultyHigh:
	default:
		return fmt.Errorf("unknown difficulty %q", e.Difficulty)
	}
	return nil
}
