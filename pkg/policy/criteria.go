package policy

import (
	"strings"
	"unicode/utf8"

	"github.com/jsndz/petbus/pkg/types"
)

const (
	ExperienceSufficient  = "experience-sufficient"
	HousingSuitable       = "housing-suitable"
	CompatibleWithAnimals = "compatible-with-existing-animals"
	TimeAvailability      = "time-availability"
	FinancialStability    = "financial-stability"
	IncomeSufficient      = "income-sufficient"
	NameValid             = "name-valid"

	HousingUnknown = "unknown"
)

// Input is everything a criterion may look at. Pet is already normalized:
// when the pet id is not in the catalog Found is false and Pet carries the
// conservative defaults.
type Input struct {
	Request types.AdoptionRequest
	Pet     types.PetCatalogEntry
	Found   bool
}

func (in Input) Housing() string {
	h := strings.ToLower(strings.TrimSpace(in.Request.Attributes.HousingType))
	if h == "" {
		return HousingUnknown
	}
	return h
}

// Criterion is a predicate over the input and a randomness source.
// Deterministic criteria never touch r.
type Criterion struct {
	Name          string
	Deterministic bool
	Eval          func(in Input, r Rand) bool
}

func weighted(r Rand, p float64) bool {
	return r.Float64() < p
}

func Experience(mediumPass float64) Criterion {
	return Criterion{
		Name: ExperienceSufficient,
		Eval: func(in Input, r Rand) bool {
			has := in.Request.Attributes.PriorExperience
			switch in.Pet.Difficulty {
			case types.DifficultyHigh:
				return has
			case types.DifficultyMedium:
				return has || weighted(r, mediumPass)
			default:
				return true
			}
		},
	}
}

var housingBySpecies = map[types.Species][]string{
	types.SpeciesDog: {"house", "apartment"},
	types.SpeciesCat: {"house", "apartment", "duplex"},
}

func Housing() Criterion {
	return Criterion{
		Name:          HousingSuitable,
		Deterministic: true,
		Eval: func(in Input, _ Rand) bool {
			allowed, ok := housingBySpecies[in.Pet.Species]
			if !ok {
				allowed = housingBySpecies[types.SpeciesDog]
			}
			h := in.Housing()
			for _, a := range allowed {
				if h == a {
					return true
				}
			}
			return false
		},
	}
}

func Compatibility(pass float64) Criterion {
	return Criterion{
		Name: CompatibleWithAnimals,
		Eval: func(in Input, r Rand) bool {
			if !in.Request.Attributes.OtherAnimals {
				return true
			}
			return weighted(r, pass)
		},
	}
}

func Time(pass float64) Criterion {
	return Criterion{
		Name: TimeAvailability,
		Eval: func(_ Input, r Rand) bool {
			return weighted(r, pass)
		},
	}
}

func Financial(pass float64) Criterion {
	return Criterion{
		Name: FinancialStability,
		Eval: func(_ Input, r Rand) bool {
			return weighted(r, pass)
		},
	}
}

// FinancialByIncome replaces the weighted financial check with a hard income
// comparison. An undeclared income fails.
func FinancialByIncome(name string, minimum int64) Criterion {
	return Criterion{
		Name:          name,
		Deterministic: true,
		Eval: func(in Input, _ Rand) bool {
			income, ok := in.Request.Attributes.Income()
			return ok && income >= minimum
		},
	}
}

func NameLength(minExclusive int) Criterion {
	return Criterion{
		Name:          NameValid,
		Deterministic: true,
		Eval: func(in Input, _ Rand) bool {
			return utf8.RuneCountInString(strings.TrimSpace(in.Request.RequesterName)) > minExclusive
		},
	}
}
