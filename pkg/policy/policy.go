// Package policy decides adoption requests. A Policy is a list of
// criteria, an approval threshold and a message set; both supported
// variants run through the same Evaluate.
package policy

import (
	"errors"
	"fmt"

	"github.com/jsndz/petbus/pkg/catalog"
	"github.com/jsndz/petbus/pkg/template"
	"github.com/jsndz/petbus/pkg/types"
)

const (
	MultiCriteria   = "multi-criteria"
	IncomeThreshold = "income-threshold"

	DefaultMinIncome     int64 = 1600000
	DefaultMinNameLength       = 3
	DefaultThreshold           = 3
)

// Weights holds the pass probability of each weighted criterion. A nil
// field keeps its default, so a config may override any subset.
type Weights struct {
	MediumExperience *float64 `yaml:"medium_experience"`
	OtherAnimals     *float64 `yaml:"other_animals"`
	TimeAvailability *float64 `yaml:"time_availability"`
	Financial        *float64 `yaml:"financial"`
}

const (
	DefaultMediumExperience = 0.7
	DefaultOtherAnimals     = 0.6
	DefaultTimeAvailability = 0.7
	DefaultFinancial        = 0.8
)

type probabilities struct {
	mediumExperience float64
	otherAnimals     float64
	timeAvailability float64
	financial        float64
}

func weight(name string, p *float64, def float64) (float64, error) {
	if p == nil {
		return def, nil
	}
	if *p < 0 || *p > 1 {
		return 0, fmt.Errorf("weight %s must be within [0, 1], got %v", name, *p)
	}
	return *p, nil
}

func (w Weights) resolve() (probabilities, error) {
	var (
		out  probabilities
		err  error
		errs []error
	)
	if out.mediumExperience, err = weight("medium_experience", w.MediumExperience, DefaultMediumExperience); err != nil {
		errs = append(errs, err)
	}
	if out.otherAnimals, err = weight("other_animals", w.OtherAnimals, DefaultOtherAnimals); err != nil {
		errs = append(errs, err)
	}
	if out.timeAvailability, err = weight("time_availability", w.TimeAvailability, DefaultTimeAvailability); err != nil {
		errs = append(errs, err)
	}
	if out.financial, err = weight("financial", w.Financial, DefaultFinancial); err != nil {
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

type Options struct {
	Variant   string  `yaml:"variant"`
	Threshold int     `yaml:"threshold"`
	Weights   Weights `yaml:"weights"`
	// MinIncome switches financial-stability to a hard comparison in the
	// multi-criteria variant, and is the minimum of the income variant.
	MinIncome     *int64              `yaml:"min_income"`
	MinNameLength int                 `yaml:"min_name_length"`
	Messages      *template.SetSource `yaml:"messages"`
}

type Policy struct {
	Name      string
	Criteria  []Criterion
	Threshold int
	Messages  *template.Set
	MinIncome int64
}

type Decision struct {
	Approved bool
	Score    int
	Criteria map[string]bool
	// Failed lists unsatisfied criteria in evaluation order.
	Failed  []string
	Message string
}

// MessageData is what message templates can reference.
type MessageData struct {
	PetName       string
	PetID         string
	RequesterName string
	Income        int64
	MinIncome     int64
	Score         int
	Total         int
}

func New(opts Options) (*Policy, error) {
	w, err := opts.Weights.resolve()
	if err != nil {
		return nil, err
	}

	var p *Policy
	switch opts.Variant {
	case "", MultiCriteria:
		financial := Financial(w.financial)
		minIncome := DefaultMinIncome
		if opts.MinIncome != nil {
			minIncome = *opts.MinIncome
			financial = FinancialByIncome(FinancialStability, minIncome)
		}
		threshold := opts.Threshold
		if threshold <= 0 {
			threshold = DefaultThreshold
		}
		p = &Policy{
			Name: MultiCriteria,
			Criteria: []Criterion{
				Experience(w.mediumExperience),
				Housing(),
				Compatibility(w.otherAnimals),
				Time(w.timeAvailability),
				financial,
			},
			Threshold: threshold,
			Messages:  multiCriteriaMessages,
			MinIncome: minIncome,
		}
	case IncomeThreshold:
		minIncome := DefaultMinIncome
		if opts.MinIncome != nil {
			minIncome = *opts.MinIncome
		}
		nameLen := opts.MinNameLength
		if nameLen <= 0 {
			nameLen = DefaultMinNameLength
		}
		criteria := []Criterion{
			FinancialByIncome(IncomeSufficient, minIncome),
			NameLength(nameLen),
		}
		p = &Policy{
			Name:      IncomeThreshold,
			Criteria:  criteria,
			Threshold: len(criteria),
			Messages:  incomeThresholdMessages,
			MinIncome: minIncome,
		}
	default:
		return nil, fmt.Errorf("unknown policy variant %q", opts.Variant)
	}

	if p.Threshold > len(p.Criteria) {
		return nil, fmt.Errorf("threshold %d exceeds %d criteria", p.Threshold, len(p.Criteria))
	}
	if opts.Messages != nil {
		set, err := template.NewSet(*opts.Messages)
		if err != nil {
			return nil, err
		}
		p.Messages = set
	}
	return p, nil
}

// NewInput resolves the pet in c. Unknown pets get low difficulty, the
// default species and a generic name so validation never fails on missing
// reference data.
func NewInput(req types.AdoptionRequest, c catalog.Catalog) Input {
	if c != nil {
		if pet, ok := c.Lookup(req.PetID); ok {
			return Input{Request: req, Pet: pet, Found: true}
		}
	}
	return Input{
		Request: req,
		Pet: types.PetCatalogEntry{
			PetID:      req.PetID,
			Name:       "the pet",
			Species:    types.SpeciesDog,
			Difficulty: types.DifficultyLow,
		},
	}
}

func (p *Policy) Evaluate(in Input, r Rand) (Decision, error) {
	d := Decision{Criteria: make(map[string]bool, len(p.Criteria))}
	for _, c := range p.Criteria {
		ok := c.Eval(in, r)
		d.Criteria[c.Name] = ok
		if ok {
			d.Score++
		} else {
			d.Failed = append(d.Failed, c.Name)
		}
	}
	d.Approved = d.Score >= p.Threshold

	msg, err := p.message(in, d, r)
	if err != nil {
		return Decision{}, err
	}
	d.Message = msg
	return d, nil
}

func (p *Policy) message(in Input, d Decision, r Rand) (string, error) {
	income, _ := in.Request.Attributes.Income()
	data := MessageData{
		PetName:       in.Pet.Name,
		PetID:         in.Pet.PetID,
		RequesterName: in.Request.RequesterName,
		Income:        income,
		MinIncome:     p.MinIncome,
		Score:         d.Score,
		Total:         len(p.Criteria),
	}
	if !d.Approved {
		for _, name := range d.Failed {
			if p.Messages.HasReason(name) {
				return p.Messages.Reason(name, data)
			}
		}
	}
	n := p.Messages.Variants(d.Approved)
	i := 0
	if n > 1 {
		i = r.IntN(n)
	}
	return p.Messages.Outcome(d.Approved, i, data)
}
