package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jsndz/petbus/pkg/types"
)

const (
	AttrDeclaredIncome  = "declared_income"
	AttrHouseholdSize   = "household_size"
	AttrHousingType     = "housing_type"
	AttrPriorExperience = "prior_experience"
	AttrOtherAnimals    = "other_animals"
)

// ParseAttributes converts free-form requester attributes into typed ones.
// Unknown keys are kept verbatim in Extra.
func ParseAttributes(raw map[string]string) (types.Attributes, error) {
	var a types.Attributes
	for key, value := range raw {
		v := strings.TrimSpace(value)
		switch key {
		case AttrDeclaredIncome:
			n, err := parseNonNegative(key, v)
			if err != nil {
				return types.Attributes{}, err
			}
			a.DeclaredIncome = &n
		case AttrHouseholdSize:
			n, err := parseNonNegative(key, v)
			if err != nil {
				return types.Attributes{}, err
			}
			a.HouseholdSize = &n
		case AttrHousingType:
			a.HousingType = strings.ToLower(v)
		case AttrPriorExperience:
			b, err := parseBool(key, v)
			if err != nil {
				return types.Attributes{}, err
			}
			a.PriorExperience = b
		case AttrOtherAnimals:
			b, err := parseBool(key, v)
			if err != nil {
				return types.Attributes{}, err
			}
			a.OtherAnimals = b
		default:
			if a.Extra == nil {
				a.Extra = make(map[string]string)
			}
			a.Extra[key] = value
		}
	}
	return a, nil
}

func parseNonNegative(key, v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrInvalidRequest, key, v)
	}
	return n, nil
}

func parseBool(key, v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidRequest, key, v)
	}
	return b, nil
}
