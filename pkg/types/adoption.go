package types

import "time"

type AdoptionRequest struct {
	RequestID     string     `json:"request_id"`
	PetID         string     `json:"pet_id"`
	RequesterID   string     `json:"requester_id"`
	RequesterName string     `json:"requester_name"`
	Attributes    Attributes `json:"attributes"`
	SubmittedAt   time.Time  `json:"submitted_at"`
}

// Attributes are the optional self-declared facts about a requester.
// Nil pointers mean "not declared".
type Attributes struct {
	DeclaredIncome  *int64            `json:"declared_income,omitempty"`
	HouseholdSize   *int64            `json:"household_size,omitempty"`
	HousingType     string            `json:"housing_type,omitempty"`
	PriorExperience bool              `json:"prior_experience"`
	OtherAnimals    bool              `json:"other_animals"`
	Extra           map[string]string `json:"extra,omitempty"`
}

func (a Attributes) Income() (int64, bool) {
	if a.DeclaredIncome == nil {
		return 0, false
	}
	return *a.DeclaredIncome, true
}

type ValidationResult struct {
	RequestID            string          `json:"request_id"`
	PetID                string          `json:"pet_id"`
	Approved             bool            `json:"approved"`
	Score                int             `json:"score"`
	Criteria             map[string]bool `json:"criteria"`
	Message              string          `json:"message"`
	ProcessedAt          time.Time       `json:"processed_at"`
	ProcessingDurationMs int64           `json:"processing_duration_ms"`
	Policy               string          `json:"policy,omitempty"`
	WorkerID             string          `json:"worker_id,omitempty"`
}

type Receipt struct {
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

const StatusAccepted = "accepted"
