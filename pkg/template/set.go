package template

import (
	"fmt"
	text "text/template"
)

// Set is a parsed group of outcome messages. Approved and Rejected hold
// interchangeable variants; Reasons maps a criterion name to the message
// used when that criterion is the first one to fail.
type Set struct {
	approved []*text.Template
	rejected []*text.Template
	reasons  map[string]*text.Template
}

type SetSource struct {
	Approved []string          `yaml:"approved"`
	Rejected []string          `yaml:"rejected"`
	Reasons  map[string]string `yaml:"reasons"`
}

func NewSet(src SetSource) (*Set, error) {
	if len(src.Approved) == 0 || len(src.Rejected) == 0 {
		return nil, fmt.Errorf("message set needs at least one approved and one rejected template")
	}
	s := &Set{reasons: make(map[string]*text.Template, len(src.Reasons))}
	for i, c := range src.Approved {
		t, err := parse(fmt.Sprintf("approved_%d", i), c)
		if err != nil {
			return nil, err
		}
		s.approved = append(s.approved, t)
	}
	for i, c := range src.Rejected {
		t, err := parse(fmt.Sprintf("rejected_%d", i), c)
		if err != nil {
			return nil, err
		}
		s.rejected = append(s.rejected, t)
	}
	for name, c := range src.Reasons {
		t, err := parse("reason_"+name, c)
		if err != nil {
			return nil, err
		}
		s.reasons[name] = t
	}
	return s, nil
}

func MustSet(src SetSource) *Set {
	s, err := NewSet(src)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Set) Variants(approved bool) int {
	if approved {
		return len(s.approved)
	}
	return len(s.rejected)
}

// Outcome renders variant i (taken modulo the number of variants).
func (s *Set) Outcome(approved bool, i int, data any) (string, error) {
	list := s.rejected
	if approved {
		list = s.approved
	}
	if i < 0 {
		i = -i
	}
	return execute(list[i%len(list)], data)
}

func (s *Set) HasReason(criterion string) bool {
	_, ok := s.reasons[criterion]
	return ok
}

func (s *Set) Reason(criterion string, data any) (string, error) {
	t, ok := s.reasons[criterion]
	if !ok {
		return "", fmt.Errorf("no reason template for %s", criterion)
	}
	return execute(t, data)
}
