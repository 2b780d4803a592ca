// Package simulate produces random adoption submissions for smoke and load
// testing.
package simulate

import (
	"strconv"

	"github.com/jsndz/petbus/pkg/gateway"
	"github.com/jsndz/petbus/pkg/policy"
)

var (
	requesters = []string{"user_123", "user_456", "user_789", "user_101", "user_112"}
	names      = []string{"Maria", "Carlos", "Ana", "Lucia", "Joaquin"}
	housing    = []string{"house", "apartment", "duplex"}
	incomes    = []int64{500000, 1200000, 1600000, 2000000, 3500000}
)

type Generator struct {
	rand   policy.Rand
	petIDs []string
}

func NewGenerator(r policy.Rand, petIDs []string) *Generator {
	return &Generator{rand: r, petIDs: petIDs}
}

func (g *Generator) pick(list []string) string {
	return list[g.rand.IntN(len(list))]
}

func (g *Generator) flip() string {
	return strconv.FormatBool(g.rand.IntN(2) == 1)
}

// Next returns one random submission.
func (g *Generator) Next() gateway.SubmitInput {
	i := g.rand.IntN(len(requesters))
	return gateway.SubmitInput{
		PetID:         g.pick(g.petIDs),
		RequesterID:   requesters[i],
		RequesterName: names[i],
		Attributes: map[string]string{
			gateway.AttrPriorExperience: g.flip(),
			gateway.AttrHousingType:     g.pick(housing),
			gateway.AttrOtherAnimals:    g.flip(),
			gateway.AttrDeclaredIncome:  strconv.FormatInt(incomes[g.rand.IntN(len(incomes))], 10),
		},
	}
}
