// Package pricing maps an assessment's kind and difficulty to credit costs.
package pricing

import (
	"github.com/hirelab/assessor/types"
	"github.com/shopspring/decimal"
)

// Cost is the credit price of one invite.
// Reserve is held when the invite is issued; Total is charged on completion.
type Cost struct {
	Reserve  decimal.Decimal `json:"reserve"`
	Complete decimal.Decimal `json:"complete"`
	Total    decimal.Decimal `json:"total"`
}

func cost(reserve, complete string) Cost {
	r := decimal.RequireFromString(reserve)
	c := decimal.RequireFromString(complete)
	return Cost{Reserve: r, Complete: c, Total: r.Add(c)}
}

var table = map[types.AssessmentKind]map[types.Difficulty]Cost{
	types.KindMCQ: {
		types.DifficultyJunior: cost("0.25", "0.75"),
		types.DifficultyMid:    cost("0.25", "1.25"),
		types.DifficultySenior: cost("0.5", "1.5"),
	},
	types.KindCoding: {
		types.DifficultyJunior: cost("0.5", "1.5"),
		types.DifficultyMid:    cost("0.5", "2.5"),
		types.DifficultySenior: cost("1", "3"),
	},
	types.KindMixed: {
		types.DifficultyJunior: cost("0.5", "2"),
		types.DifficultyMid:    cost("0.75", "2.75"),
		types.DifficultySenior: cost("1", "3.5"),
	},
}

// For returns the cost of an invite. Unknown kinds price as MIXED and
// unknown difficulties as MID, so a template with stale metadata is never free.
func For(kind types.AssessmentKind, difficulty types.Difficulty) Cost {
	row, ok := table[kind]
	if !ok {
		row = table[types.KindMixed]
	}
	c, ok := row[difficulty]
	if !ok {
		c = row[types.DifficultyMid]
	}
	return c
}
