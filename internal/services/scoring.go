package services

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
)

// AnswerScore is the graded outcome of one question.
type AnswerScore struct {
	PointsEarned int
	PointsTotal  int
	Correct      bool
}

// AttemptScore is the graded outcome of an attempt.
type AttemptScore struct {
	Sections   []types.SectionScore
	TotalScore float64
	Passed     bool
	Answers    map[uuid.UUID]AnswerScore
}

// ScoreAttempt grades answers against the template's questions. MCQ answers
// earn full points only when the selected set equals the correct set. Coding
// answers keep the points their last submission earned, capped at the sum of
// the question's test case points.
func ScoreAttempt(template types.Template, questions []types.Question, cases map[uuid.UUID][]types.TestCase, answers []types.AttemptAnswer) AttemptScore {
	byQuestion := make(map[uuid.UUID]types.AttemptAnswer, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}

	score := AttemptScore{Answers: make(map[uuid.UUID]AnswerScore, len(questions))}
	sectionIndex := make(map[string]int)
	var earnedTotal, pointsTotal int

	for _, question := range questions {
		answer, answered := byQuestion[question.ID]

		var result AnswerScore
		switch question.Kind {
		case types.QuestionCoding:
			result.PointsTotal = codingMaxPoints(question, cases[question.ID])
			if answered {
				result.PointsEarned = min(max(answer.PointsEarned, 0), result.PointsTotal)
				result.Correct = answer.IsCorrect
			}
		default:
			result.PointsTotal = question.Points
			if answered && sameOptions(answer.SelectedOptions, question.CorrectOptions) {
				result.PointsEarned = question.Points
				result.Correct = true
			}
		}
		score.Answers[question.ID] = result

		idx, ok := sectionIndex[question.Section]
		if !ok {
			idx = len(score.Sections)
			sectionIndex[question.Section] = idx
			score.Sections = append(score.Sections, types.SectionScore{Section: question.Section})
		}
		score.Sections[idx].PointsEarned += result.PointsEarned
		score.Sections[idx].PointsTotal += result.PointsTotal

		earnedTotal += result.PointsEarned
		pointsTotal += result.PointsTotal
	}

	for i := range score.Sections {
		score.Sections[i].Percentage = percentage(score.Sections[i].PointsEarned, score.Sections[i].PointsTotal)
	}
	score.TotalScore = percentage(earnedTotal, pointsTotal)
	score.Passed = pointsTotal > 0 && score.TotalScore >= template.PassingScore
	return score
}

func codingMaxPoints(question types.Question, cases []types.TestCase) int {
	total := 0
	for _, tc := range cases {
		total += tc.Points
	}
	if total == 0 {
		return question.Points
	}
	return total
}

func sameOptions(selected, correct []int) bool {
	if len(correct) == 0 {
		return false
	}
	a := uniqueSorted(selected)
	b := uniqueSorted(correct)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func uniqueSorted(values []int) []int {
	out := append([]int(nil), values...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

func percentage(earned, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(earned)/float64(total)*10000) / 100
}
