package pipeline

import (
	"sort"

	"github.com/specforge/specforge/pkg/config"
	"github.com/specforge/specforge/pkg/logger"
)

const (
	doubleAssignPriority = 8 // questions this urgent get a second expert
	rebalancePriorityCap = 7 // only questions below this move in rebalancing
	rebalanceMinScore    = 5 // receiving expert needs more domain score than this
)

// AssignExperts matches every question to its best-fit experts and
// rebalances obvious overload. Deterministic for identical inputs.
func (o *Orchestrator) AssignExperts(questions []ResearchQuestion, experts []config.ExpertConfig) []ExpertAssignment {
	if len(questions) == 0 || len(experts) == 0 {
		return nil
	}

	byExpert := make(map[string][]ResearchQuestion)
	for _, q := range questions {
		for _, expertID := range topExpertsFor(q, experts) {
			byExpert[expertID] = append(byExpert[expertID], q)
		}
	}

	// Stable assignment order follows the configured roster, and experts
	// with no questions are dropped.
	assignments := make([]ExpertAssignment, 0, len(experts))
	for _, e := range experts {
		qs := byExpert[e.ID]
		if len(qs) == 0 {
			continue
		}
		assignments = append(assignments, ExpertAssignment{
			ExpertID:   e.ID,
			ExpertName: e.Name,
			Questions:  qs,
			Model:      o.modelForExpert(e),
		})
	}

	rebalance(assignments, experts)
	return assignments
}

func (o *Orchestrator) modelForExpert(e config.ExpertConfig) string {
	if e.Model != "" {
		return e.Model
	}
	return o.cfg.ModelForRole("research")
}

// assignmentScore ranks how well one expert fits one question.
func assignmentScore(q ResearchQuestion, e config.ExpertConfig) float64 {
	score := 2 * float64(e.Expertise[q.Domain])
	for _, required := range q.RequiredExpertise {
		if required == e.ID {
			score += 15
			break
		}
	}
	return score + float64(q.Priority)/2
}

// topExpertsFor returns the best expert for q, or the best two when the
// question is high priority.
func topExpertsFor(q ResearchQuestion, experts []config.ExpertConfig) []string {
	type ranked struct {
		id    string
		score float64
	}

	rankings := make([]ranked, 0, len(experts))
	for _, e := range experts {
		rankings = append(rankings, ranked{id: e.ID, score: assignmentScore(q, e)})
	}
	sort.SliceStable(rankings, func(i, j int) bool { return rankings[i].score > rankings[j].score })

	n := 1
	if q.Priority >= doubleAssignPriority && len(rankings) > 1 {
		n = 2
	}
	out := make([]string, 0, n)
	for _, r := range rankings[:n] {
		out = append(out, r.id)
	}
	return out
}

// rebalance runs one redistribution pass: any expert holding more than
// twice the mean question count sheds up to half of its priority<7
// questions to the least-loaded expert with real domain competence. One
// pass only, so the result is roughly balanced, not optimal.
func rebalance(assignments []ExpertAssignment, experts []config.ExpertConfig) {
	if len(assignments) < 2 {
		return
	}

	total := 0
	for _, a := range assignments {
		total += len(a.Questions)
	}
	mean := float64(total) / float64(len(assignments))

	expertByID := make(map[string]config.ExpertConfig, len(experts))
	for _, e := range experts {
		expertByID[e.ID] = e
	}

	for i := range assignments {
		overloaded := &assignments[i]
		if float64(len(overloaded.Questions)) <= 2*mean {
			continue
		}

		var movable []int
		for qi, q := range overloaded.Questions {
			if q.Priority < rebalancePriorityCap {
				movable = append(movable, qi)
			}
		}
		// Lowest priority moves first.
		sort.SliceStable(movable, func(a, b int) bool {
			return overloaded.Questions[movable[a]].Priority < overloaded.Questions[movable[b]].Priority
		})
		// At most half of the movable questions leave an overloaded expert,
		// rounding down so a lone movable question stays put.
		movable = movable[:len(movable)/2]

		moved := make(map[int]bool)
		for _, qi := range movable {
			q := overloaded.Questions[qi]
			target := -1
			for j := range assignments {
				if j == i {
					continue
				}
				candidate := expertByID[assignments[j].ExpertID]
				if candidate.Expertise[q.Domain] <= rebalanceMinScore {
					continue
				}
				if float64(len(assignments[j].Questions)) >= mean {
					continue
				}
				if target < 0 || len(assignments[j].Questions) < len(assignments[target].Questions) {
					target = j
				}
			}
			if target < 0 {
				continue
			}

			assignments[target].Questions = append(assignments[target].Questions, q)
			moved[qi] = true
			logger.DebugCF("pipeline", "rebalanced question", map[string]any{
				"question": q.ID,
				"from":     overloaded.ExpertID,
				"to":       assignments[target].ExpertID,
			})
		}

		if len(moved) > 0 {
			kept := overloaded.Questions[:0]
			for qi, q := range overloaded.Questions {
				if !moved[qi] {
					kept = append(kept, q)
				}
			}
			overloaded.Questions = kept
		}
	}
}
