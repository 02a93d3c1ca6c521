package verification

import (
	"github.com/research-agent/backend/internal/storage/models"
)

// Matcher groups semantically equivalent claims. Two claims match
// when their normalized texts are identical or the cosine similarity
// of their content-word vectors clears the threshold; groups are the
// transitive closure of that relation within one attempt.
type Matcher struct {
	threshold float64
}

func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = 0.72
	}
	return &Matcher{threshold: threshold}
}

func (m *Matcher) Group(claims []models.Claim) [][]models.Claim {
	n := len(claims)
	if n == 0 {
		return nil
	}

	normalized := make([]string, n)
	vectors := make([]map[string]float64, n)
	for i, c := range claims {
		normalized[i] = Normalize(c.Text)
		vectors[i] = WordVector(c.Text)
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if m.matches(normalized[i], normalized[j], vectors[i], vectors[j]) {
				union(i, j)
			}
		}
	}

	// Emit groups in first-seen order.
	order := make([]int, 0, n)
	byRoot := make(map[int][]models.Claim)
	for i, c := range claims {
		root := find(i)
		if _, ok := byRoot[root]; !ok {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], c)
	}

	groups := make([][]models.Claim, 0, len(order))
	for _, root := range order {
		groups = append(groups, byRoot[root])
	}
	return groups
}

func (m *Matcher) matches(normA, normB string, vecA, vecB map[string]float64) bool {
	if normA != "" && normA == normB {
		return true
	}
	return Cosine(vecA, vecB) >= m.threshold
}
