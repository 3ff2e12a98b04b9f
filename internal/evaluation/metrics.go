package evaluation

// RecallAtK computes Recall@K: the fraction of relevant codes found in the top-K retrieved codes.
// Repeated retrieved codes count once. Returns 0.0 if relevant is empty.
func RecallAtK(relevant, retrieved []string, k int) float64 {
	relevantSet := toSet(relevant)
	if len(relevantSet) == 0 {
		return 0.0
	}

	found := make(map[string]struct{}, len(relevantSet))
	for _, code := range topK(retrieved, k) {
		if _, ok := relevantSet[code]; ok {
			found[code] = struct{}{}
		}
	}

	return float64(len(found)) / float64(len(relevantSet))
}

// MRRAtK computes the reciprocal rank of the first relevant code in the top-K retrieved codes.
// Returns 0.0 if no relevant code is found in top-K.
func MRRAtK(relevant, retrieved []string, k int) float64 {
	relevantSet := toSet(relevant)
	if len(relevantSet) == 0 {
		return 0.0
	}

	for i, code := range topK(retrieved, k) {
		if _, ok := relevantSet[code]; ok {
			return 1.0 / float64(i+1)
		}
	}

	return 0.0
}

func topK(retrieved []string, k int) []string {
	if k >= 0 && k < len(retrieved) {
		return retrieved[:k]
	}
	return retrieved
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
