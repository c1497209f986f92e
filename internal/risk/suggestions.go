package risk

// suggestionsFor builds the intervention suggestions for a computed
// result. Factor-driven suggestions come first, then a level-driven
// one, with duplicates removed while preserving order.
func suggestionsFor(level Level, factors Factors) []string {
	var out []string

	if f, ok := factors[DimInactivity]; ok && f.Score > 50 {
		out = append(out,
			"Send personalized email reminder about course progress",
			"Schedule a check-in call to understand barriers",
		)
	}
	if f, ok := factors[DimVelocity]; ok && f.Score > 30 {
		out = append(out,
			"Provide additional resources for challenging topics",
			"Offer extended deadlines for upcoming assignments",
		)
	}
	if f, ok := factors[DimQuiz]; ok && f.Score > 20 {
		out = append(out,
			"Schedule tutoring session for quiz preparation",
			"Provide study guides and practice materials",
		)
	}
	if f, ok := factors[DimForum]; ok && f.Weight > 0 && f.Score > 40 {
		out = append(out,
			"Encourage participation in discussion forums",
			"Connect with study buddy or learning group",
		)
	}
	if f, ok := factors[DimAssignments]; ok && f.Weight > 0 && f.Raw["delayed_count"] > 2 {
		out = append(out,
			"Review assignment submission process and deadlines",
			"Provide one-on-one assistance with pending work",
		)
	}

	switch level {
	case LevelCritical:
		out = append(out, "Immediate intervention required - contact student directly")
	case LevelHigh:
		out = append(out, "Monitor closely and follow up within 48 hours")
	case LevelMedium:
		out = append(out, "Send gentle reminder and check progress weekly")
	}

	seen := make(map[string]struct{}, len(out))
	deduped := out[:0]
	for _, s := range out {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		deduped = append(deduped, s)
	}
	return deduped
}
