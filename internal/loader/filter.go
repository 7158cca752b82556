package loader

import "github.com/freeeve/board768/internal/record"

// Filter reports whether a record should be kept. Rejected records are
// skipped, not replaced, and count towards Stats.Filtered.
type Filter func(p *record.Position) bool

// PlyAtLeast keeps positions at or after the given ply.
func PlyAtLeast(ply int) Filter {
	return func(p *record.Position) bool { return p.Ply() >= ply }
}

// ExcludeOutcome drops positions with the given side-to-move outcome.
func ExcludeOutcome(o record.Outcome) Filter {
	return func(p *record.Position) bool { return p.Outcome != o }
}

// ScoreWithin drops scored positions whose absolute score exceeds limit.
// Unscored positions are kept.
func ScoreWithin(limit int) Filter {
	return func(p *record.Position) bool {
		if !p.HasScore() {
			return true
		}
		s := int(p.Score)
		return s >= -limit && s <= limit
	}
}

// RequireScore drops positions without an engine score.
func RequireScore() Filter {
	return func(p *record.Position) bool { return p.HasScore() }
}

// All keeps a position only if every filter keeps it. Nil filters are ignored.
func All(filters ...Filter) Filter {
	return func(p *record.Position) bool {
		for _, f := range filters {
			if f != nil && !f(p) {
				return false
			}
		}
		return true
	}
}
