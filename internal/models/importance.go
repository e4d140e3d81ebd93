package models

// ImportanceLevel is the coarse bucket an importance score falls into
type ImportanceLevel string

const (
	LevelCritical ImportanceLevel = "critical"
	LevelHigh     ImportanceLevel = "high"
	LevelMedium   ImportanceLevel = "medium"
	LevelLow      ImportanceLevel = "low"
	LevelNoise    ImportanceLevel = "noise"
)

// Level cut-points are fixed; the keep threshold is configurable.
const (
	CutCritical = 0.8
	CutHigh     = 0.6
	CutMedium   = 0.4
	CutLow      = 0.2
)

// LevelForScore maps a [0,1] score to its importance level
func LevelForScore(score float64) ImportanceLevel {
	switch {
	case score >= CutCritical:
		return LevelCritical
	case score >= CutHigh:
		return LevelHigh
	case score >= CutMedium:
		return LevelMedium
	case score >= CutLow:
		return LevelLow
	default:
		return LevelNoise
	}
}

// ImportanceScore is the weighted multi-factor score governing retention and
// ranking for a timeline entry.
type ImportanceScore struct {
	Score      float64            `json:"score"`      // [0,1]
	Level      ImportanceLevel    `json:"level"`
	Factors    map[string]float64 `json:"factors"`    // named sub-scores
	Confidence float64            `json:"confidence"` // [0,1]
	Reasons    []string           `json:"reasons,omitempty"`
	ShouldKeep bool               `json:"should_keep"`
}
