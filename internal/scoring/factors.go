package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/devlens/devlens/internal/models"
)

// Factor names, stable across weight versions. The ledger records
// adjustments against these names.
const (
	FactorContentQuality    = "content_quality"
	FactorTemporalRelevance = "temporal_relevance"
	FactorAuthorImportance  = "author_importance"
	FactorKeywordRelevance  = "keyword_relevance"
	FactorEngagement        = "engagement_metrics"
)

// criticalKeywords drive the keyword_relevance factor. Hits are scaled ×2
// against the set size and capped at 1.
var criticalKeywords = []string{
	"critical", "urgent", "security", "vulnerability", "outage",
	"data loss", "breaking", "regression", "hotfix", "production",
	"crash", "corruption", "deadline", "blocker", "incident",
}

// codeTokens are cheap signals that content contains code rather than prose
var codeTokens = []string{"func ", "def ", "class ", "return ", "import ", "{", "=>", "());"}

// contentQuality scores length bucket plus structural signals: sentence
// breaks for prose, code tokens for snippets, list markers for agendas.
func contentQuality(e *models.IntegrationEvent) float64 {
	text := e.Text()
	length := len(text)

	var score float64
	switch {
	case length == 0:
		return 0.1
	case length < 50:
		score = 0.3
	case length < 200:
		score = 0.5
	case length < 1000:
		score = 0.7
	default:
		score = 0.8
	}

	lower := strings.ToLower(text)
	structured := false
	if strings.Count(text, ". ") >= 2 {
		structured = true
	}
	for _, token := range codeTokens {
		if strings.Contains(text, token) {
			structured = true
			break
		}
	}
	if strings.Contains(text, "\n- ") || strings.Contains(text, "\n* ") || strings.Contains(text, "\n# ") {
		structured = true
	}
	if structured {
		score += 0.15
	}

	// comment density rewards explained code
	if strings.Contains(lower, "//") || strings.Contains(lower, "/*") {
		score += 0.05
	}
	return clamp01(score)
}

// temporalRelevance is the age step function from the retention design
func temporalRelevance(e *models.IntegrationEvent, now time.Time) float64 {
	days := now.Sub(e.Timestamp).Hours() / 24
	switch {
	case days <= 1:
		return 1.0
	case days <= 7:
		return 0.9
	case days <= 30:
		return 0.7
	case days <= 90:
		return 0.5
	case days <= 365:
		return 0.3
	default:
		return 0.1
	}
}

// ProjectContext carries the team roster consulted for author importance
type ProjectContext struct {
	ProjectID string
	// Roles maps lowercased author handle → role title
	Roles map[string]string
}

// seniorRoles and managerRoles bucket role titles for the author factor
var seniorRoles = []string{"lead", "architect", "senior", "principal", "staff"}
var managerRoles = []string{"manager", "mgr", "product", "director"}

// authorImportance scores the author's role; unknown authors score 0.5
func authorImportance(e *models.IntegrationEvent, pc *ProjectContext) float64 {
	if e.Author == "" || pc == nil || pc.Roles == nil {
		return 0.5
	}
	role, ok := pc.Roles[strings.ToLower(e.Author)]
	if !ok {
		return 0.5
	}
	role = strings.ToLower(role)
	for _, senior := range seniorRoles {
		if strings.Contains(role, senior) {
			return 0.9
		}
	}
	for _, mgr := range managerRoles {
		if strings.Contains(role, mgr) {
			return 0.8
		}
	}
	if strings.Contains(role, "dev") || strings.Contains(role, "engineer") {
		return 0.7
	}
	return 0.5
}

// keywordRelevance counts critical keyword hits, scaled ×2, capped at 1
func keywordRelevance(e *models.IntegrationEvent) float64 {
	lower := strings.ToLower(e.Text())
	hits := 0
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	score := float64(hits) / float64(len(criticalKeywords)) * 2
	return clamp01(score)
}

// engagement clamps reply/reaction/mention counts through diminishing-returns
// curves so one viral thread cannot dominate the score.
func engagement(e *models.IntegrationEvent) float64 {
	replies, _ := e.Metadata.GetFloat(models.MetaReplies)
	reactions, _ := e.Metadata.GetFloat(models.MetaReactions)
	mentions, _ := e.Metadata.GetFloat(models.MetaMentions)

	score := 0.5*diminish(replies, 5) + 0.3*diminish(reactions, 10) + 0.2*diminish(mentions, 3)
	return clamp01(score)
}

// diminish maps a count onto [0,1) approaching 1 as count grows past scale
func diminish(count, scale float64) float64 {
	if count <= 0 {
		return 0
	}
	return 1 - math.Exp(-count/scale)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
