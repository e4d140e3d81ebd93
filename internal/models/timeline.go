package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// TimelineCategory is a coarse age bucket
type TimelineCategory string

const (
	CategoryRecent      TimelineCategory = "recent"       // ≤7d
	CategoryLastMonth   TimelineCategory = "last_month"   // ≤30d
	CategoryLastQuarter TimelineCategory = "last_quarter" // ≤90d
	CategoryLastYear    TimelineCategory = "last_year"    // ≤365d
	CategoryHistorical  TimelineCategory = "historical"
)

// CategoryForAge maps an event age to its timeline category
func CategoryForAge(age time.Duration) TimelineCategory {
	days := age.Hours() / 24
	switch {
	case days <= 7:
		return CategoryRecent
	case days <= 30:
		return CategoryLastMonth
	case days <= 90:
		return CategoryLastQuarter
	case days <= 365:
		return CategoryLastYear
	default:
		return CategoryHistorical
	}
}

// StorageTier is the residency class controlling expected access latency
type StorageTier string

const (
	TierHot    StorageTier = "hot"
	TierWarm   StorageTier = "warm"
	TierCold   StorageTier = "cold"
	TierFrozen StorageTier = "frozen"
)

// TierFor assigns a storage tier from importance level and timeline category.
// Critical entries stay hot regardless of age; noise sinks fast.
func TierFor(level ImportanceLevel, category TimelineCategory) StorageTier {
	if level == LevelCritical {
		return TierHot
	}
	type key struct {
		l ImportanceLevel
		c TimelineCategory
	}
	// last_quarter and last_year share a column in the assignment matrix
	c := category
	if c == CategoryLastYear {
		c = CategoryLastQuarter
	}
	table := map[key]StorageTier{
		{LevelHigh, CategoryRecent}:        TierHot,
		{LevelHigh, CategoryLastMonth}:     TierWarm,
		{LevelHigh, CategoryLastQuarter}:   TierCold,
		{LevelHigh, CategoryHistorical}:    TierFrozen,
		{LevelMedium, CategoryRecent}:      TierWarm,
		{LevelMedium, CategoryLastMonth}:   TierWarm,
		{LevelMedium, CategoryLastQuarter}: TierCold,
		{LevelMedium, CategoryHistorical}:  TierFrozen,
		{LevelLow, CategoryRecent}:         TierWarm,
		{LevelLow, CategoryLastMonth}:      TierCold,
		{LevelLow, CategoryLastQuarter}:    TierFrozen,
		{LevelLow, CategoryHistorical}:     TierFrozen,
		{LevelNoise, CategoryRecent}:       TierCold,
		{LevelNoise, CategoryLastMonth}:    TierFrozen,
		{LevelNoise, CategoryLastQuarter}:  TierFrozen,
		{LevelNoise, CategoryHistorical}:   TierFrozen,
	}
	if t, ok := table[key{level, c}]; ok {
		return t
	}
	return TierCold
}

// RetentionPolicy is the maximum age for an entry, derived from its level
type RetentionPolicy string

const (
	RetentionCriticalPermanent RetentionPolicy = "critical_permanent"
	RetentionHighLongTerm      RetentionPolicy = "high_long_term"   // 5y
	RetentionMediumStandard    RetentionPolicy = "medium_standard"  // 2y
	RetentionLowShortTerm      RetentionPolicy = "low_short_term"   // 180d
	RetentionNoiseMinimal      RetentionPolicy = "noise_minimal"    // 30d
)

// RetentionFor maps an importance level to its retention policy
func RetentionFor(level ImportanceLevel) RetentionPolicy {
	switch level {
	case LevelCritical:
		return RetentionCriticalPermanent
	case LevelHigh:
		return RetentionHighLongTerm
	case LevelMedium:
		return RetentionMediumStandard
	case LevelLow:
		return RetentionLowShortTerm
	default:
		return RetentionNoiseMinimal
	}
}

// RetentionPeriod returns the maximum entry age for a policy, or (0, false)
// for permanent retention.
func RetentionPeriod(policy RetentionPolicy) (time.Duration, bool) {
	switch policy {
	case RetentionCriticalPermanent:
		return 0, false
	case RetentionHighLongTerm:
		return 5 * 365 * 24 * time.Hour, true
	case RetentionMediumStandard:
		return 2 * 365 * 24 * time.Hour, true
	case RetentionLowShortTerm:
		return 180 * 24 * time.Hour, true
	default:
		return 30 * 24 * time.Hour, true
	}
}

// TimelineEntry is the storage record owning the original event snapshot.
// The graph entity and the vector row are rebuildable projections of it; the
// timeline is the system of record.
type TimelineEntry struct {
	EntryID         string           `json:"entry_id" db:"entry_id"`
	ProjectID       string           `json:"project_id" db:"project_id"`
	DataType        string           `json:"data_type" db:"data_type"`
	ContentHash     string           `json:"content_hash" db:"content_hash"`
	Event           IntegrationEvent `json:"event"`
	Importance      float64          `json:"importance_score" db:"importance_score"`
	Level           ImportanceLevel  `json:"level" db:"level"`
	Category        TimelineCategory `json:"timeline_category" db:"timeline_category"`
	Tier            StorageTier      `json:"storage_tier" db:"storage_tier"`
	Retention       RetentionPolicy  `json:"retention_policy" db:"retention_policy"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	LastAccessed    time.Time        `json:"last_accessed" db:"last_accessed"`
	AccessCount     int              `json:"access_count" db:"access_count"`
	Tags            []string         `json:"tags,omitempty"`
	RelatedEntryIDs []string         `json:"related_entry_ids,omitempty"`
	Metadata        Metadata         `json:"metadata,omitempty"`
}

// ContentHash normalizes content (collapsed whitespace, lowercased) and
// returns its hex SHA-256. Identical normalized content hashes identically,
// which is what the dedup window compares.
func ContentHash(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
