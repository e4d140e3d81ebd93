package inference

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/devlens/devlens/internal/models"
)

var (
	issueRefPattern  = regexp.MustCompile(`#(\d+)`)
	issueKeyPattern  = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)
	commitRefPattern = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)

	resolutionPattern = regexp.MustCompile(`(?i)\b(fix|resolve|close|address|solve)(s|d|ed|es|ing)?\b`)
)

// extractRefs pulls every identifier-shaped reference out of the event text:
// #123 issue refs, ABC-123 issue keys, and 7-40 char hex commit hashes.
func extractRefs(text string) map[string]bool {
	refs := make(map[string]bool)
	for _, m := range issueRefPattern.FindAllStringSubmatch(text, -1) {
		refs["#"+m[1]] = true
	}
	for _, m := range issueKeyPattern.FindAllStringSubmatch(text, -1) {
		refs[m[1]] = true
	}
	for _, m := range commitRefPattern.FindAllString(text, -1) {
		refs[strings.ToLower(m)] = true
	}
	return refs
}

// candidateKeys lists every identifier a reference in another event could
// match this event by.
func candidateKeys(e *models.IntegrationEvent) []string {
	keys := []string{e.ID}
	if v := e.Metadata.GetString(models.MetaExternalID); v != "" {
		keys = append(keys, v)
	}
	if n, ok := e.Metadata.GetInt(models.MetaIssueNumber); ok {
		keys = append(keys, "#"+strconv.Itoa(n), strconv.Itoa(n))
	}
	if n, ok := e.Metadata.GetInt(models.MetaPRNumber); ok {
		keys = append(keys, "#"+strconv.Itoa(n))
	}
	if v := e.Metadata.GetString(models.MetaCommitHash); v != "" {
		keys = append(keys, strings.ToLower(v))
	}
	return keys
}

// countMatches counts how many of the candidate's keys appear in refs.
// Commit hashes match on prefix so a short ref finds its full hash.
func countMatches(refs map[string]bool, keys []string) int {
	count := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		if refs[key] {
			count++
			continue
		}
		if isHexKey(key) {
			for ref := range refs {
				if isHexKey(ref) && len(ref) >= 7 && strings.HasPrefix(key, ref) {
					count++
					break
				}
			}
		}
	}
	return count
}

func isHexKey(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// hasResolutionVerb reports whether the text declares intent to fix something.
func hasResolutionVerb(text string) bool {
	return resolutionPattern.MatchString(text)
}

// componentSet builds the event's component fingerprint: the declared
// component, Jira-style components[], and for code events the first two path
// segments of each touched file.
func componentSet(e *models.IntegrationEvent) map[string]bool {
	set := make(map[string]bool)
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = true
		}
	}
	add(e.Component)
	for _, c := range e.Metadata.GetStrings(models.MetaComponents) {
		add(c)
	}
	for _, f := range e.Metadata.GetStrings(models.MetaFiles) {
		parts := strings.Split(strings.Trim(f, "/"), "/")
		if len(parts) >= 2 {
			add(parts[0] + "/" + parts[1])
		} else if len(parts) == 1 {
			add(parts[0])
		}
	}
	return set
}

