package service

import (
	"sort"
	"strings"

	"orchid-tracker/internal/features/shipments/domain"

	"github.com/agnivade/levenshtein"
)

// FilterAll matches every status.
const FilterAll = "all"

// Sort keys accepted by Search.
const (
	SortByTrackingNumber = "trackingNumber"
	SortByStatus         = "status"
	SortByOrigin         = "origin"
	SortByDestination    = "destination"
)

// fuzzy matching kicks in only for queries longer than this, with at most
// this edit distance.
const (
	fuzzyMinQueryLen = 2
	fuzzyMaxDistance = 2
)

// searchRecords filters, matches and sorts the record map for the operator
// list. Matching is case-insensitive substring across tracking number,
// status, origin and destination; when nothing matches directly and the
// query is long enough, a fuzzy pass tolerates typos up to two edits.
func searchRecords(records map[string]domain.ShipmentRecord, query, filterType, sortKey string) []domain.ShipmentRecord {
	candidates := make([]domain.ShipmentRecord, 0, len(records))
	for _, r := range records {
		if filterType != "" && filterType != FilterAll && r.CurrentStatus != filterType {
			continue
		}
		candidates = append(candidates, r)
	}

	query = strings.ToLower(strings.TrimSpace(query))
	matched := candidates
	if query != "" {
		matched = matchDirect(candidates, query)
		if len(matched) == 0 && len(query) > fuzzyMinQueryLen {
			matched = matchFuzzy(candidates, query)
		}
	}

	sortRecords(matched, sortKey)
	return matched
}

func searchFields(r domain.ShipmentRecord) []string {
	return []string{r.TrackingNumber, r.CurrentStatus, r.Origin, r.Destination}
}

func matchDirect(records []domain.ShipmentRecord, query string) []domain.ShipmentRecord {
	var out []domain.ShipmentRecord
	for _, r := range records {
		for _, field := range searchFields(r) {
			lower := strings.ToLower(field)
			// Initials count as a direct hit, so "KL" finds "Kuala Lumpur".
			if strings.Contains(lower, query) || initials(lower) == query {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func initials(field string) string {
	words := strings.Fields(field)
	if len(words) < 2 {
		return ""
	}
	var b strings.Builder
	for _, w := range words {
		b.WriteByte(w[0])
	}
	return b.String()
}

func matchFuzzy(records []domain.ShipmentRecord, query string) []domain.ShipmentRecord {
	var out []domain.ShipmentRecord
	for _, r := range records {
		if fuzzyMatches(r, query) {
			out = append(out, r)
		}
	}
	return out
}

// fuzzyMatches checks the whole field and each whitespace-delimited word
// within it against the query.
func fuzzyMatches(r domain.ShipmentRecord, query string) bool {
	for _, field := range searchFields(r) {
		lower := strings.ToLower(field)
		if levenshtein.ComputeDistance(lower, query) <= fuzzyMaxDistance {
			return true
		}
		for _, word := range strings.Fields(lower) {
			if levenshtein.ComputeDistance(word, query) <= fuzzyMaxDistance {
				return true
			}
		}
	}
	return false
}

func sortRecords(records []domain.ShipmentRecord, sortKey string) {
	key := func(r domain.ShipmentRecord) string {
		switch sortKey {
		case SortByStatus:
			return r.CurrentStatus
		case SortByOrigin:
			return r.Origin
		case SortByDestination:
			return r.Destination
		default:
			return r.TrackingNumber
		}
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := key(records[i]), key(records[j])
		if a == b {
			// Stable tiebreaker so equal keys keep a deterministic order.
			return records[i].TrackingNumber < records[j].TrackingNumber
		}
		return a < b
	})
}
