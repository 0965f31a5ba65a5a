package feed

import "sort"

// Merge reconciles two copies of the feed: the set union deduplicated by id,
// re-sorted by creation instant. Envelopes are immutable apart from the Read
// flag, which merges as a logical OR so a copy that has seen an update keeps
// it seen. Merge is commutative and idempotent, which is what lets three
// independent wake-up triggers share one reconciliation path.
func Merge(a, b []Envelope) []Envelope {
	byID := make(map[string]Envelope, len(a)+len(b))
	for _, env := range a {
		absorb(byID, env)
	}
	for _, env := range b {
		absorb(byID, env)
	}

	merged := make([]Envelope, 0, len(byID))
	for _, env := range byID {
		merged = append(merged, env)
	}
	sortEnvelopes(merged)
	return merged
}

func absorb(byID map[string]Envelope, env Envelope) {
	existing, ok := byID[env.ID]
	if !ok {
		byID[env.ID] = env
		return
	}
	if env.Read && !existing.Read {
		existing.Read = true
		byID[env.ID] = existing
	}
}

// Creation-time order with id as the tiebreak keeps the result stable when
// two parties stamp the same instant.
func sortEnvelopes(envelopes []Envelope) {
	sort.SliceStable(envelopes, func(i, j int) bool {
		if envelopes[i].CreatedAt.Equal(envelopes[j].CreatedAt) {
			return envelopes[i].ID < envelopes[j].ID
		}
		return envelopes[i].CreatedAt.Before(envelopes[j].CreatedAt)
	})
}

func equalFeeds(a, b []Envelope) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Read != b[i].Read {
			return false
		}
	}
	return true
}
