// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rank scores and groups feed items against clinical priorities.
package rank

import (
	"sort"

	"github.com/jeranaias/genolens/internal/clinical"
)

// =============================================================================
// WEIGHTS
// =============================================================================

// Blend weights for the combined score. Tunable constants, applied only when
// a clinical priority exists for the group; otherwise the literature score
// stands alone.
const (
	LiteratureWeight = 0.4
	ClinicalWeight   = 0.6
)

// =============================================================================
// TYPES
// =============================================================================

// Entry is one rankable feed item. An item may carry several group keys
// (e.g. every gene symbol a publication mentions) and appears under each.
type Entry interface {
	GroupKeys() []string
	Relevance() float64 // 0..1
}

// Group is one ranked group of items sharing a key.
type Group[T Entry] struct {
	Key   string
	Items []T // sorted by item relevance, descending

	LiteratureScore float64 // best item relevance in the group, 0..1
	ClinicalScore   float64 // normalized engine score, 0..1; valid if HasClinical
	HasClinical     bool
	CombinedScore   float64 // 0..1
	Tier            string
}

// =============================================================================
// COMBINED RANKING
// =============================================================================

// Combine groups items by key, blends each group's best literature relevance
// with its clinical priority and returns groups sorted by combined score
// descending. Ties break on the group key string so identical input always
// produces identical output order.
//
// Recompute whenever the items or the clinical map change; the output is
// derived state and never persisted.
func Combine[T Entry](items []T, priorities map[string]clinical.Priority) []Group[T] {
	byKey := make(map[string][]T)
	for _, item := range items {
		for _, key := range item.GroupKeys() {
			if key == "" {
				continue
			}
			byKey[key] = append(byKey[key], item)
		}
	}

	groups := make([]Group[T], 0, len(byKey))
	for key, members := range byKey {
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Relevance() > members[j].Relevance()
		})

		g := Group[T]{Key: key, Items: members}
		for _, m := range members {
			if r := m.Relevance(); r > g.LiteratureScore {
				g.LiteratureScore = r
			}
		}

		if p, ok := priorities[key]; ok {
			g.HasClinical = true
			g.ClinicalScore = p.Score / 100
			g.Tier = p.Tier
			g.CombinedScore = g.LiteratureScore*LiteratureWeight + g.ClinicalScore*ClinicalWeight
		} else {
			g.CombinedScore = g.LiteratureScore
		}

		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].CombinedScore != groups[j].CombinedScore {
			return groups[i].CombinedScore > groups[j].CombinedScore
		}
		return groups[i].Key < groups[j].Key
	})

	return groups
}
