// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package feed

import "encoding/json"

// =============================================================================
// DOMAINS
// =============================================================================

// Domain identifies one bulk feed family. Each domain has its own endpoint,
// entity type and live state; streams from different domains never share
// mutable state.
type Domain string

const (
	// DomainGenes is the phenotype-matched gene feed.
	DomainGenes Domain = "genes"

	// DomainLiterature is the publication feed.
	DomainLiterature Domain = "literature"
)

// String returns the string representation of the domain.
func (d Domain) String() string {
	return string(d)
}

// =============================================================================
// RECORD TYPES
// =============================================================================

// Record type discriminators carried in the "type" field of each NDJSON line.
const (
	RecordMetadata = "metadata"
	RecordComplete = "complete"
	RecordError    = "error"

	RecordGene        = "gene"
	RecordPublication = "publication"
)

// Batch sizes for intermediate progress publication: a snapshot is published
// every Nth entity append. Gene aggregates are heavier than publication rows,
// so the gene feed batches more records per publish.
const (
	GeneBatchSize        = 50
	PublicationBatchSize = 10
)

// envelope is the minimal shape decoded from every line before dispatch.
type envelope struct {
	Type string `json:"type"`
}

// Metadata is the feed preamble. It must precede the first entity record for
// progress to be tracked; without it progress stays at zero until completion.
type Metadata struct {
	Type            string         `json:"type"`
	TotalExpected   int            `json:"total_expected"`
	SummaryCounters map[string]int `json:"summary_counters,omitempty"`
}

// Completion is the feed trailer. The streamed count is recorded for
// diagnostics only; it does not itself terminate the load.
type Completion struct {
	Type          string `json:"type"`
	TotalStreamed int    `json:"total_streamed"`
}

// errorRecord is an explicit server-side failure, fatal to this stream only.
type errorRecord struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// ENTITIES
// =============================================================================

// GeneAggregate is one phenotype-matched gene with its clinical triage data.
type GeneAggregate struct {
	Symbol       string   `json:"symbol"`
	MatchScore   float64  `json:"match_score"` // phenotype match, 0..1
	Tier         string   `json:"tier,omitempty"`
	Rank         int      `json:"rank,omitempty"`
	VariantCount int      `json:"variant_count,omitempty"`
	Phenotypes   []string `json:"phenotypes,omitempty"`
}

// Publication is one literature search hit. Genes lists every gene symbol the
// publication was matched against; a publication can appear under several
// ranking groups.
type Publication struct {
	PMID           string   `json:"pmid"`
	Title          string   `json:"title"`
	Journal        string   `json:"journal,omitempty"`
	Year           int      `json:"year,omitempty"`
	RelevanceScore float64  `json:"relevance_score"` // 0..1
	Genes          []string `json:"genes,omitempty"`
}

// GroupKeys returns the gene symbols this publication is grouped under.
func (p Publication) GroupKeys() []string {
	return p.Genes
}

// Relevance returns the publication-level relevance score.
func (p Publication) Relevance() float64 {
	return p.RelevanceScore
}

// UnknownRecord preserves a line whose "type" the client does not recognize.
// Unknown records are counted and skipped so newer servers can add record
// types without breaking older clients; the loader keeps the first few
// verbatim for diagnostics.
type UnknownRecord struct {
	Type string
	Raw  json.RawMessage
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the observable state of one result collection. Intermediate
// snapshots published during a load are copies of the in-flight accumulator;
// only the terminal snapshot (Progress == 100 on success) is authoritative.
type Snapshot[T any] struct {
	Items           []T
	SummaryCounters map[string]int
	Progress        int // 0..100, monotonically non-decreasing within a load
}

// IsEmpty reports whether the snapshot holds no items.
func (s Snapshot[T]) IsEmpty() bool {
	return len(s.Items) == 0
}

// Clone returns a deep-enough copy: item slice and counter map are copied so
// observers never see a collection mutate underneath them. Item values are
// copied by assignment.
func (s Snapshot[T]) Clone() Snapshot[T] {
	out := Snapshot[T]{Progress: s.Progress}
	if s.Items != nil {
		out.Items = make([]T, len(s.Items))
		copy(out.Items, s.Items)
	}
	if s.SummaryCounters != nil {
		out.SummaryCounters = make(map[string]int, len(s.SummaryCounters))
		for k, v := range s.SummaryCounters {
			out.SummaryCounters[k] = v
		}
	}
	return out
}
