package retrieve

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ashita-ai/kensaku/internal/search"
)

// stopwords excluded from sparse probes; they carry no term weight worth a
// posting-list lookup.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"how": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "to": true, "was": true,
	"were": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "will": true, "with": true,
}

// EncodeSparse turns query text into a term-weighted sparse vector matching
// the ingestion pipeline's encoding: lowercase terms split on
// non-alphanumerics, stopwords dropped, FNV-1a 32-bit term hashing, and
// log-scaled term frequency weights.
func EncodeSparse(text string) search.SparseQuery {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tf := make(map[uint32]int)
	for _, term := range terms {
		if len(term) < 2 || stopwords[term] {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		tf[h.Sum32()]++
	}
	if len(tf) == 0 {
		return search.SparseQuery{}
	}

	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(1 + math.Log(float64(tf[idx])))
	}
	return search.SparseQuery{Indices: indices, Values: values}
}
