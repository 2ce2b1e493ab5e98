// Package selector ranks the tool catalogue against a stated intent so
// clients with small tool budgets see the relevant slice first.
package selector

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/genomebridge/genome-bridge/internal/tool"
)

// Scoring weights. Category rules dominate keyword hits; priority is a weak
// tiebreaker signal; a context entity match sits in between.
const (
	keywordWeight  = 3
	categoryWeight = 5
	priorityWeight = 1
	contextWeight  = 4

	defaultLimit = 10
	cacheTTL     = 5 * time.Minute
)

// categoryHints maps intent trigger words to the category they suggest.
var categoryHints = map[string]tool.Category{
	"blast":     tool.CategoryExternal,
	"alignment": tool.CategoryExternal,
	"msa":       tool.CategoryExternal,
	"translate": tool.CategorySequence,
	"gc":        tool.CategorySequence,
	"orf":       tool.CategorySequence,
	"codon":     tool.CategorySequence,
	"motif":     tool.CategorySequence,
	"protein":   tool.CategoryProtein,
	"domain":    tool.CategoryProtein,
	"structure": tool.CategoryProtein,
	"uniprot":   tool.CategoryProtein,
	"pathway":   tool.CategoryPathway,
	"kegg":      tool.CategoryPathway,
	"navigate":  tool.CategoryNavigation,
	"zoom":      tool.CategoryNavigation,
	"track":     tool.CategoryData,
	"variant":   tool.CategoryDatabase,
	"clinvar":   tool.CategoryDatabase,
	"snp":       tool.CategoryDatabase,
	"generate":  tool.CategoryAIGen,
	"evo2":      tool.CategoryAIGen,
	"copy":      tool.CategoryAction,
	"paste":     tool.CategoryAction,
	"edit":      tool.CategoryAction,
	"plugin":    tool.CategoryPluginMgmt,
	"task":      tool.CategoryCoordination,
}

// contextRoles maps keys a client state snapshot may carry to schema property
// names that consume the same entity.
var contextRoles = map[string][]string{
	"gene":       {"gene", "symbol", "gene_id"},
	"chromosome": {"chromosome"},
	"region":     {"chromosome", "start", "end"},
	"sequence":   {"sequence", "dna", "query"},
	"selection":  {"sequence", "start", "end"},
	"accession":  {"accession", "pdb_id"},
}

type cacheEntry struct {
	result []*tool.Descriptor
	at     time.Time
}

// Selector scores descriptors against intents. Implements handler.Suggester.
// Stateless apart from a small TTL cache of recent rankings.
type Selector struct {
	reg *tool.Registry

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(reg *tool.Registry) *Selector {
	return &Selector{reg: reg, cache: make(map[string]cacheEntry)}
}

// Select returns at most limit descriptors ranked by relevance. When nothing
// matches the intent, the globally highest-priority descriptors come back
// instead, so the caller never sees an empty catalogue.
func (s *Selector) Select(intent string, state map[string]any, limit int) []*tool.Descriptor {
	if limit <= 0 {
		limit = defaultLimit
	}
	key := cacheKey(intent, state, limit)
	s.mu.Lock()
	if e, ok := s.cache[key]; ok && time.Since(e.at) < cacheTTL {
		s.mu.Unlock()
		return e.result
	}
	s.mu.Unlock()

	tokens := tokenize(intent)
	hinted := map[tool.Category]bool{}
	for tok := range tokens {
		if cat, ok := categoryHints[tok]; ok {
			hinted[cat] = true
		}
	}

	type scored struct {
		d     *tool.Descriptor
		score int
	}
	all := s.reg.List(tool.Filter{})
	ranked := make([]scored, 0, len(all))
	anySignal := len(hinted) > 0
	for _, d := range all {
		sc := 0
		for _, kw := range d.Keywords {
			if tokens[lemma(strings.ToLower(kw))] != 0 {
				sc += keywordWeight
			}
		}
		if sc > 0 {
			anySignal = true
		}
		if hinted[d.Category] {
			sc += categoryWeight
		}
		if cm := contextMatches(state, d); cm > 0 {
			sc += contextWeight * cm
			anySignal = true
		}
		sc += priorityWeight * d.Priority
		ranked = append(ranked, scored{d, sc})
	}

	if !anySignal {
		// No signal in the intent at all: rank purely by priority.
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].d.Priority != ranked[j].d.Priority {
				return ranked[i].d.Priority > ranked[j].d.Priority
			}
			return ranked[i].d.Name < ranked[j].d.Name
		})
	} else {
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			if ranked[i].d.Priority != ranked[j].d.Priority {
				return ranked[i].d.Priority > ranked[j].d.Priority
			}
			return ranked[i].d.Name < ranked[j].d.Name
		})
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	result := make([]*tool.Descriptor, len(ranked))
	for i, r := range ranked {
		result[i] = r.d
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{result: result, at: time.Now()}
	// Keep the cache from growing without bound under adversarial intents.
	if len(s.cache) > 512 {
		for k := range s.cache {
			if time.Since(s.cache[k].at) >= cacheTTL {
				delete(s.cache, k)
			}
		}
	}
	s.mu.Unlock()
	return result
}

// tokenize lowercases, splits on non-alphanumerics, and lemmatizes each token
// by stripping a trailing 's'. The value is a hit marker, not a count.
func tokenize(intent string) map[string]int {
	tokens := map[string]int{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens[lemma(cur.String())] = 1
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(intent) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func lemma(word string) string {
	if len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") {
		return word[:len(word)-1]
	}
	return word
}

// contextMatches counts state entities the descriptor's schema can consume.
func contextMatches(state map[string]any, d *tool.Descriptor) int {
	if state == nil || len(d.Schema.Properties) == 0 {
		return 0
	}
	n := 0
	for role, props := range contextRoles {
		if _, ok := state[role]; !ok {
			continue
		}
		for _, p := range props {
			if _, ok := d.Schema.Properties[p]; ok {
				n++
				break
			}
		}
	}
	return n
}

func cacheKey(intent string, state map[string]any, limit int) string {
	h := fnv.New64a()
	if data, err := sonic.ConfigStd.Marshal(state); err == nil {
		h.Write(data)
	}
	return strings.ToLower(strings.TrimSpace(intent)) + "|" +
		strconv.FormatUint(h.Sum64(), 16) + "|" + strconv.Itoa(limit)
}
