package answer

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/danutirta/tanyadata-backend/internal/config"
)

// domainSignal is one boolean intent test over the raw query. Signals are
// independent, not mutually exclusive; a chunk earns the bonus only when it
// also matches on its side.
type domainSignal struct {
	name    string
	queryRe *regexp.Regexp
	chunkRe *regexp.Regexp
	bonus   float64
}

var domainSignals = []domainSignal{
	{
		name:    "tickets_table",
		queryRe: regexp.MustCompile(`(?i)\btikets?\b|\btickets?\b|\bkomplain\b|\bkeluhan\b|\bgangguan\b`),
		chunkRe: regexp.MustCompile(`(?i)\btickets?\b|\btikets?\b`),
		bonus:   0.20,
	},
	{
		name:    "agents_table",
		queryRe: regexp.MustCompile(`(?i)\bagents?\b|\bagen\b|\bteknisi\b|\bpetugas\b`),
		chunkRe: regexp.MustCompile(`(?i)\bagents?\b|\bteknisi\b`),
		bonus:   0.20,
	},
	{
		name:    "customers_table",
		queryRe: regexp.MustCompile(`(?i)\bcustomers?\b|\bpelanggan\b`),
		chunkRe: regexp.MustCompile(`(?i)\bcustomers?\b|\bpelanggan\b`),
		bonus:   0.20,
	},
	{
		name:    "status_signal",
		queryRe: regexp.MustCompile(`(?i)\b(open|closed|pending|resolved|selesai|proses|eskalasi)\b`),
		chunkRe: regexp.MustCompile(`(?i)\bstatus\b|\b(open|closed|pending|resolved|selesai)\b`),
		bonus:   0.05,
	},
	{
		name:    "time_signal",
		queryRe: regexp.MustCompile(`(?i)\b(hari ini|kemarin|minggu|bulan|tahun|today|yesterday|week|month|year)\b`),
		chunkRe: regexp.MustCompile(`(?i)\b(tanggal|created_at|closed_at|date|waktu)\b`),
		bonus:   0.05,
	},
	{
		name:    "aggregate_signal",
		queryRe: regexp.MustCompile(`(?i)\b(total|jumlah|rata-rata|average|count|sum|maksimal|minimal|terbanyak)\b`),
		chunkRe: regexp.MustCompile(`(?i)\b(count|sum|avg|total|jumlah|agregasi)\b`),
		bonus:   0.05,
	},
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_-]+`)
var numberRe = regexp.MustCompile(`^\d+([.,]\d+)?$`)

// ExtractKeywords pulls ranked keywords from the query: stopwords and pure
// numbers removed, deduplicated, original order preserved so position can act
// as a recency/importance weight.
func ExtractKeywords(queryText string, cfg config.Rerank) []string {
	stop := make(map[string]bool, len(cfg.Stopwords))
	for _, s := range cfg.Stopwords {
		stop[s] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(queryText), -1) {
		if len(w) < 2 || stop[w] || numberRe.MatchString(w) || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= cfg.MaxKeywords {
			break
		}
	}
	return out
}

// keywordMatchScore scores text against positional keyword weights. Coverage
// dominates; repeated occurrences add a small bonus. Result is in [0,1].
func keywordMatchScore(text string, keywords []string, decay float64) float64 {
	if len(keywords) == 0 || strings.TrimSpace(text) == "" {
		return 0
	}
	lower := strings.ToLower(text)

	var weightSum, matchedWeight float64
	var extraHits int
	for i, kw := range keywords {
		w := math.Pow(1-decay, float64(i))
		weightSum += w
		n := strings.Count(lower, kw)
		if n > 0 {
			matchedWeight += w
			if n > 1 {
				extraHits += n - 1
			}
		}
	}
	coverage := matchedWeight / weightSum
	repetition := math.Min(float64(extraHits), 5) / 5

	score := 0.8*coverage + 0.2*repetition
	if score > 1 {
		return 1
	}
	return score
}

// intentBoost sums bonuses for every domain signal present in both the query
// and the chunk, capped by cfg.BoostCap.
func intentBoost(queryText string, chunk RetrievedChunk, boostCap float64) float64 {
	chunkText := chunk.Title + " " + chunk.Content
	var boost float64
	for _, sig := range domainSignals {
		if sig.queryRe.MatchString(queryText) && sig.chunkRe.MatchString(chunkText) {
			boost += sig.bonus
		}
	}
	if boost > boostCap {
		return boostCap
	}
	return boost
}

// Rerank scores retrieved chunks deterministically against the query and
// returns the top selection plus a concatenated context block. No network
// call is made; the optional model pass in Pipeline.rerankWithModel only
// reorders this function's survivors.
func Rerank(queryText string, chunks []RetrievedChunk, cfg config.Rerank) RerankResult {
	if len(chunks) == 0 {
		return RerankResult{NoContext: true, Context: NoContextSentinel}
	}

	keywords := ExtractKeywords(queryText, cfg)

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, ch := range chunks {
		sc := ScoredChunk{
			RetrievedChunk:      ch,
			BaseScore:           ch.Similarity,
			TitleKeywordScore:   keywordMatchScore(ch.Title, keywords, cfg.PositionDecay),
			ContentKeywordScore: keywordMatchScore(ch.Content, keywords, cfg.PositionDecay),
			IntentBoost:         intentBoost(queryText, ch, cfg.BoostCap),
		}
		sc.FinalScore = cfg.BaseWeight*sc.BaseScore +
			cfg.TitleWeight*sc.TitleKeywordScore +
			cfg.ContentWeight*sc.ContentKeywordScore +
			cfg.IntentWeight*sc.IntentBoost
		scored = append(scored, sc)
	}

	// Stable: ties keep the retriever's collection order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})

	var selected []ScoredChunk
	for _, sc := range scored {
		if sc.FinalScore < cfg.MinScore {
			continue
		}
		selected = append(selected, sc)
		if len(selected) >= cfg.TopK {
			break
		}
	}

	if len(selected) == 0 {
		return RerankResult{NoContext: true, Context: NoContextSentinel}
	}

	var b strings.Builder
	for i, sc := range selected {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if sc.Title != "" {
			fmt.Fprintf(&b, "[%s] %s\n", sc.Collection, sc.Title)
		}
		b.WriteString(sc.Content)
	}
	return RerankResult{Selected: selected, Context: b.String()}
}

// NoContextSentinel is what the planner prompt receives when nothing passed
// the score threshold. Distinct from an empty string so downstream stages can
// tell "no relevant context" from "context omitted".
const NoContextSentinel = "TIDAK ADA KONTEKS RELEVAN"
