package splitter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Strategy selects the boundary rule used to cut a document into chunks.
type Strategy string

const (
	// StrategyAuto inspects the document and picks one of the concrete
	// strategies below.
	StrategyAuto Strategy = "auto"
	// StrategySimple cuts at fixed word counts, carrying an overlap window
	// into the next chunk for context continuity.
	StrategySimple Strategy = "simple"
	// StrategyParagraph cuts only at paragraph boundaries, falling back to
	// sentence boundaries for oversized paragraphs.
	StrategyParagraph Strategy = "paragraph"
	// StrategyCitation delays cuts while a citation pattern sits in the
	// lookahead window so references are never severed.
	StrategyCitation Strategy = "citation"
)

// Options bound chunk sizes and pick the split strategy.
type Options struct {
	TargetWords  int
	MinWords     int
	MaxWords     int
	OverlapWords int
	Strategy     Strategy
}

// DefaultOptions returns the standard marketplace chunk sizing.
func DefaultOptions() Options {
	return Options{
		TargetWords:  350,
		MinWords:     300,
		MaxWords:     400,
		OverlapWords: 20,
		Strategy:     StrategyAuto,
	}
}

func (o Options) validate() error {
	if o.TargetWords <= 0 || o.MinWords <= 0 || o.MaxWords <= 0 {
		return errors.New("splitter: word bounds must be positive")
	}
	if o.MinWords > o.TargetWords || o.TargetWords > o.MaxWords {
		return fmt.Errorf("splitter: bounds must satisfy min <= target <= max, got %d/%d/%d",
			o.MinWords, o.TargetWords, o.MaxWords)
	}
	if o.OverlapWords < 0 || o.OverlapWords >= o.TargetWords {
		return fmt.Errorf("splitter: overlap %d must be in [0, target)", o.OverlapWords)
	}
	switch o.Strategy {
	case StrategyAuto, StrategySimple, StrategyParagraph, StrategyCitation:
		return nil
	default:
		return fmt.Errorf("splitter: unknown strategy %q", o.Strategy)
	}
}

// Draft is one produced chunk before persistence.
type Draft struct {
	Ordinal      int
	Content      string
	WordCount    int
	HasCitation  bool
	QualityScore float64
	Strategy     Strategy
}

var (
	// Bracketed references, author-year parentheticals, and the usual
	// scholarly shorthands.
	citationRE = regexp.MustCompile(`\[\d+(?:[,–-]\s*\d+)*\]|\([A-Z][A-Za-z'’-]+(?:\s+(?:&|and|et\s+al\.?)\s*[A-Za-z'’.-]*)?,?\s+\d{4}[a-z]?\)|\bet\s+al\.|\bibid\.`)

	sectionHeaderRE = regexp.MustCompile(`(?mi)^\s*(?:\d+(?:\.\d+)*\s+)?(abstract|introduction|background|related\s+work|methodology|methods|materials\s+and\s+methods|results|discussion|evaluation|conclusions?|references|bibliography|acknowledg(?:e)?ments)\b`)

	sentenceEndRE = regexp.MustCompile(`[.!?]["'”’)\]]*$`)
)

const citationDensityThreshold = 0.05

// Split cuts normalized document text into ordered chunk drafts. The function
// is pure; callers persist the drafts separately.
func Split(content string, opts Options) ([]Draft, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	content = norm.NFC.String(content)
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("splitter: empty document")
	}

	strategy := opts.Strategy
	if strategy == StrategyAuto {
		strategy = chooseStrategy(content)
	}

	var segments [][]string
	switch strategy {
	case StrategyCitation:
		segments = splitCitationAware(strings.Fields(content), opts)
	case StrategyParagraph:
		segments = splitParagraphs(content, opts)
	default:
		segments = splitSimple(strings.Fields(content), opts)
	}

	drafts := make([]Draft, 0, len(segments))
	for i, words := range segments {
		text := strings.Join(words, " ")
		drafts = append(drafts, Draft{
			Ordinal:      i,
			Content:      text,
			WordCount:    len(words),
			HasCitation:  citationRE.MatchString(text),
			QualityScore: qualityScore(words, opts),
			Strategy:     strategy,
		})
	}
	return drafts, nil
}

// chooseStrategy inspects the document: heavy citation use wins, then
// recognizable section structure, then plain word-count windows.
func chooseStrategy(content string) Strategy {
	words := strings.Fields(content)
	if len(words) == 0 {
		return StrategySimple
	}
	cited := 0
	for _, match := range citationRE.FindAllString(content, -1) {
		cited += len(strings.Fields(match))
	}
	if float64(cited)/float64(len(words)) > citationDensityThreshold {
		return StrategyCitation
	}
	if sectionHeaderRE.MatchString(content) {
		return StrategyParagraph
	}
	return StrategySimple
}

// splitSimple cuts fixed windows of TargetWords, carrying OverlapWords of the
// previous window into the next chunk. The tail shorter than a full window is
// emitted as-is; a tail already fully covered by the previous chunk's overlap
// is not emitted at all.
func splitSimple(words []string, opts Options) [][]string {
	step := opts.TargetWords - opts.OverlapWords
	var segments [][]string
	for start := 0; start < len(words); start += step {
		end := start + opts.TargetWords
		if end >= len(words) {
			segments = append(segments, words[start:])
			break
		}
		segments = append(segments, words[start:end])
	}
	return segments
}

// splitCitationAware accumulates words and cuts at or after TargetWords only
// once the lookahead window is citation-free, capped at MaxWords.
func splitCitationAware(words []string, opts Options) [][]string {
	lookahead := opts.OverlapWords
	if lookahead <= 0 {
		lookahead = 10
	}
	var segments [][]string
	start := 0
	for start < len(words) {
		end := start + opts.TargetWords
		if end >= len(words) {
			segments = append(segments, words[start:])
			break
		}
		limit := start + opts.MaxWords
		if limit > len(words) {
			limit = len(words)
		}
		for end < limit {
			windowEnd := end + lookahead
			if windowEnd > len(words) {
				windowEnd = len(words)
			}
			window := strings.Join(words[end:windowEnd], " ")
			if !citationRE.MatchString(window) {
				break
			}
			end++
		}
		segments = append(segments, words[start:end])
		start = end
	}
	return segments
}

// splitParagraphs packs whole paragraphs into chunks. Only a paragraph that
// itself exceeds MaxWords is split, at sentence boundaries; otherwise a
// paragraph that will not fit flushes the accumulating chunk, even an
// undersized one, and starts the next.
func splitParagraphs(content string, opts Options) [][]string {
	paragraphs := paragraphWords(content)
	var segments [][]string
	var current []string
	flush := func() {
		if len(current) > 0 {
			segments = append(segments, current)
			current = nil
		}
	}
	for _, para := range paragraphs {
		if len(para) > opts.MaxWords {
			flush()
			// Fill from sentence pieces until the chunk is at target,
			// then carry the rest forward.
			for _, sentence := range sentenceGroups(para) {
				if len(current)+len(sentence) > opts.MaxWords && len(current) > 0 {
					flush()
				}
				current = append(current, sentence...)
				if len(current) >= opts.TargetWords {
					flush()
				}
			}
			continue
		}
		if len(current)+len(para) > opts.MaxWords {
			flush()
		}
		current = append(current, para...)
		if len(current) >= opts.TargetWords {
			flush()
		}
	}
	flush()
	return segments
}

func paragraphWords(content string) [][]string {
	blocks := regexp.MustCompile(`\n\s*\n`).Split(content, -1)
	paragraphs := make([][]string, 0, len(blocks))
	for _, block := range blocks {
		words := strings.Fields(block)
		if len(words) > 0 {
			paragraphs = append(paragraphs, words)
		}
	}
	return paragraphs
}

// sentenceGroups partitions a paragraph's words at sentence-final punctuation.
func sentenceGroups(words []string) [][]string {
	var groups [][]string
	start := 0
	for i, word := range words {
		if sentenceEndRE.MatchString(word) {
			groups = append(groups, words[start:i+1])
			start = i + 1
		}
	}
	if start < len(words) {
		groups = append(groups, words[start:])
	}
	return groups
}

// qualityScore grades a chunk: clean sentence endings and in-range lengths
// score high, degenerate slivers score low.
func qualityScore(words []string, opts Options) float64 {
	if len(words) == 0 {
		return 0
	}
	score := 0.5
	if sentenceEndRE.MatchString(words[len(words)-1]) {
		score += 0.25
	}
	if len(words) >= opts.MinWords && len(words) <= opts.MaxWords {
		score += 0.25
	}
	if len(words) < opts.MinWords/2 {
		score -= 0.35
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
