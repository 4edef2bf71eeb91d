// Package quality grades LLM responses with lexical heuristics and decides,
// from the prompt alone, whether a request is safe to send to a cheaper model.
package quality

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Metrics holds the four independently computed dimensions, each in [0, 1].
type Metrics struct {
	Completeness float64 `json:"completeness"`
	Coherence    float64 `json:"coherence"`
	Relevance    float64 `json:"relevance"`
	Accuracy     float64 `json:"accuracy"`
}

type Analysis struct {
	QualityScore float64 `json:"quality_score"`
	Metrics      Metrics `json:"metrics"`
}

var (
	hedgePhrases = []string{
		"i think", "maybe", "perhaps", "probably", "might be",
		"possibly", "not sure", "i believe", "it seems",
	}
	uncertaintyPhrases = []string{
		"i don't know", "i do not know", "i'm not certain", "i am not certain",
		"cannot answer", "can't answer", "unable to", "no information",
	}
	confidencePhrases = []string{
		"definitely", "certainly", "clearly", "in fact", "specifically", "precisely",
	}

	citationPattern = regexp.MustCompile(`\[\d+\]|according to|source:|https?://|\(\d{4}\)`)
	numericPattern  = regexp.MustCompile(`\d`)
)

var stopwords = map[string]bool{
	"what": true, "which": true, "when": true, "where": true, "who": true, "whom": true,
	"this": true, "that": true, "these": true, "those": true, "with": true, "from": true,
	"into": true, "about": true, "have": true, "does": true, "your": true, "please": true,
	"would": true, "could": true, "should": true, "there": true, "their": true, "them": true,
	"then": true, "than": true, "some": true, "will": true, "tell": true, "give": true,
	"make": true, "like": true, "just": true, "also": true, "very": true, "been": true,
}

// AnalyzeResponse scores response against prompt. The overall score is the
// unweighted mean of the four metrics.
func AnalyzeResponse(response, prompt string) Analysis {
	m := Metrics{
		Completeness: completeness(response, prompt),
		Coherence:    coherence(response),
		Relevance:    relevance(response, prompt),
		Accuracy:     accuracy(response),
	}

	return Analysis{
		QualityScore: (m.Completeness + m.Coherence + m.Relevance + m.Accuracy) / 4,
		Metrics:      m,
	}
}

func completeness(response, prompt string) float64 {
	r := strings.TrimSpace(response)
	if r == "" {
		return 0
	}

	rl := utf8.RuneCountInString(r)
	pl := utf8.RuneCountInString(strings.TrimSpace(prompt))
	if pl == 0 {
		pl = 1
	}
	ratio := float64(rl) / float64(pl)

	var score float64
	switch {
	case rl < 20:
		score = 0.4
	case ratio < 0.3:
		score = 0.6
	case ratio < 1:
		score = 0.8
	default:
		score = 0.9
	}

	if strings.HasSuffix(r, "...") || strings.HasSuffix(r, "…") {
		score -= 0.2
	} else if endsWithTerminal(r) {
		score += 0.1
	} else {
		score -= 0.1
	}

	return clamp(score)
}

func endsWithTerminal(s string) bool {
	if strings.HasSuffix(s, "```") {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(".!?\"')", last)
}

func coherence(response string) float64 {
	words := tokenize(response)
	if len(words) == 0 {
		return 0
	}
	if len(words) < 5 {
		return 0.7
	}

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	uniqueRatio := float64(len(unique)) / float64(len(words))

	score := 0.4 + 0.6*min(1, uniqueRatio/0.6)

	seen := make(map[string]bool)
	repeats := 0
	for _, sentence := range strings.FieldsFunc(strings.ToLower(response), isSentenceEnd) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if seen[sentence] {
			repeats++
		}
		seen[sentence] = true
	}
	score -= min(0.45, 0.15*float64(repeats))

	return clamp(score)
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

func relevance(response, prompt string) float64 {
	keywords := keywordSet(prompt)
	if len(keywords) == 0 {
		return 0.8
	}

	present := make(map[string]bool)
	for _, w := range tokenize(response) {
		present[w] = true
	}

	hits := 0
	for k := range keywords {
		if present[k] {
			hits++
		}
	}
	overlap := float64(hits) / float64(len(keywords))

	return clamp(0.3 + 0.7*overlap)
}

func keywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range tokenize(text) {
		if utf8.RuneCountInString(w) > 3 && !stopwords[w] {
			set[w] = struct{}{}
		}
	}
	return set
}

func accuracy(response string) float64 {
	lower := strings.ToLower(response)
	score := 0.7

	score -= min(0.3, 0.05*float64(countPhrases(lower, hedgePhrases)))
	score -= min(0.4, 0.2*float64(countPhrases(lower, uncertaintyPhrases)))
	score += min(0.1, 0.05*float64(countPhrases(lower, confidencePhrases)))

	if citationPattern.MatchString(lower) {
		score += 0.1
	}
	if numericPattern.MatchString(lower) {
		score += 0.05
	}

	return clamp(score)
}

func countPhrases(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(text, p) {
			n++
		}
	}
	return n
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
