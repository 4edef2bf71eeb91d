package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/felipepmaragno/llm-router/internal/cost"
	"github.com/felipepmaragno/llm-router/internal/domain"
)

// Complexity buckets a 0-1 complexity score.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

type TaskType string

const (
	TaskCoding   TaskType = "coding"
	TaskMath     TaskType = "math"
	TaskAnalysis TaskType = "analysis"
	TaskCreative TaskType = "creative"
	TaskGeneral  TaskType = "general"
)

// Policy thresholds. These are fixed design values.
const (
	neverRouteAbove  = 0.8
	simpleBelow      = 0.3
	mediumBelow      = 0.6
	confidenceNever  = 0.9
	confidenceSimple = 0.85
	confidenceMedium = 0.8
	confidenceHigh   = 0.7
)

var (
	complexKeywords = []string{
		"analyze", "architecture", "algorithm", "prove", "derive", "optimize",
		"comprehensive", "in detail", "step by step", "trade-off", "tradeoff",
		"design", "evaluate", "compare", "implement", "refactor", "debug",
	}

	codePattern     = regexp.MustCompile("```|\\bfunc \\w|\\bdef \\w|\\bclass \\w")
	criticalPattern = regexp.MustCompile(`\b(medical|medicine|diagnos\w*|patient|prescription|dosage|legal|lawsuit|attorney|financial|investment|tax|safety|production|compliance|hipaa|gdpr)\b`)

	taskPatterns = []struct {
		task    TaskType
		pattern *regexp.Regexp
	}{
		{TaskCoding, regexp.MustCompile(`\b(code|function|class|debug|bug|compile|program|script|sql|python|javascript|typescript|golang|rust|api|refactor)\b`)},
		{TaskMath, regexp.MustCompile(`\b(calculate|solve|equation|integral|derivative|probability|math|algebra|percent)\b|\d+\s*[-+*/^]\s*\d+`)},
		{TaskAnalysis, regexp.MustCompile(`\b(analy[sz]e|analysis|compare|evaluate|assess|review|pros and cons|trade-?offs?)\b`)},
		{TaskCreative, regexp.MustCompile(`\b(write|story|poem|essay|creative|blog|slogan|lyrics|fiction)\b`)},
	}
)

type modelFamily string

const (
	familyOpenAI    modelFamily = "openai"
	familyAnthropic modelFamily = "anthropic"
	familyGoogle    modelFamily = "google"
)

var cheapModels = map[modelFamily]map[TaskType]string{
	familyOpenAI: {
		TaskCoding:   "gpt-4o-mini",
		TaskMath:     "gpt-4o-mini",
		TaskAnalysis: "gpt-4o-mini",
		TaskCreative: "gpt-3.5-turbo",
		TaskGeneral:  "gpt-3.5-turbo",
	},
	familyAnthropic: {
		TaskCoding:   "claude-3-5-haiku-20241022",
		TaskMath:     "claude-3-5-haiku-20241022",
		TaskAnalysis: "claude-3-5-haiku-20241022",
		TaskCreative: "claude-3-haiku-20240307",
		TaskGeneral:  "claude-3-haiku-20240307",
	},
	familyGoogle: {
		TaskCoding:   "gemini-1.5-flash",
		TaskMath:     "gemini-1.5-flash",
		TaskAnalysis: "gemini-1.5-flash",
		TaskCreative: "gemini-1.5-flash",
		TaskGeneral:  "gemini-1.5-flash",
	},
}

var mediumModels = map[modelFamily]map[TaskType]string{
	familyOpenAI: {
		TaskCoding:   "gpt-4o",
		TaskMath:     "gpt-4o",
		TaskAnalysis: "gpt-4o",
		TaskCreative: "gpt-4o-mini",
		TaskGeneral:  "gpt-4o-mini",
	},
	familyAnthropic: {
		TaskCoding:   "claude-3-5-sonnet-20241022",
		TaskMath:     "claude-3-5-sonnet-20241022",
		TaskAnalysis: "claude-3-5-sonnet-20241022",
		TaskCreative: "claude-3-5-haiku-20241022",
		TaskGeneral:  "claude-3-5-haiku-20241022",
	},
	familyGoogle: {
		TaskCoding:   "gemini-1.5-pro",
		TaskMath:     "gemini-1.5-pro",
		TaskAnalysis: "gemini-1.5-pro",
		TaskCreative: "gemini-2.0-flash",
		TaskGeneral:  "gemini-2.0-flash",
	},
}

// capability ratings, matched by substring in declaration order like pricing.
var capabilities = []struct {
	key    string
	rating float64
}{
	{"gpt-4o-mini", 0.75},
	{"gpt-4o", 0.95},
	{"gpt-4-turbo", 0.93},
	{"gpt-4", 0.9},
	{"gpt-3.5-turbo", 0.65},
	{"o1-mini", 0.9},
	{"o1", 1.0},
	{"claude-3-5-sonnet", 0.95},
	{"claude-3-5-haiku", 0.8},
	{"claude-3-opus", 0.97},
	{"claude-3-sonnet", 0.85},
	{"claude-3-haiku", 0.7},
	{"claude-opus-4", 1.0},
	{"claude-sonnet-4", 0.97},
	{"gemini-1.5-pro", 0.9},
	{"gemini-1.5-flash", 0.72},
	{"gemini-2.0-flash", 0.8},
}

const defaultCapability = 0.8

func capability(model string) float64 {
	for _, c := range capabilities {
		if strings.Contains(model, c.key) {
			return c.rating
		}
	}
	return defaultCapability
}

func familyOf(model string) modelFamily {
	switch {
	case strings.Contains(model, "claude"):
		return familyAnthropic
	case strings.Contains(model, "gemini"):
		return familyGoogle
	default:
		return familyOpenAI
	}
}

func promptText(messages []domain.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.ToLower(strings.Join(parts, "\n"))
}

// ComplexityScore estimates how demanding a prompt is, in [0, 1].
func ComplexityScore(messages []domain.Message) float64 {
	text := promptText(messages)
	score := 0.0

	switch n := utf8.RuneCountInString(text); {
	case n > 2000:
		score += 0.4
	case n > 800:
		score += 0.3
	case n > 300:
		score += 0.2
	case n > 100:
		score += 0.1
	}

	hits := 0
	for _, kw := range complexKeywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	score += min(0.4, 0.1*float64(hits))

	if codePattern.MatchString(text) {
		score += 0.15
	}
	if len(messages) > 4 {
		score += 0.1
	}
	if strings.Count(text, "?") > 2 {
		score += 0.05
	}

	return clamp(score)
}

func ClassifyComplexity(score float64) Complexity {
	switch {
	case score < simpleBelow:
		return ComplexitySimple
	case score < mediumBelow:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}

// IsCritical reports whether the prompt touches a domain where a cheaper model
// is never acceptable (medical, legal, financial, safety, production).
func IsCritical(messages []domain.Message) bool {
	return criticalPattern.MatchString(promptText(messages))
}

// DetectTaskType returns the first matching task type, or TaskGeneral.
func DetectTaskType(messages []domain.Message) TaskType {
	text := promptText(messages)
	for _, tp := range taskPatterns {
		if tp.pattern.MatchString(text) {
			return tp.task
		}
	}
	return TaskGeneral
}

// ShouldRoute decides from the prompt alone whether requestedModel may be
// replaced. qualityThreshold bounds how much capability a medium-tier
// alternative may give up relative to the requested model.
func ShouldRoute(requestedModel string, messages []domain.Message, qualityThreshold float64) domain.RoutingDecision {
	score := ComplexityScore(messages)
	task := DetectTaskType(messages)
	family := familyOf(requestedModel)

	if score > neverRouteAbove || IsCritical(messages) {
		return domain.RoutingDecision{
			ShouldRoute: false,
			TargetModel: requestedModel,
			Confidence:  confidenceNever,
			Reasoning:   fmt.Sprintf("complexity %.2f or critical domain requires the requested model", score),
		}
	}

	if score < simpleBelow {
		return domain.RoutingDecision{
			ShouldRoute: true,
			TargetModel: cheapModels[family][task],
			Confidence:  confidenceSimple,
			Reasoning:   fmt.Sprintf("simple %s task (complexity %.2f)", task, score),
		}
	}

	if score < mediumBelow {
		candidate := mediumModels[family][task]
		if isStrictlyBetter(candidate, requestedModel, qualityThreshold) {
			return domain.RoutingDecision{
				ShouldRoute: true,
				TargetModel: candidate,
				Confidence:  confidenceMedium,
				Reasoning:   fmt.Sprintf("medium %s task, %s is cheaper at comparable quality", task, candidate),
			}
		}
		return domain.RoutingDecision{
			ShouldRoute: false,
			TargetModel: requestedModel,
			Confidence:  confidenceMedium,
			Reasoning:   fmt.Sprintf("medium %s task, no better alternative to %s", task, requestedModel),
		}
	}

	return domain.RoutingDecision{
		ShouldRoute: false,
		TargetModel: requestedModel,
		Confidence:  confidenceHigh,
		Reasoning:   fmt.Sprintf("complexity %.2f too high to route", score),
	}
}

// isStrictlyBetter: a different model, cheaper per token, that keeps at least
// threshold of the requested model's capability.
func isStrictlyBetter(candidate, requested string, threshold float64) bool {
	if candidate == "" || candidate == requested {
		return false
	}
	cp, rp := cost.PricingFor(candidate), cost.PricingFor(requested)
	if cp.InputPerMillion+cp.OutputPerMillion >= rp.InputPerMillion+rp.OutputPerMillion {
		return false
	}
	return capability(candidate) >= threshold*capability(requested)
}
