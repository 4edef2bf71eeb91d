package router

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

type TaskType string

const (
	TaskCoding      TaskType = "coding"
	TaskWriting     TaskType = "writing"
	TaskAnalysis    TaskType = "analysis"
	TaskTranslation TaskType = "translation"
	TaskMath        TaskType = "math"
	TaskSimple      TaskType = "simple"
)

var taskPatterns = []struct {
	task    TaskType
	pattern *regexp.Regexp
}{
	{TaskCoding, regexp.MustCompile(`(?i)\b(code|function|class|debug|bug|compile|program|script|api|sql|python|javascript|typescript|golang|java|refactor|implement)\b`)},
	{TaskWriting, regexp.MustCompile(`(?i)\b(write|essay|story|poem|blog|article|draft|email|letter|rewrite)\b`)},
	{TaskAnalysis, regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|compare|evaluate|assess|review|pros and cons|trade-?offs?)\b`)},
	{TaskTranslation, regexp.MustCompile(`(?i)\b(translate|translation)\b|\bin (spanish|french|german|italian|portuguese|chinese|japanese|korean)\b`)},
	{TaskMath, regexp.MustCompile(`(?i)\b(calculate|solve|equation|integral|derivative|probability|math|percent)\b|\d+\s*[-+*/^]\s*\d+`)},
}

// AnalyzeComplexity buckets a conversation by total content length, presence of
// a system message and message count.
func AnalyzeComplexity(messages []domain.Message) Complexity {
	length := 0
	hasSystem := false
	for _, m := range messages {
		length += utf8.RuneCountInString(m.Content)
		if m.Role == domain.RoleSystem {
			hasSystem = true
		}
	}

	switch {
	case length < 100 && !hasSystem && len(messages) <= 2:
		return ComplexitySimple
	case length < 500 && len(messages) <= 5:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}

// DetectTaskTypes returns every task type whose keywords appear in the
// conversation. A prompt that matches none is TaskSimple.
func DetectTaskTypes(messages []domain.Message) []TaskType {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	text := strings.Join(parts, "\n")

	var tasks []TaskType
	for _, tp := range taskPatterns {
		if tp.pattern.MatchString(text) {
			tasks = append(tasks, tp.task)
		}
	}
	if len(tasks) == 0 {
		tasks = append(tasks, TaskSimple)
	}
	return tasks
}

func hasTask(tasks []TaskType, task TaskType) bool {
	return slices.Contains(tasks, task)
}
