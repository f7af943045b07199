package plugin

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// CodeMetricsName is the registry name of the built-in code metrics plugin.
const CodeMetricsName = "code_metrics"

// branchKeywords each add one decision point to the complexity estimate.
var branchKeywords = map[string]bool{
	"if": true, "elif": true, "for": true, "while": true,
	"except": true, "case": true, "and": true, "or": true,
	"catch": true,
}

// FileMetrics are the per-file numbers reported by code_metrics.
type FileMetrics struct {
	Lines                int     `json:"lines"`
	BlankLines           int     `json:"blank_lines"`
	CommentLines         int     `json:"comment_lines"`
	CyclomaticComplexity int     `json:"cyclomatic_complexity"`
	MaintainabilityIndex float64 `json:"maintainability_index"`
	Rank                 string  `json:"rank"`
}

type codeMetrics struct {
	extensions []string
}

// NewCodeMetrics builds the code_metrics plugin. The optional "extensions"
// config entry selects the files to measure; the default is [".py"].
func NewCodeMetrics(cfg map[string]any) (Plugin, error) {
	p := &codeMetrics{extensions: []string{".py"}}

	raw, ok := cfg["extensions"]
	if !ok {
		return p, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("extensions must be a list, got %T", raw)
	}
	p.extensions = p.extensions[:0]
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("extensions must contain strings, got %T", v)
		}
		p.extensions = append(p.extensions, s)
	}
	return p, nil
}

func (p *codeMetrics) Run(ctx context.Context, snap *snapshot.Snapshot, _ string) (Result, error) {
	out := make(map[string]FileMetrics)
	for _, f := range snap.Filter(p.extensions, 0) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		out[f.Path] = Measure(string(f.Content))
	}
	return Result{Name: "Code Metrics", Result: out}, nil
}

// Measure computes line counts, a keyword based cyclomatic complexity
// estimate and a 0-100 maintainability index for source.
func Measure(source string) FileMetrics {
	var m FileMetrics
	m.CyclomaticComplexity = 1

	for _, line := range strings.Split(strings.TrimRight(source, "\n"), "\n") {
		if source == "" {
			break
		}
		m.Lines++

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			m.BlankLines++
			continue
		case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, "//"):
			m.CommentLines++
			continue
		}

		words := strings.FieldsFunc(trimmed, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		for _, w := range words {
			if branchKeywords[w] {
				m.CyclomaticComplexity++
			}
		}
		m.CyclomaticComplexity += strings.Count(trimmed, "&&") + strings.Count(trimmed, "||")
	}

	m.MaintainabilityIndex = maintainability(m.Lines-m.BlankLines, m.CyclomaticComplexity)
	m.Rank = rank(m.MaintainabilityIndex)
	return m
}

func maintainability(loc, complexity int) float64 {
	if loc <= 0 {
		return 100
	}
	mi := (171 - 0.23*float64(complexity) - 16.2*math.Log(float64(loc))) * 100 / 171
	mi = math.Max(0, math.Min(100, mi))
	return math.Round(mi*100) / 100
}

// rank maps a maintainability index to A (>= 20), B (>= 10) or C.
func rank(mi float64) string {
	switch {
	case mi >= 20:
		return "A"
	case mi >= 10:
		return "B"
	default:
		return "C"
	}
}
