package changeset

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffStat counts changed lines between two versions of a file.
type DiffStat struct {
	Added   int
	Removed int
}

// LineDiff computes a line-level diff summary of oldContent → newContent.
func LineDiff(oldContent, newContent string) DiffStat {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var stat DiffStat
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stat.Added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			stat.Removed += countLines(d.Text)
		}
	}
	return stat
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
