// Package history renders the difference between two revisions of a
// versioned document.
package history

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines kept around a change.
const contextLines = 3

// Result holds diff output.
type Result struct {
	Old  string
	New  string
	Diff string
}

// Changed reports whether the revisions differ.
func (r Result) Changed() bool {
	for _, line := range strings.Split(r.Diff, "\n") {
		if strings.HasPrefix(line, "+ ") || strings.HasPrefix(line, "- ") {
			return true
		}
	}
	return false
}

// Format returns the full diff with header.
func (r Result) Format(colour bool) string {
	header := fmt.Sprintf("--- %s\n+++ %s\n", r.Old, r.New)
	if colour {
		return header + Colourise(r.Diff)
	}
	return header + r.Diff
}

// Render prints the body of doc as indented JSON with sorted keys. System
// metadata is left out; it changes on every revision.
func Render(doc *service.Document) (string, error) {
	body := doc.Body
	if body == nil {
		body = map[string]interface{}{}
	}
	b, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render %s: %w", doc.UID, err)
	}
	return string(b) + "\n", nil
}

// Revisions diffs two revisions line by line.
func Revisions(a, b *service.Document) (Result, error) {
	oldText, err := Render(a)
	if err != nil {
		return Result{}, err
	}
	newText, err := Render(b)
	if err != nil {
		return Result{}, err
	}
	return Compute(oldText, newText, label(a), label(b)), nil
}

func label(d *service.Document) string {
	return fmt.Sprintf("%s@v%d", d.UID, d.Metadata.VersionNumber())
}

// Compute returns a line diff between old and new content.
func Compute(oldContent, newContent, oldLabel, newLabel string) Result {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	d := dmp.DiffMain(a, b, false)
	d = dmp.DiffCharsToLines(d, lines)
	return Result{Old: oldLabel, New: newLabel, Diff: format(d)}
}

func format(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" {
			continue
		}
		lines := strings.Split(text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for _, l := range lines {
				b.WriteString("- " + l + "\n")
			}
		case diffmatchpatch.DiffInsert:
			for _, l := range lines {
				b.WriteString("+ " + l + "\n")
			}
		case diffmatchpatch.DiffEqual:
			if len(lines) > 2*contextLines {
				for _, l := range lines[:contextLines] {
					b.WriteString("  " + l + "\n")
				}
				b.WriteString("  ...\n")
				for _, l := range lines[len(lines)-contextLines:] {
					b.WriteString("  " + l + "\n")
				}
			} else {
				for _, l := range lines {
					b.WriteString("  " + l + "\n")
				}
			}
		}
	}
	return b.String()
}

// Colourise adds ANSI colours to diff output.
func Colourise(d string) string {
	const (
		red   = "\033[31m"
		green = "\033[32m"
		reset = "\033[0m"
	)
	var b strings.Builder
	for _, line := range strings.Split(d, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "- "):
			b.WriteString(red + line + reset + "\n")
		case strings.HasPrefix(line, "+ "):
			b.WriteString(green + line + reset + "\n")
		default:
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// ParseRange parses "3:5" into two versions, each at least 1.
func ParseRange(s string) (v1, v2 int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid version range %q (expected v1:v2)", s)
	}
	if v1, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid start version: %w", err)
	}
	if v2, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid end version: %w", err)
	}
	if v1 < 1 || v2 < 1 {
		return 0, 0, service.ErrVersionNotPositive
	}
	return v1, v2, nil
}
