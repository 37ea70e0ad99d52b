package grading

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

// Flag is one well-formed line of a "## Flags" section.
type Flag struct {
	Severity string
	Category string
	Detail   string
}

// Result is the parsed evaluator output. Feedback never contains the flags
// section. Dropped holds flag lines that could not be understood.
type Result struct {
	Score    *float64
	Feedback string
	Flags    []Flag
	Dropped  []string
}

var (
	md = goldmark.New()

	scoreRe = regexp.MustCompile(`(?im)^[\s>*_#-]*(?:overall\s+)?score[*_]*\s*[:=-]\s*[*_]*\s*(\d+(?:\.\d+)?)\s*(?:(?:/|out of)\s*(\d+(?:\.\d+)?))?`)
	flagRe  = regexp.MustCompile(`^\[\s*([A-Za-z]+)\s*\]\s*([A-Za-z_ -]+?)\s*:\s*(.+)$`)
)

// Parse splits evaluator output into score, counselor-visible feedback and
// flags. Missing pieces are tolerated: no score yields a nil Score and no
// flags section yields no flags.
func Parse(raw string) Result {
	source := []byte(raw)
	start, end, items := findFlagsSection(source)

	res := Result{Score: parseScore(raw)}
	if start < 0 {
		res.Feedback = strings.TrimSpace(raw)
		return res
	}

	res.Feedback = strings.TrimSpace(strings.TrimSpace(raw[:start]) + "\n\n" + strings.TrimSpace(raw[end:]))
	res.Flags, res.Dropped = parseFlagLines(items)
	return res
}

// ParseFlags reads only the flags of an output that is expected to be
// nothing but a flags section.
func ParseFlags(raw string) ([]Flag, []string) {
	_, _, items := findFlagsSection([]byte(raw))
	if items == nil {
		items = bulletLines(raw)
	}
	return parseFlagLines(items)
}

// findFlagsSection returns the byte range of the first heading named Flags up
// to the next heading of the same or higher rank, and the text of its list
// items. start is -1 when there is no such heading.
func findFlagsSection(source []byte) (start, end int, items []string) {
	doc := md.Parser().Parse(text.NewReader(source))

	start, end = -1, len(source)
	level := 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			if start >= 0 && h.Level <= level {
				end = lineStart(source, blockStart(h))
				break
			}
			if start < 0 && isFlagsHeading(h, source) {
				start = lineStart(source, blockStart(h))
				level = h.Level
				items = []string{}
			}
			continue
		}
		if start < 0 {
			continue
		}
		if list, ok := n.(*ast.List); ok {
			for li := list.FirstChild(); li != nil; li = li.NextSibling() {
				items = append(items, rawText(li, source))
			}
		}
	}
	return start, end, items
}

func isFlagsHeading(h *ast.Heading, source []byte) bool {
	title := strings.ToLower(strings.TrimSpace(rawText(h, source)))
	return strings.HasPrefix(title, "flag")
}

// rawText joins the source lines of n's block descendants, which keeps text
// like "[high]" exactly as written.
func rawText(n ast.Node, source []byte) string {
	var parts []string
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || node.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			parts = append(parts, strings.TrimSpace(string(seg.Value(source))))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(strings.Join(parts, " "))
}

func blockStart(n ast.Node) int {
	if lines := n.Lines(); lines.Len() > 0 {
		return lines.At(0).Start
	}
	return 0
}

func lineStart(source []byte, pos int) int {
	for pos > 0 && source[pos-1] != '\n' {
		pos--
	}
	return pos
}

func bulletLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			out = append(out, strings.TrimSpace(line[2:]))
		}
	}
	return out
}

func parseFlagLines(items []string) (flags []Flag, dropped []string) {
	for _, item := range items {
		lower := strings.ToLower(strings.Trim(item, " ."))
		if lower == "" || lower == "none" || lower == "no flags" || lower == "n/a" {
			continue
		}
		m := flagRe.FindStringSubmatch(item)
		if m == nil {
			dropped = append(dropped, item)
			continue
		}
		severity := strings.ToLower(m[1])
		category := normalizeCategory(m[2])
		if !models.ValidSeverity(severity) || !models.ValidFlagCategory(category) {
			dropped = append(dropped, item)
			continue
		}
		flags = append(flags, Flag{Severity: severity, Category: category, Detail: strings.TrimSpace(m[3])})
	}
	return flags, dropped
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// parseScore reads the first "Score: N" or "Score: N/M" line and scales it to
// 0..100. Out of range values are ignored.
func parseScore(raw string) *float64 {
	m := scoreRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	if m[2] != "" {
		den, err := strconv.ParseFloat(m[2], 64)
		if err != nil || den <= 0 {
			return nil
		}
		v = v / den * 100
	}
	if v < 0 || v > 100 {
		return nil
	}
	return &v
}
