package dispatch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Input is one URL from the CLI or the input file, tagged with its group
// title when the file grouped it.
type Input struct {
	URL   string
	Group string
}

var urlPattern = regexp.MustCompile(`https?://\S+`)

// trailing punctuation commonly glued onto URLs in pasted prose
const trailingPunct = `.,;:!?'")]}>`

// ParseInputFile reads the URL input file at path. A missing file yields
// no inputs rather than an error.
func ParseInputFile(path string) ([]Input, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatch: open input %s: %w", path, err)
	}
	defer f.Close()
	return ParseInput(f)
}

// ParseInput extracts URLs from r. Lines starting with "---" or "==="
// open a named group applied to the URLs that follow. Lines starting
// with "#" are comments; a line that is exactly "#" toggles a block
// quote suppressing URLs until the next bare "#". URLs are matched with
// a permissive regex so pasted prose works; trailing punctuation is
// stripped and encoded paths are preserved.
func ParseInput(r io.Reader) ([]Input, error) {
	var (
		out     []Input
		group   string
		quoted  bool
		scanner = bufio.NewScanner(r)
	)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "#":
			quoted = !quoted
			continue
		case strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "==="):
			group = strings.TrimSpace(strings.Trim(line, "-= "))
			continue
		}
		if quoted {
			continue
		}
		for _, m := range urlPattern.FindAllString(line, -1) {
			out = append(out, Input{URL: stripTrailingPunct(m), Group: group})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dispatch: read input: %w", err)
	}
	return out, nil
}

// FromArgs wraps CLI-provided URLs as ungrouped inputs.
func FromArgs(urls []string) []Input {
	out := make([]Input, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		out = append(out, Input{URL: stripTrailingPunct(u)})
	}
	return out
}

func stripTrailingPunct(s string) string {
	return strings.TrimRight(s, trailingPunct)
}
