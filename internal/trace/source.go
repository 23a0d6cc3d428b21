package trace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoMatches is returned when a glob input matches no files.
var ErrNoMatches = errors.New("pattern matched no files")

// readBufferSize is the reader buffer. Lines longer than it are still read
// whole; application output sharing the file has no length limit.
const readBufferSize = 64 * 1024

// isPattern reports whether arg contains glob metacharacters.
func isPattern(arg string) bool {
	return strings.ContainsAny(arg, "*?[{")
}

// ExpandInputs resolves each argument as a literal path or a doublestar glob
// (e.g. "traces/**/trace-*.log"). Glob matches are sorted; duplicates are
// removed while keeping first-seen order. Literal paths are not checked for
// existence here.
func ExpandInputs(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, arg := range args {
		if !isPattern(arg) {
			add(arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("glob %q: %w", arg, ErrNoMatches)
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return paths, nil
}

// ReadLinesFrom reads every line of r, tagging each with source. Line
// endings ("\n" or "\r\n") are stripped and a final line without a newline
// is kept.
func ReadLinesFrom(r io.Reader, source string) ([]Line, error) {
	br := bufio.NewReaderSize(r, readBufferSize)

	var lines []Line
	n := 0
	for {
		text, err := br.ReadString('\n')
		if len(text) > 0 {
			n++
			text = strings.TrimSuffix(strings.TrimSuffix(text, "\n"), "\r")
			lines = append(lines, Line{Source: source, Number: n, Text: text})
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", source, err)
		}
	}
}

// ReadFiles loads every line of every path into memory, in path order.
// Any open or read failure is fatal and no lines are returned.
func ReadFiles(ctx context.Context, paths []string) ([]Line, error) {
	var all []Line
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := readFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, lines...)
	}
	return all, nil
}

func readFile(path string) ([]Line, error) {
	rc, _, err := OpenTrace(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer rc.Close()
	return ReadLinesFrom(rc, path)
}
