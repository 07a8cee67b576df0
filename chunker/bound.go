package chunker

import "strings"

// Bound slices code into consecutive pieces of at most maxLines lines. The
// last piece may be shorter. Joining the result with "\n" yields code again.
// A trailing newline ends the last line rather than opening another one.
func Bound(code string, maxLines int) []string {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	body, trailing := strings.CutSuffix(code, "\n")
	lines := strings.Split(body, "\n")
	if len(lines) <= maxLines {
		return []string{code}
	}

	chunks := make([]string, 0, (len(lines)+maxLines-1)/maxLines)
	for start := 0; start < len(lines); start += maxLines {
		end := min(start+maxLines, len(lines))
		chunks = append(chunks, strings.Join(lines[start:end], "\n"))
	}
	if trailing {
		chunks[len(chunks)-1] += "\n"
	}
	return chunks
}
