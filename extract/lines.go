package extract

import (
	"sort"
	"strings"
)

// lineIndex holds the byte offset at which each line starts.
type lineIndex []int

func newLineIndex(text string) lineIndex {
	idx := lineIndex{0}
	for i := strings.IndexByte(text, '\n'); i >= 0; {
		next := idx[len(idx)-1] + i + 1
		idx = append(idx, next)
		rest := text[next:]
		i = strings.IndexByte(rest, '\n')
	}
	return idx
}

func (l lineIndex) position(offset int) Position {
	line := sort.Search(len(l), func(i int) bool { return l[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return Position{Line: line + 1, Column: offset - l[line] + 1}
}
