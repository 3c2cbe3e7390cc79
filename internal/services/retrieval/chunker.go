// File: internal/services/retrieval/chunker.go
package retrieval

import (
	"strings"
	"unicode/utf8"
)

// ChunkText splits text on paragraph boundaries into pieces of at most size
// characters. Consecutive chunks share up to overlap trailing characters.
// Paragraphs longer than size are cut on word boundaries.
func ChunkText(text string, size, overlap int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= size {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitWords(para, size)...)
	}

	var chunks []string
	var current strings.Builder
	for _, piece := range pieces {
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+2+utf8.RuneCountInString(piece) > size {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			if tail := tailRunes(chunk, overlap); tail != "" && utf8.RuneCountInString(tail)+2+utf8.RuneCountInString(piece) <= size {
				current.WriteString(tail)
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func splitWords(para string, size int) []string {
	var out []string
	var current strings.Builder
	for _, word := range strings.Fields(para) {
		for utf8.RuneCountInString(word) > size {
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
			r := []rune(word)
			out = append(out, string(r[:size]))
			word = string(r[size:])
		}
		if current.Len() > 0 && utf8.RuneCountInString(current.String())+1+utf8.RuneCountInString(word) > size {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return ""
	}
	return strings.TrimSpace(string(r[len(r)-n:]))
}
