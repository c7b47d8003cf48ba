package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var paragraphRe = regexp.MustCompile(`\n\s*\n`)

// splitSentences splits after '.', '!' or '?' followed by whitespace
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// splitOversized breaks content above the token budget into sentence
// windows sharing one or two sentences of overlap. The header is repeated
// on every piece.
func (c *Chunker) splitOversized(content, header, section string) []piece {
	if EstimateTokenCount(content) <= c.cfg.MaxTokens {
		return []piece{{section: section, content: content}}
	}

	body := content
	if header != "" && strings.HasPrefix(content, header) {
		body = strings.TrimSpace(content[len(header):])
	} else {
		header = ""
	}

	available := c.cfg.MaxTokens - EstimateTokenCount(header) - 10
	if available < 50 {
		return []piece{{section: section, content: content}}
	}

	var (
		out     []piece
		current []string
		tokens  int
		part    = 1
	)
	emit := func(text string) {
		if len(text) >= minSplitContentSize {
			out = append(out, piece{
				section: fmt.Sprintf("%s_part%d", section, part),
				content: withHeader(text, header),
			})
			part++
		}
	}

	for _, sent := range splitSentences(body) {
		sent = strings.TrimSpace(sent)
		if sent == "" {
			continue
		}
		sentTokens := EstimateTokenCount(sent)

		if sentTokens > available {
			if len(current) > 0 {
				emit(strings.Join(current, " "))
				current, tokens = nil, 0
			}
			var words []string
			wordTokens := 0
			for _, w := range strings.Fields(sent) {
				wt := EstimateTokenCount(w)
				if wordTokens+wt > available && len(words) > 0 {
					emit(strings.Join(words, " "))
					words, wordTokens = []string{w}, wt
					continue
				}
				words = append(words, w)
				wordTokens += wt
			}
			if len(words) > 0 {
				current = []string{strings.Join(words, " ")}
				tokens = EstimateTokenCount(current[0])
			}
			continue
		}

		if tokens+sentTokens > available && len(current) > 0 {
			emit(strings.Join(current, " "))
			keep := 1
			if len(current) > 1 {
				keep = 2
			}
			overlap := append([]string(nil), current[len(current)-keep:]...)
			current = append(overlap, sent)
			tokens = EstimateTokenCount(strings.Join(current, " "))
			continue
		}
		current = append(current, sent)
		tokens += sentTokens
	}

	if len(current) > 0 {
		text := strings.Join(current, " ")
		if len(text) >= minSplitContentSize || len(out) == 0 {
			name := section
			if part > 1 {
				name = fmt.Sprintf("%s_part%d", section, part)
			}
			out = append(out, piece{section: name, content: withHeader(text, header)})
		}
	}

	if len(out) == 1 {
		out[0].section = section
	}
	if len(out) == 0 {
		return []piece{{section: section, content: content}}
	}
	return out
}

// overlapText returns up to size characters from the end of text, preferring
// whole sentences.
func overlapText(text string, size int) string {
	if len(text) <= size {
		return text
	}
	sentences := splitSentences(text)

	var parts []string
	length := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		s := sentences[i]
		if length+len(s)+1 <= size {
			parts = append([]string{s}, parts...)
			length += len(s) + 1
			continue
		}
		if len(parts) == 0 {
			return tailBytes(s, size)
		}
		break
	}
	return strings.Join(parts, " ")
}

// tailBytes returns at most n trailing bytes of s without splitting a rune
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// chunkParagraphs packs paragraphs into chunks of at most MaxChunkSize with
// a sentence-aligned overlap between neighbours.
func (c *Chunker) chunkParagraphs(content string) []piece {
	content = strings.TrimSpace(content)
	if len(content) <= c.cfg.MaxChunkSize {
		return []piece{{content: content}}
	}

	var out []piece
	current := ""
	for _, para := range paragraphRe.Split(content, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(current)+len(para)+2 <= c.cfg.MaxChunkSize {
			if current == "" {
				current = para
			} else {
				current += "\n\n" + para
			}
			continue
		}

		if current != "" {
			out = append(out, piece{content: current})
			if c.cfg.OverlapSize > 0 {
				current = overlapText(current, c.cfg.OverlapSize) + "\n\n" + para
			} else {
				current = para
			}
			continue
		}

		// A single paragraph above the limit is packed by sentence.
		for _, sent := range splitSentences(para) {
			if len(current)+len(sent)+1 > c.cfg.MaxChunkSize {
				if current != "" {
					out = append(out, piece{content: current})
				}
				current = sent
				continue
			}
			if current == "" {
				current = sent
			} else {
				current += " " + sent
			}
		}
	}

	switch {
	case current != "" && len(current) >= c.cfg.MinChunkSize:
		out = append(out, piece{content: current})
	case current != "" && len(out) > 0:
		out[len(out)-1].content += "\n\n" + current
	case current != "":
		out = append(out, piece{content: current})
	}

	if len(out) == 0 {
		return []piece{{content: content}}
	}
	return out
}
