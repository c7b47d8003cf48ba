package chunker

import (
	"regexp"
	"strings"
)

// sectionDelimiter is the rule line used by structured reports
var sectionDelimiter = strings.Repeat("=", 80)

var (
	sectionHeaderRe    = regexp.MustCompile(`={60,}\n([A-Z][A-Z0-9\s\-_/]*(?:\s*\([^)]*\))?)\n={60,}\n`)
	trailingDelimRe    = regexp.MustCompile(`\n={60,}\s*$`)
	parentheticalRe    = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	nonAlnumRe         = regexp.MustCompile(`[^a-z0-9]+`)
	sectionMarkerRe    = regexp.MustCompile(`^\[[A-Z][A-Z\s\-_/]+\]`)
	headerStopKeywords = []string{"Subjective:", "Chief Complaint:", "CLINICAL INDICATION"}
)

// soapSection locates one SOAP section: it starts at start and runs until
// the first end match after it, or the end of the note.
type soapSection struct {
	name  string
	start *regexp.Regexp
	end   *regexp.Regexp
}

var soapSections = []soapSection{
	{"chief_complaint", regexp.MustCompile(`(?i)chief complaint:`), regexp.MustCompile(`(?i)subjective:`)},
	{"subjective", regexp.MustCompile(`(?i)subjective:`), regexp.MustCompile(`(?i)objective:`)},
	{"objective", regexp.MustCompile(`(?i)objective:`), regexp.MustCompile(`(?i)assessment/plan:|assessment:`)},
	{"assessment_plan", regexp.MustCompile(`(?i)assessment/plan:|assessment:`), regexp.MustCompile(`(?i)electronically signed`)},
}

// extractHeader splits the leading identification block (at most ten lines,
// ending at a delimiter or SOAP keyword) from the body.
func extractHeader(content string) (header, body string) {
	lines := strings.Split(content, "\n")
	headerLines := make([]string, 0, 10)
	bodyStart := 0

	for i, line := range lines {
		if strings.Contains(line, sectionDelimiter) || containsAny(line, headerStopKeywords) {
			bodyStart = i
			break
		}
		if i >= 10 {
			bodyStart = i
			break
		}
		headerLines = append(headerLines, line)
	}

	header = strings.TrimSpace(strings.Join(headerLines, "\n"))
	body = strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
	return header, body
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (s soapSection) extract(body string) string {
	loc := s.start.FindStringIndex(body)
	if loc == nil {
		return ""
	}
	stop := len(body)
	if m := s.end.FindStringIndex(body[loc[1]:]); m != nil {
		stop = loc[1] + m[0]
	}
	return strings.TrimSpace(body[loc[0]:stop])
}

// chunkSOAP chunks a progress note by SOAP section with the note header
// prepended to every chunk.
func (c *Chunker) chunkSOAP(content string) []piece {
	header, body := extractHeader(content)

	var raw []piece
	for _, s := range soapSections {
		if text := s.extract(body); text != "" {
			raw = append(raw, piece{section: s.name, content: text})
		}
	}

	var out []piece
	for _, sec := range c.mergeSmallSOAP(raw) {
		out = append(out, c.splitOversized(withHeader(sec.content, header), header, sec.section)...)
	}
	if len(out) == 0 {
		return []piece{{content: content}}
	}
	return out
}

// mergeSmallSOAP joins sections under MinChunkSize with the next section,
// or with the previous one when they trail.
func (c *Chunker) mergeSmallSOAP(sections []piece) []piece {
	var merged []piece
	var pending *piece

	for _, sec := range sections {
		if len(sec.content) < c.cfg.MinChunkSize {
			if pending != nil {
				pending = &piece{
					section: pending.section + "_" + sec.section,
					content: pending.content + "\n\n" + sec.content,
				}
			} else {
				p := sec
				pending = &p
			}
			continue
		}
		if pending != nil {
			merged = append(merged, piece{
				section: pending.section + "_" + sec.section,
				content: pending.content + "\n\n" + sec.content,
			})
			pending = nil
			continue
		}
		merged = append(merged, sec)
	}

	if pending != nil {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			last.section = last.section + "_" + pending.section
			last.content = last.content + "\n\n" + pending.content
		} else {
			merged = append(merged, *pending)
		}
	}
	return merged
}

// chunkDelimited chunks reports whose sections are framed by "=" rule lines
func (c *Chunker) chunkDelimited(content string) []piece {
	header, _ := extractHeader(content)

	var out []piece
	for _, sec := range splitBySectionHeaders(content) {
		cleanName := strings.TrimSpace(parentheticalRe.ReplaceAllString(sec.section, ""))
		normalized := strings.Trim(nonAlnumRe.ReplaceAllString(strings.ToLower(cleanName), "_"), "_")

		body := sec.content
		if !sectionMarkerRe.MatchString(body) {
			body = "[" + cleanName + "]\n" + body
		}
		out = append(out, c.splitOversized(withHeader(body, header), header, normalized)...)
	}
	if len(out) == 0 {
		return []piece{{content: content}}
	}
	return out
}

func splitBySectionHeaders(content string) []piece {
	matches := sectionHeaderRe.FindAllStringSubmatchIndex(content, -1)

	var raw []piece
	for i, m := range matches {
		name := strings.TrimSpace(content[m[2]:m[3]])
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(content[m[1]:end])
		body = strings.TrimSpace(trailingDelimRe.ReplaceAllString(body, ""))
		if body != "" {
			raw = append(raw, piece{section: name, content: body})
		}
	}
	return mergeSmallSections(raw)
}

// mergeSmallSections folds sections under smallSectionThreshold into the
// following section; a small last section joins the previous one. Merged
// bodies keep a [NAME] marker per original section.
func mergeSmallSections(sections []piece) []piece {
	if len(sections) == 0 {
		return sections
	}

	var merged, pending []piece
	for i, sec := range sections {
		small := len(sec.content) < smallSectionThreshold
		last := i == len(sections)-1

		switch {
		case small && !last:
			pending = append(pending, sec)
		case len(pending) > 0:
			names := make([]string, 0, len(pending)+1)
			parts := make([]string, 0, len(pending)+1)
			for _, p := range pending {
				names = append(names, p.section)
				parts = append(parts, marked(p))
			}
			names = append(names, sec.section)
			parts = append(parts, marked(sec))
			merged = append(merged, piece{
				section: strings.Join(names, " + "),
				content: strings.Join(parts, "\n\n"),
			})
			pending = nil
		case small && last && len(merged) > 0:
			prev := &merged[len(merged)-1]
			prev.section = prev.section + " + " + sec.section
			prev.content = prev.content + "\n\n" + marked(sec)
		default:
			merged = append(merged, sec)
		}
	}
	return merged
}

func marked(p piece) string {
	return "[" + p.section + "]\n" + p.content
}
