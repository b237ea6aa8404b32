package segment

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chemkb/chemkb/internal/storage"
)

// Segment length bounds in characters. Chinese text counts one character
// per rune, so all length math below works on runes.
const (
	minSegmentLength    = 50
	maxSegmentLength    = 500
	targetSegmentLength = 300
	overlapLength       = 50
)

// SegmentDocument splits a document's text into tagged passages ready for
// storage. Passages shorter than the minimum length are dropped; order
// numbering still counts them so IDs stay stable.
func SegmentDocument(fileID, text, fileName string) []storage.SegmentRecord {
	cleaned := cleanText(text)
	parts := splitIntoSegments(cleaned)

	now := time.Now().UTC()
	var records []storage.SegmentRecord
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if len([]rune(trimmed)) < minSegmentLength {
			continue
		}
		order := i + 1
		records = append(records, storage.SegmentRecord{
			ID:             fmt.Sprintf("%s_%d_%s", fileID, order, uuid.NewString()[:8]),
			FileID:         fileID,
			FileName:       fileName,
			Order:          order,
			Text:           trimmed,
			Tags:           "[]",
			CharacterCount: len([]rune(trimmed)),
			WordCount:      len(strings.Fields(trimmed)),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return records
}

var (
	crRe        = regexp.MustCompile(`\r\n?`)
	spaceRunRe  = regexp.MustCompile(`[ \t]+`)
	spacedNLRe  = regexp.MustCompile(` ?\n ?`)
	manyBlankRe = regexp.MustCompile(`\n{3,}`)
)

// cleanText normalizes line endings and collapses runs of spaces while
// keeping paragraph breaks intact for the natural-paragraph split.
func cleanText(text string) string {
	text = crRe.ReplaceAllString(text, "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = spacedNLRe.ReplaceAllString(text, "\n")
	text = manyBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func splitIntoSegments(text string) []string {
	var segments []string

	for _, paragraph := range splitNaturalParagraphs(text) {
		if len([]rune(paragraph)) <= maxSegmentLength {
			if len([]rune(paragraph)) >= minSegmentLength {
				segments = append(segments, paragraph)
			}
		} else {
			segments = append(segments, splitLongParagraph(paragraph)...)
		}
	}

	return addOverlaps(segments)
}

// headingRe matches numbered-heading prefixes like "1." / "3、" / "（2）" /
// "三、" that mark paragraph starts in documents without blank lines.
var headingRe = regexp.MustCompile(`^(\d+\.|\d+、|[一二三四五六七八九十]+[、．]|[（【]\d+[）】])`)

func splitNaturalParagraphs(text string) []string {
	var paragraphs []string
	for _, part := range strings.Split(text, "\n\n") {
		part = strings.TrimSpace(part)
		if len([]rune(part)) >= minSegmentLength {
			paragraphs = append(paragraphs, part)
		}
	}

	if len(paragraphs) <= 2 {
		for _, part := range splitByHeadings(text) {
			part = strings.TrimSpace(part)
			if len([]rune(part)) >= minSegmentLength {
				paragraphs = append(paragraphs, part)
			}
		}
	}

	if len(paragraphs) <= 2 {
		paragraphs = splitFixedLength(text, maxSegmentLength)
	}

	var out []string
	for _, p := range paragraphs {
		if len([]rune(strings.TrimSpace(p))) >= minSegmentLength {
			out = append(out, p)
		}
	}
	return out
}

// splitByHeadings groups lines into parts, opening a new part whenever a
// line starts with a numbered-heading prefix.
func splitByHeadings(text string) []string {
	lines := strings.Split(text, "\n")
	var parts []string
	var current strings.Builder

	for _, line := range lines {
		if headingRe.MatchString(line) && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func isSentenceEnd(r rune) bool {
	return r == '。' || r == '！' || r == '？' || r == '；'
}

// splitSentences cuts text after Chinese sentence terminators, keeping the
// terminator (and any trailing space) with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if isSentenceEnd(runes[i]) {
			end := i + 1
			for end < len(runes) && runes[end] == ' ' {
				end++
			}
			sentences = append(sentences, string(runes[start:end]))
			start = end
			i = end - 1
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

// splitLongParagraph accumulates sentences up to the target length and
// starts a new segment when adding the next one would push past it.
func splitLongParagraph(paragraph string) []string {
	var segments []string
	var current strings.Builder
	currentLen := 0

	for _, sentence := range splitSentences(paragraph) {
		sentenceLen := len([]rune(sentence))
		if currentLen+sentenceLen > targetSegmentLength && current.Len() > 0 && currentLen >= minSegmentLength {
			segments = append(segments, strings.TrimSpace(current.String()))
			current.Reset()
			currentLen = 0
		}
		current.WriteString(sentence)
		currentLen += sentenceLen
	}

	last := strings.TrimSpace(current.String())
	if len([]rune(last)) >= minSegmentLength {
		segments = append(segments, last)
	}
	return segments
}

// splitFixedLength cuts text into max-length chunks, backing up to a
// sentence boundary in the second half of the window when one exists.
func splitFixedLength(text string, maxLen int) []string {
	runes := []rune(text)
	var segments []string
	start := 0

	for start < len(runes) {
		end := start + maxLen
		if end < len(runes) {
			for i := end; i > start+maxLen/2; i-- {
				r := runes[i-1]
				if isSentenceEnd(r) || r == '\n' {
					end = i
					break
				}
			}
		} else {
			end = len(runes)
		}

		seg := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(seg)) >= minSegmentLength {
			segments = append(segments, seg)
		}
		start = end
	}
	return segments
}

// addOverlaps interleaves bridging passages built from the tail of one
// segment and the head of the next, at every other boundary, to improve
// retrieval recall across segment edges.
func addOverlaps(segments []string) []string {
	if len(segments) <= 1 {
		return segments
	}

	var enhanced []string
	for i, seg := range segments {
		enhanced = append(enhanced, seg)

		if i < len(segments)-1 && i%2 == 0 {
			cur := []rune(seg)
			next := []rune(segments[i+1])

			tailStart := len(cur) - overlapLength
			if tailStart < 0 {
				tailStart = 0
			}
			headEnd := overlapLength
			if headEnd > len(next) {
				headEnd = len(next)
			}

			overlap := strings.TrimSpace(string(cur[tailStart:]) + " " + string(next[:headEnd]))
			if len([]rune(overlap)) >= minSegmentLength {
				enhanced = append(enhanced, overlap)
			}
		}
	}
	return enhanced
}
