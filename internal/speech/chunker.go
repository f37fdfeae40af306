package speech

import "strings"

// DefaultChunkChars is the chunk size used when the caller passes a
// non-positive limit. Platform speech engines start misbehaving well below
// their documented utterance limits, so this stays conservative.
const DefaultChunkChars = 200

// ChunkText splits narration text into engine-safe chunks of at most
// maxChars characters. Whitespace runs are normalized to single spaces.
// Splitting prefers sentence boundaries, then word boundaries. A single
// word longer than maxChars is passed through as its own chunk, unsplit:
// mid-word splits produce garbage audio, and engines truncate internally.
//
// Joining the returned chunks with single spaces reproduces the normalized
// input exactly.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}

	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return nil
	}
	if len(normalized) <= maxChars {
		return []string{normalized}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	add := func(piece string) {
		switch {
		case cur.Len() == 0:
			cur.WriteString(piece)
		case cur.Len()+1+len(piece) <= maxChars:
			cur.WriteByte(' ')
			cur.WriteString(piece)
		default:
			flush()
			cur.WriteString(piece)
		}
	}

	for _, sentence := range splitSentences(normalized) {
		if len(sentence) <= maxChars {
			add(sentence)
			continue
		}
		// Sentence too long: pack its words greedily. An oversized single
		// word rides through on its own.
		for _, word := range strings.Split(sentence, " ") {
			add(word)
		}
	}
	flush()
	return chunks
}

// splitSentences splits normalized text at sentence-terminal punctuation
// runs followed by a space. The terminator run stays with its sentence.
// Dots inside tokens ("3.14", "example.com") never split because no space
// follows them.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !isTerminator(text[i]) {
			continue
		}
		// Consume the full terminator run ("...", "?!").
		for i+1 < len(text) && isTerminator(text[i+1]) {
			i++
		}
		if i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, text[start:i+1])
			start = i + 2
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}
