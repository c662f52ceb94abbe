// Package textsplitters provides the fixed-length fallback splitter used once
// internal/chunker's separator cascade (paragraphs, lines, sentences, words)
// bottoms out without making further progress on an oversized chunk.
//
//	Diagram: |====100====||====100====||====100====|
//
// It splits by character count or, with a Tokenizer, by token count, and
// supports overlap between adjacent chunks.
package textsplitters
