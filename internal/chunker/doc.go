// Package chunker divides documents into retrieval chunks.
//
// The strategy depends on the document type:
//
//   - progress_note: one chunk per SOAP section (chief complaint,
//     subjective, objective, assessment/plan) with the note header
//     prepended, small sections merged with a neighbour
//   - hra, lab, consults, imaging, sleep studies and problem lists:
//     sections framed by "=" rule lines, small sections merged forward and
//     labelled with a [SECTION] marker
//   - anything else: paragraphs packed up to MaxChunkSize with overlap
//
// Sections whose estimated token count exceeds MaxTokens are split by
// sentence with one or two sentences of overlap. Token counts are estimated
// as characters/4.
//
// Chunking is deterministic. ChunkDocument returns chunks with metadata and
// a per-document Sequence; the index builder assigns the final ids.
package chunker
