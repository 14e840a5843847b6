package score

/*
Responsibilities

- Build a ±50-character anchor-context window around a discovered link
- Compute bag-of-words cosine similarity between that window and each
  configured preferential keyword
- Turn the best keyword match into a priority score (0 = highest priority)

Knows nothing about the Frontier itself; it only turns an anchor's
surrounding text into the score the Frontier sorts by.
*/

const anchorWindowRadius = 50

// stopwords are removed before building bag-of-words vectors so that common
// English function words don't drown out the topical keyword match.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "will": {}, "with": {}, "this": {},
	"but": {}, "not": {}, "you": {}, "your": {}, "we": {}, "our": {},
	"can": {}, "if": {}, "then": {}, "than": {}, "into": {}, "about": {},
	"their": {}, "they": {}, "them": {}, "there": {}, "these": {}, "those": {},
}
