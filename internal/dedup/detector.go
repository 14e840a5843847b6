package dedup

import (
	"bytes"
	"encoding/binary"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/polite-crawler/pkg/hashutil"
	"lukechampine.com/blake3"
)

// Detector computes exact and near-duplicate fingerprints for fetched pages.
// The number of permutations is fixed at construction time (driven by
// config.MinhashPermutations) so every signature it produces is comparable.
type Detector struct {
	permutations int
}

// NewDetector returns a Detector that computes MinHash signatures with the
// given number of permutations. Permutations below 1 are treated as 1.
func NewDetector(permutations int) Detector {
	if permutations < 1 {
		permutations = 1
	}
	return Detector{permutations: permutations}
}

// ExactHash returns the MD5 hex digest of the raw page bytes, used to catch
// byte-identical pages reachable via multiple URLs.
func (d Detector) ExactHash(raw []byte) (string, error) {
	return hashutil.HashBytes(raw, hashutil.HashAlgoMD5)
}

// Signature computes a MinHash signature over the visible text of an HTML
// page: script/style/noscript content is stripped, the remaining text is
// split into words on every run of non-letter, non-digit characters, and one minimum hash is kept
// per salted permutation.
func (d Detector) Signature(htmlBytes []byte) (Signature, error) {
	tokens, err := visibleTextTokens(htmlBytes)
	if err != nil {
		return nil, err
	}
	return computeSignature(tokens, d.permutations), nil
}

var nonWordRun = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// visibleTextTokens extracts the page's visible text (dropping script,
// style, and noscript subtrees) and returns the set of distinct words in it.
func visibleTextTokens(htmlBytes []byte) (map[string]struct{}, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return nil, err
	}

	doc.Find("script, style, noscript").Remove()

	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}

	return tokenize(text), nil
}

// tokenize lowercases text and splits it into the set of distinct words,
// treating any run of non-letter, non-digit characters as a separator.
func tokenize(text string) map[string]struct{} {
	lower := strings.ToLower(text)
	fields := nonWordRun.Split(lower, -1)
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

// computeSignature runs one salted BLAKE3 hash per permutation over every
// token, keeping the minimum observed value per permutation. The salt is
// the permutation index prefixed onto the token bytes, so each permutation
// behaves as an independent hash function over the same token set.
func computeSignature(tokens map[string]struct{}, permutations int) Signature {
	sig := make(Signature, permutations)
	for p := range sig {
		sig[p] = ^uint64(0)
	}

	if len(tokens) == 0 {
		return sig
	}

	var saltBuf [8]byte
	buf := make([]byte, 0, 8+64)
	for token := range tokens {
		for p := 0; p < permutations; p++ {
			binary.LittleEndian.PutUint64(saltBuf[:], uint64(p))
			buf = append(buf[:0], saltBuf[:]...)
			buf = append(buf, token...)
			sum := blake3.Sum256(buf)
			v := binary.LittleEndian.Uint64(sum[:8])
			if v < sig[p] {
				sig[p] = v
			}
		}
	}
	return sig
}
