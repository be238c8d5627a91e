package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const localDimensions = 384

// Local is a deterministic feature-hashing embedder: each token (and its
// character 4-grams, which give partial credit for shared word stems) is
// hashed into a bucket of a fixed-size vector, which is then normalized.
// Texts sharing salient terms end up with correlated vectors. No network,
// no model files.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, localDimensions)
	for _, token := range tokenize(text) {
		addFeature(vec, token, 1.0)
		for _, gram := range charGrams(token, 4) {
			addFeature(vec, "g:"+gram, 0.25)
		}
	}
	normalize(vec)
	return vec, nil
}

func (l *Local) Dimensions() int {
	return localDimensions
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	// The high bit picks a sign so hash collisions cancel instead of piling up.
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || isStopword(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func charGrams(token string, n int) []string {
	runes := []rune(token)
	if len(runes) <= n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}

// Portuguese and English function words that carry no retrieval signal.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "will": {}, "with": {}, "within": {},
	"ao": {}, "aos": {}, "com": {}, "como": {}, "da": {}, "das": {}, "de": {},
	"dos": {}, "em": {}, "na": {}, "nas": {}, "no": {}, "nos": {}, "o": {},
	"os": {}, "ou": {}, "para": {}, "por": {}, "que": {}, "qual": {},
	"quando": {}, "se": {}, "sem": {}, "um": {}, "uma": {},
}

func isStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}
