package entities

import "strings"

// Token is a token of the message text with its character offsets.
type Token struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Entity is an entity extracted from a message.
type Entity struct {
	Entity     string  `json:"entity"`
	Value      string  `json:"value"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence_entity"`
	Extractor  string  `json:"extractor,omitempty"`
}

// SpanConverter turns per-token tags back into entities of the text.
type SpanConverter interface {
	Convert(text string, tokens []Token, tags []string, confidences []float64) []Entity
}

// BILOUConverter merges tokens into entities following BILOU prefixes (B- begin,
// I- inside, L- last, U- unit). Tags without a prefix are merged while the entity type
// stays the same.
type BILOUConverter struct{}

// Convert implements SpanConverter.
func (BILOUConverter) Convert(text string, tokens []Token, tags []string, confidences []float64) []Entity {
	var out []Entity
	var cur *Entity
	var confs []float64
	flush := func() {
		if cur == nil {
			return
		}
		if cur.End <= len(text) && cur.Start <= cur.End {
			cur.Value = text[cur.Start:cur.End]
		}
		cur.Confidence = minimum(confs)
		out = append(out, *cur)
		cur, confs = nil, nil
	}
	for i, tok := range tokens {
		if i >= len(tags) {
			break
		}
		prefix, typ := splitTag(tags[i])
		conf := 1.0
		if i < len(confidences) {
			conf = confidences[i]
		}
		if typ == NoEntity {
			flush()
			continue
		}
		continues := cur != nil && cur.Entity == typ && (prefix == "I" || prefix == "L" || prefix == "")
		if !continues {
			flush()
			cur = &Entity{Entity: typ, Start: tok.Start, End: tok.End}
		}
		cur.End = tok.End
		confs = append(confs, conf)
		if prefix == "L" || prefix == "U" {
			flush()
		}
	}
	flush()
	return out
}

func splitTag(tag string) (string, string) {
	if tag == "" || tag == NoEntity {
		return "", NoEntity
	}
	if len(tag) > 2 && tag[1] == '-' && strings.ContainsAny(tag[:1], "BILU") {
		return tag[:1], tag[2:]
	}
	return "", tag
}

func minimum(xs []float64) float64 {
	m := 1.0
	for _, x := range xs {
		if x < m {
			m = x
		}
	}
	return m
}
