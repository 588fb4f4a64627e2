package codec

import "github.com/s3db/s3db/internal/schema"

// Tokenizer translates between flattened attribute paths and the compact
// per-schema-version tokens stored as S3 object metadata keys.
type Tokenizer struct {
	sv *schema.SchemaVersion
}

func NewTokenizer(sv *schema.SchemaVersion) *Tokenizer {
	return &Tokenizer{sv: sv}
}

// Encode converts a flattened document into a token-keyed map suitable for
// an S3 PutObject metadata payload. Paths the schema does not recognize are
// dropped silently; Validate checks only declared attributes and does not
// reject unknown paths.
func (t *Tokenizer) Encode(flat map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(flat))
	for path, v := range flat {
		if tok, ok := t.sv.Token(path); ok {
			out[tok] = v
		}
	}
	return out
}

// Decode reverses Encode, turning stored tokens back into attribute paths.
func (t *Tokenizer) Decode(tokens map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(tokens))
	for tok, v := range tokens {
		if path, ok := t.sv.Path(tok); ok {
			out[path] = v
		}
	}
	return out
}
