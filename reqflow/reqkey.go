package reqflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Key derives the canonical fingerprint of a logical request: method, URL,
// sorted params, and a recursively key-sorted serialisation of the body.
// Two requests differing only in map/param ordering produce equal keys.
// Headers are not part of the key.
func Key(req *Request) string {
	var b strings.Builder
	b.WriteString(string(req.Method))
	b.WriteByte(':')
	b.WriteString(req.URL)
	b.WriteByte(':')
	b.WriteString(canonicalParams(req.Params))
	b.WriteByte(':')
	b.WriteString(canonicalValue(req.Body))
	return hashKey(b.String())
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func canonicalParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// canonicalValue serialises an arbitrary body value with recursively
// sorted map keys, so that semantically identical bodies compared with
// differing key orderings produce equal strings. Sequences preserve order.
// []byte bodies hash to their byte identity.
func canonicalValue(v any) string {
	if v == nil {
		return "null"
	}
	if raw, ok := v.([]byte); ok {
		sum := sha256.Sum256(raw)
		return "bytes:" + hex.EncodeToString(sum[:])
	}

	// Round-trip through JSON so maps/structs become generic
	// map[string]any/[]any/primitives that we can canonicalise uniformly.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("unencodable:%v", v)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return string(data)
	}

	var b strings.Builder
	writeCanonical(&b, generic)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(b, "%q:", k)
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	case string:
		fmt.Fprintf(b, "%q", t)
	case nil:
		b.WriteString("null")
	default:
		fmt.Fprintf(b, "%v", t)
	}
}
