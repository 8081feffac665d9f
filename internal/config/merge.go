package config

// Merge recursively overwrites dst with the keys of src and returns
// the mutated dst. When both sides hold a mapping at a key the two are
// merged; in every other case the source value replaces the
// destination value wholesale, including a mapping replacing a scalar
// and vice versa. Caller must ensure src is acyclic.
func Merge(dst, src Document) Document {
	if dst == nil {
		dst = make(Document, len(src))
	}
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			dm, _ := dst[k].(map[string]any)
			dst[k] = Merge(dm, sm)
			continue
		}
		dst[k] = v
	}
	return dst
}
