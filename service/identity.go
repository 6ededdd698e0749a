package service

import "maps"

// Identity is the caller identity computed for one call: the merge of the
// fragments contributed by the method's middleware.
type Identity map[string]any

// Merge folds fragments left to right into a new Identity. Nil fragments
// contribute nothing; on key collision the later fragment wins. The result is
// never nil.
func Merge(fragments ...Identity) Identity {
	out := Identity{}
	for _, f := range fragments {
		maps.Copy(out, f)
	}
	return out
}

// Get returns the value stored under key, or nil.
func (id Identity) Get(key string) any {
	return id[key]
}

// String returns the value under key if it is a string.
func (id Identity) String(key string) (string, bool) {
	s, ok := id[key].(string)
	return s, ok
}

// Bool returns the value under key if it is a bool.
func (id Identity) Bool(key string) (bool, bool) {
	b, ok := id[key].(bool)
	return b, ok
}
