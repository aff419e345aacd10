package morpheme

import "fmt"

// DictionaryVersion identifies the vocabulary revision this build was
// compiled against. It is recorded in package metadata and participates in
// project-level key derivation.
const DictionaryVersion = "2025.2"

// compatibleDictionaries lists revisions this reader can decode. Revisions
// only ever append tokens, so any listed revision maps into the current table.
var compatibleDictionaries = map[string]struct{}{
	"2025.1": {},
	"2025.2": {},
}

// DictionaryCompatible reports whether packages written against version can
// be resolved by this build.
func DictionaryCompatible(version string) bool {
	_, ok := compatibleDictionaries[version]
	return ok
}

var keyToToken map[string]Token

func init() {
	keyToToken = make(map[string]Token, len(tokenDefs))
	for t, def := range tokenDefs {
		keyToToken[def.key] = Token(t)
	}
}

// Lookup resolves a dictionary key to its token.
func Lookup(key string) (Token, bool) {
	t, ok := keyToToken[key]
	return t, ok
}

// Resolver maps dictionary keys from a (possibly newer) producer into this
// build's vocabulary.
//
// In the default lenient mode, keys this build does not know resolve to
// meta:unknown so a decoder can still walk the stream. Strict mode turns any
// unknown key into an error instead, for callers that must not lose
// information silently.
type Resolver struct {
	Strict bool
}

func (r Resolver) Resolve(key string) (Token, error) {
	if t, ok := keyToToken[key]; ok {
		return t, nil
	}
	if r.Strict {
		return TokMetaUnknown, fmt.Errorf("morpheme: unknown dictionary key %q", key)
	}
	return TokMetaUnknown, nil
}
