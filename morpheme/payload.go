package morpheme

import "fmt"

// PayloadRecord is the auxiliary value attached to one token position.
//
// Exactly one field group is meaningful, selected by Class: Ref for ClassID
// and ClassStr (an index into the package string table), Num for ClassNum,
// Bool for ClassBool, Raw for ClassOther. A ClassNone record carries nothing.
type PayloadRecord struct {
	Class PayloadClass
	Ref   uint32
	Num   int64
	Bool  bool
	Raw   []byte
}

// None is the empty record attached to structural tokens.
var None = PayloadRecord{Class: ClassNone}

// ID returns a string-table reference record.
func ID(ref uint32) PayloadRecord { return PayloadRecord{Class: ClassID, Ref: ref} }

// Str returns a string-literal reference record.
func Str(ref uint32) PayloadRecord { return PayloadRecord{Class: ClassStr, Ref: ref} }

// Num returns a numeric record.
func Num(v int64) PayloadRecord { return PayloadRecord{Class: ClassNum, Num: v} }

// Bool returns a flag record.
func Bool(v bool) PayloadRecord { return PayloadRecord{Class: ClassBool, Bool: v} }

// Other returns an opaque record carrying raw bytes.
func Other(raw []byte) PayloadRecord { return PayloadRecord{Class: ClassOther, Raw: raw} }

// ValidateStream checks that payloads line up with tokens: same length, every
// token in the vocabulary, and each record's class equal to the token's class.
//
// The class mapping is total, so a mismatch always means the stream was
// assembled wrong (or tampered with), never that the vocabulary is ambiguous.
func ValidateStream(tokens []Token, payloads []PayloadRecord) error {
	if len(tokens) != len(payloads) {
		return fmt.Errorf("morpheme: %d tokens but %d payload records", len(tokens), len(payloads))
	}
	for i, t := range tokens {
		if !Valid(t) {
			return fmt.Errorf("morpheme: token %d at position %d outside vocabulary (size %d)", t, i, Count())
		}
		want := Class(t)
		if got := payloads[i].Class; got != want {
			return fmt.Errorf("morpheme: %s at position %d requires %s payload, got %s", t.Key(), i, want, got)
		}
	}
	return nil
}
