package qyn1

import "errors"

// Kind is a stable category for programmatic error handling.
//
// These categories are intended to remain stable across versions.
// Callers should branch on Kind/RuleID rather than matching error strings.
//
// NOTE: Error() strings are intentionally kept human-readable and may evolve.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	KindFormat         Kind = "Format"
	KindVersion        Kind = "Version"
	KindAuthentication Kind = "Authentication"
	KindModel          Kind = "Model"
	KindNonceReuse     Kind = "NonceReuse"
	KindResource       Kind = "Resource"
	KindInternal       Kind = "Internal"
)

// Stable rule identifiers. QYN-AUTH-001 is deliberately the only
// authentication id: every open failure maps to it so the error carries no
// oracle about what went wrong.
const (
	RuleFrameTooSmall    = "QYN-FMT-001"
	RuleFrameMagic       = "QYN-FMT-002"
	RuleFrameTruncated   = "QYN-FMT-003"
	RuleFrameCRC         = "QYN-FMT-004"
	RuleSectionTruncated = "QYN-FMT-005"
	RuleSectionCRC       = "QYN-FMT-006"
	RuleSectionOrder     = "QYN-FMT-007"
	RuleSectionFlags     = "QYN-FMT-008"
	RuleSectionMissing   = "QYN-FMT-009"
	RuleStreamHeader     = "QYN-FMT-010"
	RuleStringTable      = "QYN-FMT-011"
	RulePayloadRecords   = "QYN-FMT-012"
	RuleSourceMap        = "QYN-FMT-013"
	RuleMetadataDecode   = "QYN-FMT-014"
	RuleFeatureBits      = "QYN-FMT-015"

	RuleMajorMismatch = "QYN-VER-001"
	RuleMinorTooNew   = "QYN-VER-002"
	RuleDictionary    = "QYN-VER-003"

	RuleAuthentication = "QYN-AUTH-001"

	RuleUnknownBackend = "QYN-MODEL-001"
	RuleModelDecode    = "QYN-MODEL-002"
	RuleModelResolve   = "QYN-MODEL-003"
	RuleModelDigest    = "QYN-MODEL-004"
	RuleStreamDecode   = "QYN-MODEL-005"

	RuleNonceReuse = "QYN-NONCE-001"

	RuleSymbolBudget      = "QYN-RES-001"
	RuleModelBudget       = "QYN-RES-002"
	RuleCompressedBudget  = "QYN-RES-003"
	RuleStringTableBudget = "QYN-RES-004"
	RulePayloadBudget     = "QYN-RES-005"
)

// Error is the library's structured error type.
//
// RuleID is a stable identifier (e.g., QYN-FMT-004, QYN-AUTH-001) that names
// the violated invariant or validation rule.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

func wrapError(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return newError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// authError returns the uniform authentication failure. The message never
// varies and the cause is never attached: distinguishing tag failures from
// truncation would hand an attacker a decryption oracle.
func authError() error {
	return newError(KindAuthentication, RuleAuthentication, "package authentication failed")
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
