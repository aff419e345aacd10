// Package morpheme defines the closed morphemic token vocabulary and the
// deterministic token→payload-class mapping shared by the encoder and decoder.
package morpheme

// Token is a single symbol from the closed morphemic vocabulary.
//
// Tokens are dense: values run from 0 to Count()-1 so a token stream can be
// fed directly to the entropy coder with alphabet size Count().
type Token uint16

// PayloadClass partitions tokens by the kind of auxiliary value they carry.
//
// The class is a pure function of token identity. It is never stored in a
// package; both sides of the pipeline recompute it from the token.
type PayloadClass uint8

const (
	ClassNone PayloadClass = iota
	ClassID
	ClassStr
	ClassNum
	ClassBool
	ClassOther
)

func (c PayloadClass) String() string {
	switch c {
	case ClassNone:
		return "NONE"
	case ClassID:
		return "ID"
	case ClassStr:
		return "STR"
	case ClassNum:
		return "NUM"
	case ClassBool:
		return "BOOL"
	case ClassOther:
		return "OTHER"
	default:
		return "INVALID"
	}
}

// The vocabulary. Order is load-bearing: token values are indices into
// tokenDefs, and reordering entries is a breaking dictionary change.
const (
	// construct: declarations and definition forms.
	TokConstructModule Token = iota
	TokConstructFunction
	TokConstructAsyncFunction
	TokConstructLambda
	TokConstructClass
	TokConstructMethod
	TokConstructConstructor
	TokConstructDestructor
	TokConstructImport
	TokConstructImportFrom
	TokConstructExport
	TokConstructDecorator
	TokConstructGenerator
	TokConstructCoroutine
	TokConstructClosure
	TokConstructInterface
	TokConstructEnum
	TokConstructStruct
	TokConstructUnion
	TokConstructTrait
	TokConstructImpl
	TokConstructNamespace
	TokConstructPackage
	TokConstructTypedef
	TokConstructMacro
	TokConstructTemplate
	TokConstructAnnotation
	TokConstructProperty
	TokConstructGetter
	TokConstructSetter
	TokConstructStaticBlock
	TokConstructInitializer
	TokConstructGlobal
	TokConstructNonlocal
	TokConstructConstant
	TokConstructVariable

	// op: operators and invocation forms.
	TokOpAssign
	TokOpAugAssign
	TokOpWalrus
	TokOpCall
	TokOpCallMethod
	TokOpSubscript
	TokOpSlice
	TokOpAttribute
	TokOpAdd
	TokOpSub
	TokOpMul
	TokOpDiv
	TokOpFloorDiv
	TokOpMod
	TokOpPow
	TokOpMatMul
	TokOpLShift
	TokOpRShift
	TokOpBitAnd
	TokOpBitOr
	TokOpBitXor
	TokOpInvert
	TokOpNeg
	TokOpPos
	TokOpNot
	TokOpAnd
	TokOpOr
	TokOpEq
	TokOpNe
	TokOpLt
	TokOpLe
	TokOpGt
	TokOpGe
	TokOpIs
	TokOpIsNot
	TokOpIn
	TokOpNotIn
	TokOpTernary
	TokOpSpread
	TokOpUnpack
	TokOpAwait
	TokOpYield
	TokOpYieldFrom
	TokOpDelete
	TokOpTypeof
	TokOpInstanceof
	TokOpNew
	TokOpChain
	TokOpPipe
	TokOpCompose
	TokOpRange
	TokOpConcat
	TokOpCoalesce
	TokOpOptionalChain

	// flow: control flow.
	TokFlowIf
	TokFlowElif
	TokFlowElse
	TokFlowFor
	TokFlowForEach
	TokFlowWhile
	TokFlowDoWhile
	TokFlowBreak
	TokFlowContinue
	TokFlowReturn
	TokFlowRaise
	TokFlowTry
	TokFlowExcept
	TokFlowFinally
	TokFlowWith
	TokFlowMatch
	TokFlowCase
	TokFlowDefault
	TokFlowSwitch
	TokFlowGoto
	TokFlowLabel
	TokFlowPass
	TokFlowAssert
	TokFlowDefer
	TokFlowGuard
	TokFlowRetry
	TokFlowThrow
	TokFlowRethrow
	TokFlowHalt
	TokFlowResume
	TokFlowSelect
	TokFlowSpawn
	TokFlowJoin

	// structure: syntactic scaffolding and references.
	TokStructIdentifier
	TokStructParameter
	TokStructQualifier
	TokStructField
	TokStructKey
	TokStructKeywordArgument
	TokStructTypeHint
	TokStructIndex
	TokStructBlockStart
	TokStructBlockEnd
	TokStructParenOpen
	TokStructParenClose
	TokStructListStart
	TokStructListEnd
	TokStructMapStart
	TokStructMapEnd
	TokStructSetStart
	TokStructSetEnd
	TokStructTupleStart
	TokStructTupleEnd
	TokStructSeparator
	TokStructTerminator
	TokStructArrow
	TokStructColon
	TokStructComma
	TokStructDot
	TokStructEllipsis
	TokStructDefaultValue
	TokStructPositionalMarker
	TokStructVariadicArgs
	TokStructVariadicKwargs
	TokStructSpread

	// literal: literal values.
	TokLitInt
	TokLitFloat
	TokLitComplex
	TokLitString
	TokLitFString
	TokLitRawString
	TokLitByteString
	TokLitChar
	TokLitBool
	TokLitNone
	TokLitNull
	TokLitUndefined
	TokLitList
	TokLitTuple
	TokLitSet
	TokLitDict
	TokLitRegex
	TokLitDatetime
	TokLitDuration
	TokLitDecimal
	TokLitBigInt
	TokLitTemplateString
	TokLitUnit
	TokLitSymbol
	TokLitUUID
	TokLitPath

	// meta: stream bookkeeping and recovery markers.
	TokMetaUnknown
	TokMetaStreamStart
	TokMetaStreamEnd
	TokMetaVersionHeader
	TokMetaDictionaryVersion
	TokMetaComment
	TokMetaDocstring
	TokMetaPragma
	TokMetaShebang
	TokMetaEncodingMarker
	TokMetaWhitespace
	TokMetaNewline
	TokMetaIndent
	TokMetaDedent
	TokMetaEOF
	TokMetaErrorRecovery
	TokMetaPlaceholder
	TokMetaExtensionA
	TokMetaExtensionB
	TokMetaExtensionC

	tokenCount // sentinel, not a token
)

type tokenDef struct {
	key   string
	class PayloadClass
}

// tokenDefs is indexed by Token. An entry's position MUST match the const
// block above; TestVocabularyClosed enforces the pairing.
var tokenDefs = [tokenCount]tokenDef{
	TokConstructModule:        {"construct:module", ClassNum},
	TokConstructFunction:      {"construct:function", ClassNum},
	TokConstructAsyncFunction: {"construct:async_function", ClassNum},
	TokConstructLambda:        {"construct:lambda", ClassNum},
	TokConstructClass:         {"construct:class", ClassNum},
	TokConstructMethod:        {"construct:method", ClassNum},
	TokConstructConstructor:   {"construct:constructor", ClassNone},
	TokConstructDestructor:    {"construct:destructor", ClassNone},
	TokConstructImport:        {"construct:import", ClassID},
	TokConstructImportFrom:    {"construct:import_from", ClassID},
	TokConstructExport:        {"construct:export", ClassID},
	TokConstructDecorator:     {"construct:decorator", ClassID},
	TokConstructGenerator:     {"construct:generator", ClassNum},
	TokConstructCoroutine:     {"construct:coroutine", ClassNum},
	TokConstructClosure:       {"construct:closure", ClassNone},
	TokConstructInterface:     {"construct:interface", ClassNone},
	TokConstructEnum:          {"construct:enum", ClassNum},
	TokConstructStruct:        {"construct:struct", ClassNum},
	TokConstructUnion:         {"construct:union", ClassNum},
	TokConstructTrait:         {"construct:trait", ClassNone},
	TokConstructImpl:          {"construct:impl", ClassNone},
	TokConstructNamespace:     {"construct:namespace", ClassID},
	TokConstructPackage:       {"construct:package", ClassID},
	TokConstructTypedef:       {"construct:typedef", ClassID},
	TokConstructMacro:         {"construct:macro", ClassID},
	TokConstructTemplate:      {"construct:template", ClassNone},
	TokConstructAnnotation:    {"construct:annotation", ClassID},
	TokConstructProperty:      {"construct:property", ClassID},
	TokConstructGetter:        {"construct:getter", ClassID},
	TokConstructSetter:        {"construct:setter", ClassID},
	TokConstructStaticBlock:   {"construct:static_block", ClassNone},
	TokConstructInitializer:   {"construct:initializer", ClassNone},
	TokConstructGlobal:        {"construct:global", ClassID},
	TokConstructNonlocal:      {"construct:nonlocal", ClassID},
	TokConstructConstant:      {"construct:constant", ClassID},
	TokConstructVariable:      {"construct:variable", ClassID},

	TokOpAssign:        {"op:assign", ClassNum},
	TokOpAugAssign:     {"op:aug_assign", ClassNone},
	TokOpWalrus:        {"op:walrus", ClassNone},
	TokOpCall:          {"op:call", ClassNum},
	TokOpCallMethod:    {"op:call_method", ClassNum},
	TokOpSubscript:     {"op:subscript", ClassNone},
	TokOpSlice:         {"op:slice", ClassNone},
	TokOpAttribute:     {"op:attribute", ClassID},
	TokOpAdd:           {"op:add", ClassNone},
	TokOpSub:           {"op:sub", ClassNone},
	TokOpMul:           {"op:mul", ClassNone},
	TokOpDiv:           {"op:div", ClassNone},
	TokOpFloorDiv:      {"op:floordiv", ClassNone},
	TokOpMod:           {"op:mod", ClassNone},
	TokOpPow:           {"op:pow", ClassNone},
	TokOpMatMul:        {"op:matmul", ClassNone},
	TokOpLShift:        {"op:lshift", ClassNone},
	TokOpRShift:        {"op:rshift", ClassNone},
	TokOpBitAnd:        {"op:bitand", ClassNone},
	TokOpBitOr:         {"op:bitor", ClassNone},
	TokOpBitXor:        {"op:bitxor", ClassNone},
	TokOpInvert:        {"op:invert", ClassNone},
	TokOpNeg:           {"op:neg", ClassNone},
	TokOpPos:           {"op:pos", ClassNone},
	TokOpNot:           {"op:not", ClassNone},
	TokOpAnd:           {"op:and", ClassNone},
	TokOpOr:            {"op:or", ClassNone},
	TokOpEq:            {"op:eq", ClassNone},
	TokOpNe:            {"op:ne", ClassNone},
	TokOpLt:            {"op:lt", ClassNone},
	TokOpLe:            {"op:le", ClassNone},
	TokOpGt:            {"op:gt", ClassNone},
	TokOpGe:            {"op:ge", ClassNone},
	TokOpIs:            {"op:is", ClassNone},
	TokOpIsNot:         {"op:is_not", ClassNone},
	TokOpIn:            {"op:in", ClassNone},
	TokOpNotIn:         {"op:not_in", ClassNone},
	TokOpTernary:       {"op:ternary", ClassNone},
	TokOpSpread:        {"op:spread", ClassNone},
	TokOpUnpack:        {"op:unpack", ClassNum},
	TokOpAwait:         {"op:await", ClassNone},
	TokOpYield:         {"op:yield", ClassBool},
	TokOpYieldFrom:     {"op:yield_from", ClassNone},
	TokOpDelete:        {"op:delete", ClassNone},
	TokOpTypeof:        {"op:typeof", ClassNone},
	TokOpInstanceof:    {"op:instanceof", ClassNone},
	TokOpNew:           {"op:new", ClassNone},
	TokOpChain:         {"op:chain", ClassNum},
	TokOpPipe:          {"op:pipe", ClassNone},
	TokOpCompose:       {"op:compose", ClassNone},
	TokOpRange:         {"op:range", ClassNone},
	TokOpConcat:        {"op:concat", ClassNone},
	TokOpCoalesce:      {"op:coalesce", ClassNone},
	TokOpOptionalChain: {"op:optional_chain", ClassNone},

	TokFlowIf:       {"flow:if", ClassNone},
	TokFlowElif:     {"flow:elif", ClassNone},
	TokFlowElse:     {"flow:else", ClassNone},
	TokFlowFor:      {"flow:for", ClassNone},
	TokFlowForEach:  {"flow:for_each", ClassNone},
	TokFlowWhile:    {"flow:while", ClassNone},
	TokFlowDoWhile:  {"flow:do_while", ClassNone},
	TokFlowBreak:    {"flow:break", ClassNone},
	TokFlowContinue: {"flow:continue", ClassNone},
	TokFlowReturn:   {"flow:return", ClassBool},
	TokFlowRaise:    {"flow:raise", ClassBool},
	TokFlowTry:      {"flow:try", ClassNone},
	TokFlowExcept:   {"flow:except", ClassNone},
	TokFlowFinally:  {"flow:finally", ClassNone},
	TokFlowWith:     {"flow:with", ClassNum},
	TokFlowMatch:    {"flow:match", ClassNum},
	TokFlowCase:     {"flow:case", ClassNone},
	TokFlowDefault:  {"flow:default", ClassNone},
	TokFlowSwitch:   {"flow:switch", ClassNum},
	TokFlowGoto:     {"flow:goto", ClassID},
	TokFlowLabel:    {"flow:label", ClassID},
	TokFlowPass:     {"flow:pass", ClassNone},
	TokFlowAssert:   {"flow:assert", ClassBool},
	TokFlowDefer:    {"flow:defer", ClassNone},
	TokFlowGuard:    {"flow:guard", ClassNone},
	TokFlowRetry:    {"flow:retry", ClassNone},
	TokFlowThrow:    {"flow:throw", ClassNone},
	TokFlowRethrow:  {"flow:rethrow", ClassNone},
	TokFlowHalt:     {"flow:halt", ClassNone},
	TokFlowResume:   {"flow:resume", ClassNone},
	TokFlowSelect:   {"flow:select", ClassNum},
	TokFlowSpawn:    {"flow:spawn", ClassNone},
	TokFlowJoin:     {"flow:join", ClassNone},

	TokStructIdentifier:       {"structure:identifier", ClassID},
	TokStructParameter:        {"structure:parameter", ClassID},
	TokStructQualifier:        {"structure:qualifier", ClassID},
	TokStructField:            {"structure:field", ClassID},
	TokStructKey:              {"structure:key", ClassStr},
	TokStructKeywordArgument:  {"structure:keyword_argument", ClassID},
	TokStructTypeHint:         {"structure:type_hint", ClassID},
	TokStructIndex:            {"structure:index", ClassNum},
	TokStructBlockStart:       {"structure:block_start", ClassNone},
	TokStructBlockEnd:         {"structure:block_end", ClassNone},
	TokStructParenOpen:        {"structure:paren_open", ClassNone},
	TokStructParenClose:       {"structure:paren_close", ClassNone},
	TokStructListStart:        {"structure:list_start", ClassNone},
	TokStructListEnd:          {"structure:list_end", ClassNone},
	TokStructMapStart:         {"structure:map_start", ClassNone},
	TokStructMapEnd:           {"structure:map_end", ClassNone},
	TokStructSetStart:         {"structure:set_start", ClassNone},
	TokStructSetEnd:           {"structure:set_end", ClassNone},
	TokStructTupleStart:       {"structure:tuple_start", ClassNone},
	TokStructTupleEnd:         {"structure:tuple_end", ClassNone},
	TokStructSeparator:        {"structure:separator", ClassNone},
	TokStructTerminator:       {"structure:terminator", ClassNone},
	TokStructArrow:            {"structure:arrow", ClassNone},
	TokStructColon:            {"structure:colon", ClassNone},
	TokStructComma:            {"structure:comma", ClassNone},
	TokStructDot:              {"structure:dot", ClassNone},
	TokStructEllipsis:         {"structure:ellipsis", ClassNone},
	TokStructDefaultValue:     {"structure:default_value", ClassNone},
	TokStructPositionalMarker: {"structure:positional_marker", ClassNone},
	TokStructVariadicArgs:     {"structure:variadic_args", ClassID},
	TokStructVariadicKwargs:   {"structure:variadic_kwargs", ClassID},
	TokStructSpread:           {"structure:spread", ClassNone},

	TokLitInt:            {"literal:int", ClassNum},
	TokLitFloat:          {"literal:float", ClassNum},
	TokLitComplex:        {"literal:complex", ClassOther},
	TokLitString:         {"literal:string", ClassStr},
	TokLitFString:        {"literal:fstring", ClassStr},
	TokLitRawString:      {"literal:raw_string", ClassStr},
	TokLitByteString:     {"literal:byte_string", ClassStr},
	TokLitChar:           {"literal:char", ClassStr},
	TokLitBool:           {"literal:bool", ClassBool},
	TokLitNone:           {"literal:none", ClassNone},
	TokLitNull:           {"literal:null", ClassNone},
	TokLitUndefined:      {"literal:undefined", ClassNone},
	TokLitList:           {"literal:list", ClassNum},
	TokLitTuple:          {"literal:tuple", ClassNum},
	TokLitSet:            {"literal:set", ClassNum},
	TokLitDict:           {"literal:dict", ClassNum},
	TokLitRegex:          {"literal:regex", ClassStr},
	TokLitDatetime:       {"literal:datetime", ClassStr},
	TokLitDuration:       {"literal:duration", ClassNum},
	TokLitDecimal:        {"literal:decimal", ClassStr},
	TokLitBigInt:         {"literal:big_int", ClassStr},
	TokLitTemplateString: {"literal:template_string", ClassStr},
	TokLitUnit:           {"literal:unit", ClassNone},
	TokLitSymbol:         {"literal:symbol", ClassID},
	TokLitUUID:           {"literal:uuid", ClassStr},
	TokLitPath:           {"literal:path", ClassStr},

	TokMetaUnknown:           {"meta:unknown", ClassOther},
	TokMetaStreamStart:       {"meta:stream_start", ClassNone},
	TokMetaStreamEnd:         {"meta:stream_end", ClassNone},
	TokMetaVersionHeader:     {"meta:version_header", ClassStr},
	TokMetaDictionaryVersion: {"meta:dictionary_version", ClassStr},
	TokMetaComment:           {"meta:comment", ClassStr},
	TokMetaDocstring:         {"meta:docstring", ClassStr},
	TokMetaPragma:            {"meta:pragma", ClassStr},
	TokMetaShebang:           {"meta:shebang", ClassStr},
	TokMetaEncodingMarker:    {"meta:encoding_marker", ClassStr},
	TokMetaWhitespace:        {"meta:whitespace", ClassNone},
	TokMetaNewline:           {"meta:newline", ClassNone},
	TokMetaIndent:            {"meta:indent", ClassNum},
	TokMetaDedent:            {"meta:dedent", ClassNone},
	TokMetaEOF:               {"meta:eof", ClassNone},
	TokMetaErrorRecovery:     {"meta:error_recovery", ClassOther},
	TokMetaPlaceholder:       {"meta:placeholder", ClassNone},
	TokMetaExtensionA:        {"meta:extension_a", ClassOther},
	TokMetaExtensionB:        {"meta:extension_b", ClassOther},
	TokMetaExtensionC:        {"meta:extension_c", ClassOther},
}

// Count returns the vocabulary size (the entropy coder alphabet size).
func Count() int { return int(tokenCount) }

// Valid reports whether t is a member of the vocabulary.
func Valid(t Token) bool { return t < tokenCount }

// Class returns the payload class for t. Out-of-vocabulary tokens map to
// ClassOther, matching the meta:unknown fallback.
func Class(t Token) PayloadClass {
	if !Valid(t) {
		return ClassOther
	}
	return tokenDefs[t].class
}

// Key returns the dictionary key for t (e.g. "flow:return").
func (t Token) Key() string {
	if !Valid(t) {
		return tokenDefs[TokMetaUnknown].key
	}
	return tokenDefs[t].key
}

func (t Token) String() string { return t.Key() }

// Category returns the portion of the key before the colon.
func (t Token) Category() string {
	key := t.Key()
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
