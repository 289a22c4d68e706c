package ast

import (
	"path/filepath"
	"strings"
)

// NodeKind classifies a graph node. Language-specific kinds are extra values
// of the same type, never separate per-language types.
type NodeKind string

const (
	KindModule    NodeKind = "Module"
	KindClass     NodeKind = "Class"
	KindFunction  NodeKind = "Function"
	KindMethod    NodeKind = "Method"
	KindParameter NodeKind = "Parameter"
	KindVariable  NodeKind = "Variable"
	KindCall      NodeKind = "Call"
	KindImport    NodeKind = "Import"
	KindLiteral   NodeKind = "Literal"
	KindRoute     NodeKind = "Route"
	KindSQLQuery  NodeKind = "SqlQuery"
	KindEvent     NodeKind = "Event"
	KindUnknown   NodeKind = "Unknown"

	// Language extensions.
	KindInterface   NodeKind = "Interface"
	KindEnum        NodeKind = "Enum"
	KindStruct      NodeKind = "Struct"
	KindTrait       NodeKind = "Trait"
	KindPackage     NodeKind = "Package"
	KindAnnotation  NodeKind = "Annotation"
	KindConstructor NodeKind = "Constructor"
	KindField       NodeKind = "Field"
	KindLambda      NodeKind = "Lambda"
	KindMacro       NodeKind = "Macro"
	KindLifetime    NodeKind = "Lifetime"
	KindNamespace   NodeKind = "Namespace"
	KindTypeAlias   NodeKind = "TypeAlias"
)

var nodeKinds = map[NodeKind]struct{}{
	KindModule: {}, KindClass: {}, KindFunction: {}, KindMethod: {}, KindParameter: {},
	KindVariable: {}, KindCall: {}, KindImport: {}, KindLiteral: {}, KindRoute: {},
	KindSQLQuery: {}, KindEvent: {}, KindUnknown: {}, KindInterface: {}, KindEnum: {},
	KindStruct: {}, KindTrait: {}, KindPackage: {}, KindAnnotation: {}, KindConstructor: {},
	KindField: {}, KindLambda: {}, KindMacro: {}, KindLifetime: {}, KindNamespace: {},
	KindTypeAlias: {},
}

// Valid reports whether k is a known kind.
func (k NodeKind) Valid() bool {
	_, ok := nodeKinds[k]
	return ok
}

// IsCallable reports whether nodes of this kind can be the source of Calls edges.
func (k NodeKind) IsCallable() bool {
	switch k {
	case KindFunction, KindMethod, KindConstructor, KindLambda:
		return true
	}
	return false
}

// IsType reports whether the kind declares a type.
func (k NodeKind) IsType() bool {
	switch k {
	case KindClass, KindInterface, KindEnum, KindStruct, KindTrait, KindTypeAlias:
		return true
	}
	return false
}

// ParseNodeKind looks up a kind by name, case-insensitively.
func ParseNodeKind(s string) (NodeKind, bool) {
	for k := range nodeKinds {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return KindUnknown, false
}

// EdgeKind classifies a relationship between two nodes.
type EdgeKind string

const (
	EdgeCalls      EdgeKind = "CALLS"
	EdgeReads      EdgeKind = "READS"
	EdgeWrites     EdgeKind = "WRITES"
	EdgeImports    EdgeKind = "IMPORTS"
	EdgeEmits      EdgeKind = "EMITS"
	EdgeRoutesTo   EdgeKind = "ROUTES_TO"
	EdgeRaises     EdgeKind = "RAISES"
	EdgeExtends    EdgeKind = "EXTENDS"
	EdgeImplements EdgeKind = "IMPLEMENTS"

	// Extensions.
	EdgeContains   EdgeKind = "CONTAINS"
	EdgeAnnotates  EdgeKind = "ANNOTATES"
	EdgeReferences EdgeKind = "REFERENCES"
	EdgeDefines    EdgeKind = "DEFINES"
)

var edgeKinds = map[EdgeKind]struct{}{
	EdgeCalls: {}, EdgeReads: {}, EdgeWrites: {}, EdgeImports: {}, EdgeEmits: {},
	EdgeRoutesTo: {}, EdgeRaises: {}, EdgeExtends: {}, EdgeImplements: {},
	EdgeContains: {}, EdgeAnnotates: {}, EdgeReferences: {}, EdgeDefines: {},
}

// Valid reports whether k is a known edge kind.
func (k EdgeKind) Valid() bool {
	_, ok := edgeKinds[k]
	return ok
}

// ParseEdgeKind looks up an edge kind by name, case-insensitively.
func ParseEdgeKind(s string) (EdgeKind, bool) {
	for k := range edgeKinds {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

// Language identifies a source language.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangGo         Language = "go"
	LangJava       Language = "java"
	LangRust       Language = "rust"
	LangC          Language = "c"
	LangRuby       Language = "ruby"
	LangPHP        Language = "php"
	LangUnknown    Language = "unknown"
)

var extensionLanguages = map[string]Language{
	".py":   LangPython,
	".pyi":  LangPython,
	".js":   LangJavaScript,
	".mjs":  LangJavaScript,
	".cjs":  LangJavaScript,
	".jsx":  LangJavaScript,
	".ts":   LangTypeScript,
	".mts":  LangTypeScript,
	".cts":  LangTypeScript,
	".tsx":  LangTSX,
	".go":   LangGo,
	".java": LangJava,
	".rs":   LangRust,
	".c":    LangC,
	".h":    LangC,
	".rb":   LangRuby,
	".php":  LangPHP,
}

// LanguageFromExtension maps a file extension (with leading dot) to a language.
func LanguageFromExtension(ext string) Language {
	if lang, ok := extensionLanguages[strings.ToLower(ext)]; ok {
		return lang
	}
	return LangUnknown
}

// LanguageFromPath maps a file path to a language by its extension.
func LanguageFromPath(path string) Language {
	return LanguageFromExtension(filepath.Ext(path))
}

// Extensions returns every extension with a known language.
func Extensions() []string {
	exts := make([]string, 0, len(extensionLanguages))
	for ext := range extensionLanguages {
		exts = append(exts, ext)
	}
	return exts
}
