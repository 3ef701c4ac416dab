package compile

import (
	"context"
	"hash/fnv"
	"path"
	"sync"
	"unsafe"

	sitter "github.com/alexaandru/go-tree-sitter-bare"
	"github.com/src-d/enry/v2"

	"github.com/alexaandru/go-sitter-forest/javascript"
	"github.com/alexaandru/go-sitter-forest/typescript"

	"github.com/Sumatoshi-tech/liveedit/pkg/script"
)

// grammarFuncs maps enry language names to tree-sitter grammars.
var grammarFuncs = map[string]func() unsafe.Pointer{
	"JavaScript": javascript.GetLanguage,
	"TypeScript": typescript.GetLanguage,
}

// defaultLanguage is used when detection yields a language without a
// registered grammar; the engine hosts JavaScript-family scripts, so that is
// the sensible fallback for extensionless script names.
const defaultLanguage = "JavaScript"

// functionNodeTypes are the grammar node types that produce a function
// literal of their own.
var functionNodeTypes = map[string]bool{
	"function_declaration":           true,
	"function_expression":            true,
	"function":                       true,
	"generator_function":             true,
	"generator_function_declaration": true,
	"arrow_function":                 true,
	"method_definition":              true,
}

// TreeSitter is the reference Compiler: it parses new source with the
// matching tree-sitter grammar and emits the function-literal tree in
// pre-order. Parsers are pooled per language; grammar initialization is
// deferred until the first compile for that language.
type TreeSitter struct {
	mu    sync.Mutex
	langs map[string]*languageEntry
}

type languageEntry struct {
	lang *sitter.Language
	pool sync.Pool
}

// NewTreeSitter creates the tree-sitter backed compiler.
func NewTreeSitter() *TreeSitter {
	return &TreeSitter{langs: make(map[string]*languageEntry)}
}

// language resolves the grammar for a script, detecting the language from
// the script name and source content.
func (c *TreeSitter) language(name, source string) *languageEntry {
	detected := enry.GetLanguage(path.Base(name), []byte(source))
	if _, ok := grammarFuncs[detected]; !ok {
		detected = defaultLanguage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.langs[detected]; ok {
		return entry
	}

	lang := sitter.NewLanguage(grammarFuncs[detected]())
	entry := &languageEntry{lang: lang}
	entry.pool = sync.Pool{
		New: func() any {
			p := sitter.NewParser()
			p.SetLanguage(lang)

			return p
		},
	}
	c.langs[detected] = entry

	return entry
}

// Compile parses the source and returns its function-literal infos in
// pre-order. A source that does not parse yields a *Error.
func (c *TreeSitter) Compile(name, source string) ([]FunctionInfo, error) {
	entry := c.language(name, source)

	parser, ok := entry.pool.Get().(*sitter.Parser)
	if !ok {
		parser = sitter.NewParser()
		parser.SetLanguage(entry.lang)
	}
	defer entry.pool.Put(parser)

	content := []byte(source)

	tree, err := parser.ParseString(context.Background(), nil, content)
	if err != nil {
		return nil, &Error{ScriptName: name, Msg: err.Error()}
	}

	root := tree.RootNode()
	if root.IsNull() {
		return nil, &Error{ScriptName: name, Msg: "empty parse tree"}
	}

	if root.HasError() {
		return nil, &Error{
			ScriptName: name,
			Offset:     firstErrorOffset(root),
			Msg:        "syntax error",
		}
	}

	infos := []FunctionInfo{{
		Start:       0,
		End:         len(source),
		LiteralID:   0,
		ParentIndex: -1,
		Code:        codeFor(content, 0, len(source)),
	}}

	childCounter := 0
	collectFunctions(root, content, 0, 1, &childCounter, &infos)

	return infos, nil
}

// collectFunctions walks the syntax tree in document order, appending a
// FunctionInfo for every function literal. Non-function nodes pass the
// current parent through, so nesting depth counts function literals only.
func collectFunctions(n sitter.Node, src []byte, parentIdx, depth int, childCounter *int, infos *[]FunctionInfo) {
	for i := range n.NamedChildCount() {
		child := n.NamedChild(i)
		if child.IsNull() {
			continue
		}

		if !functionNodeTypes[child.Type()] {
			collectFunctions(child, src, parentIdx, depth, childCounter, infos)

			continue
		}

		start := int(child.StartByte())
		end := int(child.EndByte())

		info := FunctionInfo{
			Name:        nameOf(child, src),
			Start:       start,
			End:         end,
			LiteralID:   len(*infos),
			ParentIndex: parentIdx,
			Depth:       depth,
			ChildIndex:  *childCounter,
			Code:        codeFor(src, start, end),
		}

		*childCounter++

		*infos = append(*infos, info)

		nestedCounter := 0
		collectFunctions(child, src, info.LiteralID, depth+1, &nestedCounter, infos)
	}
}

// nameOf extracts the declared name of a function node, or "" for anonymous
// literals.
func nameOf(n sitter.Node, src []byte) string {
	nameNode := n.ChildByFieldName("name")
	if nameNode.IsNull() {
		return ""
	}

	start, end := int(nameNode.StartByte()), int(nameNode.EndByte())
	if start < 0 || end > len(src) || end < start {
		return ""
	}

	return string(src[start:end])
}

// firstErrorOffset returns the byte offset of the first ERROR node, or 0.
func firstErrorOffset(n sitter.Node) int {
	if n.Type() == "ERROR" {
		return int(n.StartByte())
	}

	for i := range n.NamedChildCount() {
		child := n.NamedChild(i)
		if child.IsNull() || !child.HasError() {
			continue
		}

		return firstErrorOffset(child)
	}

	return int(n.StartByte())
}

// codeFor builds the opaque compiled-code object for a source span.
func codeFor(src []byte, start, end int) *script.Code {
	body := src[start:end]

	h := fnv.New64a()
	_, _ = h.Write(body)

	return &script.Code{Body: append([]byte(nil), body...), Fingerprint: h.Sum64()}
}
