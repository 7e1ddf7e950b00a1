package command

import "strings"

// ParseResult is what a node's Parse produces on success: the value to
// store in the dispatch context (nil for nodes that don't store anything,
// such as Literal) and how many characters of the input it consumed.
type ParseResult struct {
	Value    any
	CharRead int
}

// Context accumulates named values as the dispatcher descends the tree.
// Literal nodes never write to it; every other node type stores its parsed
// value under its own name.
type Context map[string]any

// Requirement gates whether a source may descend into a node at all.
type Requirement func(source CommandSource) bool

// Callback runs when the command line is fully consumed at this node.
type Callback func(source CommandSource, ctx Context) error

// Node is an argument node in the command tree. Concrete node types
// (Literal, Integer, Float, Number, Text, QuotableText, GreedyText) embed
// *nodeCore and add their own Parse.
type Node interface {
	Parse(text string) (ParseResult, *SyntaxError)
	Name() string
	storesValue() bool
	hasChildren() bool
	literalChildren() []Node
	argumentChildren() []Node
	redirectTarget() Node
	requirementFn() Requirement
	callbackFn() Callback

	// Then registers a child node, routing it into the literal or
	// argument bucket by its concrete type. Panics with
	// *NodeOperationError if this node has already been redirected.
	Then(child Node) Node
	// Runs sets the node's callback, invoked when the command line ends
	// exactly here.
	Runs(fn Callback) Node
	// Requires sets the node's requirement predicate.
	Requires(fn Requirement) Node
	// Redirects this node's continuation to another node's children.
	// Panics with *NodeOperationError if this node already has children.
	Redirects(target Node) Node
}

// nodeCore holds the state every node type shares. self lets the builder
// methods return the concrete node's own interface value instead of a bare
// *nodeCore, so fluent chains keep the caller's type information where it
// matters (it never does, since everything downstream only needs Node, but
// it keeps panics attributing to the right concrete node).
type nodeCore struct {
	self        Node
	name        string
	literals    []Node
	arguments   []Node
	callback    Callback
	requirement Requirement
	redirect    Node
}

func newNodeCore(self Node, name string) nodeCore {
	return nodeCore{self: self, name: name}
}

func (n *nodeCore) Name() string                { return n.name }
func (n *nodeCore) storesValue() bool           { return n.name != "" }
func (n *nodeCore) hasChildren() bool           { return len(n.literals)+len(n.arguments) > 0 }
func (n *nodeCore) literalChildren() []Node     { return n.literals }
func (n *nodeCore) argumentChildren() []Node    { return n.arguments }
func (n *nodeCore) redirectTarget() Node        { return n.redirect }
func (n *nodeCore) requirementFn() Requirement  { return n.requirement }
func (n *nodeCore) callbackFn() Callback        { return n.callback }

func (n *nodeCore) Then(child Node) Node {
	if n.redirect != nil {
		panic(&NodeOperationError{Message: "redirected node is not allowed to add child nodes"})
	}
	if _, ok := child.(*Literal); ok {
		n.literals = append(n.literals, child)
	} else {
		n.arguments = append(n.arguments, child)
	}
	return n.self
}

func (n *nodeCore) Runs(fn Callback) Node {
	n.callback = fn
	return n.self
}

func (n *nodeCore) Requires(fn Requirement) Node {
	n.requirement = fn
	return n.self
}

func (n *nodeCore) Redirects(target Node) Node {
	if n.hasChildren() {
		panic(&NodeOperationError{Message: "node with children is not allowed to be redirected"})
	}
	n.redirect = target
	return n.self
}

// --- Literal ---

// Literal matches one of a fixed set of exact tokens. It stores nothing and
// is the only node type allowed at the root of a command tree.
type Literal struct {
	nodeCore
	literals map[string]struct{}
}

// NewLiteral builds a Literal accepting any of the given tokens as
// equivalent spellings of the same command word (e.g. aliases).
func NewLiteral(tokens ...string) *Literal {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if strings.ContainsRune(t, ' ') {
			panic(&NodeOperationError{Message: "literal token cannot contain a space: " + t})
		}
		set[t] = struct{}{}
	}
	l := &Literal{literals: set}
	l.nodeCore = newNodeCore(l, "")
	return l
}

func (l *Literal) Parse(text string) (ParseResult, *SyntaxError) {
	arg := getElement(text)
	if _, ok := l.literals[arg]; ok {
		return ParseResult{Value: nil, CharRead: len(arg)}, nil
	}
	return ParseResult{}, IllegalLiteralArgument("invalid literal", len(arg))
}

// --- Number nodes ---

type numberRange struct {
	hasMin, hasMax bool
	min, max       float64
}

func (r numberRange) check(value float64) bool {
	if r.hasMin && value < r.min {
		return false
	}
	if r.hasMax && value > r.max {
		return false
	}
	return true
}

// Number accepts either an integer or a floating-point literal.
type Number struct {
	nodeCore
	rng numberRange
}

// NewNumber builds a Number argument node.
func NewNumber(name string) *Number {
	n := &Number{}
	n.nodeCore = newNodeCore(n, name)
	return n
}

// InRange constrains accepted values to [min, max], inclusive.
func (n *Number) InRange(min, max float64) *Number {
	n.rng = numberRange{hasMin: true, hasMax: true, min: min, max: max}
	return n
}

func (n *Number) Parse(text string) (ParseResult, *SyntaxError) {
	if iv, read := getInt(text); iv != nil {
		if !n.rng.check(float64(*iv)) {
			return ParseResult{}, NumberOutOfRange("value out of range", read)
		}
		return ParseResult{Value: *iv, CharRead: read}, nil
	}
	fv, read := getFloat(text)
	if fv == nil {
		return ParseResult{}, IllegalArgument("invalid number", read)
	}
	if !n.rng.check(*fv) {
		return ParseResult{}, NumberOutOfRange("value out of range", read)
	}
	return ParseResult{Value: *fv, CharRead: read}, nil
}

// Integer accepts only base-10 integers.
type Integer struct {
	nodeCore
	rng numberRange
}

// NewInteger builds an Integer argument node.
func NewInteger(name string) *Integer {
	n := &Integer{}
	n.nodeCore = newNodeCore(n, name)
	return n
}

// InRange constrains accepted values to [min, max], inclusive.
func (n *Integer) InRange(min, max int) *Integer {
	n.rng = numberRange{hasMin: true, hasMax: true, min: float64(min), max: float64(max)}
	return n
}

func (n *Integer) Parse(text string) (ParseResult, *SyntaxError) {
	iv, read := getInt(text)
	if iv == nil {
		return ParseResult{}, IllegalArgument("invalid integer", read)
	}
	if !n.rng.check(float64(*iv)) {
		return ParseResult{}, NumberOutOfRange("value out of range", read)
	}
	return ParseResult{Value: *iv, CharRead: read}, nil
}

// Float accepts base-10 floating point numbers.
type Float struct {
	nodeCore
	rng numberRange
}

// NewFloat builds a Float argument node.
func NewFloat(name string) *Float {
	n := &Float{}
	n.nodeCore = newNodeCore(n, name)
	return n
}

// InRange constrains accepted values to [min, max], inclusive.
func (n *Float) InRange(min, max float64) *Float {
	n.rng = numberRange{hasMin: true, hasMax: true, min: min, max: max}
	return n
}

func (n *Float) Parse(text string) (ParseResult, *SyntaxError) {
	fv, read := getFloat(text)
	if fv == nil {
		return ParseResult{}, IllegalArgument("invalid float", read)
	}
	if !n.rng.check(*fv) {
		return ParseResult{}, NumberOutOfRange("value out of range", read)
	}
	return ParseResult{Value: *fv, CharRead: read}, nil
}

// --- Text nodes ---

// Text matches a single whitespace-free word.
type Text struct {
	nodeCore
}

// NewText builds a Text argument node.
func NewText(name string) *Text {
	n := &Text{}
	n.nodeCore = newNodeCore(n, name)
	return n
}

func (n *Text) Parse(text string) (ParseResult, *SyntaxError) {
	arg := getElement(text)
	return ParseResult{Value: arg, CharRead: len(arg)}, nil
}

const (
	quoteChar  = '"'
	escapeChar = '\\'
)

// QuotableText matches a single word, or, if the input starts with a
// double quote, a quoted string supporting backslash escapes of `\` and
// `"`.
type QuotableText struct {
	nodeCore
	allowEmpty bool
}

// NewQuotableText builds a QuotableText argument node.
func NewQuotableText(name string) *QuotableText {
	n := &QuotableText{}
	n.nodeCore = newNodeCore(n, name)
	return n
}

// AllowEmpty permits a quoted empty string ("") to parse successfully.
func (n *QuotableText) AllowEmpty() *QuotableText {
	n.allowEmpty = true
	return n
}

func (n *QuotableText) Parse(text string) (ParseResult, *SyntaxError) {
	if len(text) == 0 || text[0] != quoteChar {
		arg := getElement(text)
		return ParseResult{Value: arg, CharRead: len(arg)}, nil
	}

	var collected strings.Builder
	escaped := false
	i := 1
	for i < len(text) {
		ch := text[i]
		switch {
		case escaped:
			if ch == escapeChar || ch == quoteChar {
				collected.WriteByte(ch)
				escaped = false
			} else {
				return ParseResult{}, IllegalArgument("illegal usage of escapes", i+1)
			}
		case ch == escapeChar:
			escaped = true
		case ch == quoteChar:
			result := collected.String()
			if !n.allowEmpty && len(result) == 0 {
				return ParseResult{}, EmptyText("empty text is not allowed", i+1)
			}
			return ParseResult{Value: result, CharRead: i + 1}, nil
		default:
			collected.WriteByte(ch)
		}
		i++
	}
	return ParseResult{}, IllegalArgument("unclosed quoted string", len(text))
}

// GreedyText consumes every remaining character, unparsed.
type GreedyText struct {
	nodeCore
}

// NewGreedyText builds a GreedyText argument node.
func NewGreedyText(name string) *GreedyText {
	n := &GreedyText{}
	n.nodeCore = newNodeCore(n, name)
	return n
}

func (n *GreedyText) Parse(text string) (ParseResult, *SyntaxError) {
	return ParseResult{Value: text, CharRead: len(text)}, nil
}
