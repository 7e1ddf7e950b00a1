package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiteralParse(t *testing.T) {
	lit := NewLiteral("foo", "bar")
	res, err := lit.Parse("foo rest")
	require.Nil(t, err)
	assert.Equal(t, 3, res.CharRead)

	_, err = lit.Parse("baz")
	require.NotNil(t, err)
	assert.Equal(t, KindIllegalLiteralArgument, err.Kind)
}

func TestLiteralRejectsSpace(t *testing.T) {
	assert.Panics(t, func() {
		NewLiteral("has space")
	})
}

func TestIntegerParse(t *testing.T) {
	n := NewInteger("x")
	res, err := n.Parse("42 rest")
	require.Nil(t, err)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 2, res.CharRead)

	_, err = n.Parse("notanumber")
	require.NotNil(t, err)
	assert.Equal(t, KindIllegalArgument, err.Kind)
}

func TestIntegerRange(t *testing.T) {
	n := NewInteger("x").InRange(0, 10)
	_, err := n.Parse("20")
	require.NotNil(t, err)
	assert.Equal(t, KindNumberOutOfRange, err.Kind)

	res, err := n.Parse("5")
	require.Nil(t, err)
	assert.Equal(t, 5, res.Value)
}

func TestNumberParsesIntOrFloat(t *testing.T) {
	n := NewNumber("x")
	res, err := n.Parse("5")
	require.Nil(t, err)
	assert.Equal(t, 5, res.Value)

	res, err = n.Parse("5.5")
	require.Nil(t, err)
	assert.Equal(t, 5.5, res.Value)
}

func TestTextParse(t *testing.T) {
	n := NewText("x")
	res, _ := n.Parse("hello world")
	assert.Equal(t, "hello", res.Value)
	assert.Equal(t, 5, res.CharRead)
}

func TestQuotableTextUnquoted(t *testing.T) {
	n := NewQuotableText("x")
	res, err := n.Parse("hello world")
	require.Nil(t, err)
	assert.Equal(t, "hello", res.Value)
}

func TestQuotableTextQuoted(t *testing.T) {
	n := NewQuotableText("x")
	res, err := n.Parse(`"hello world" rest`)
	require.Nil(t, err)
	assert.Equal(t, "hello world", res.Value)
	assert.Equal(t, 13, res.CharRead)
}

func TestQuotableTextEscapes(t *testing.T) {
	n := NewQuotableText("x")
	res, err := n.Parse(`"a\"b\\c"`)
	require.Nil(t, err)
	assert.Equal(t, `a"b\c`, res.Value)
}

func TestQuotableTextEmptyRejected(t *testing.T) {
	n := NewQuotableText("x")
	_, err := n.Parse(`""`)
	require.NotNil(t, err)
	assert.Equal(t, KindEmptyText, err.Kind)
}

func TestQuotableTextEmptyAllowed(t *testing.T) {
	n := NewQuotableText("x").AllowEmpty()
	res, err := n.Parse(`""`)
	require.Nil(t, err)
	assert.Equal(t, "", res.Value)
}

func TestQuotableTextUnclosed(t *testing.T) {
	n := NewQuotableText("x")
	_, err := n.Parse(`"unterminated`)
	require.NotNil(t, err)
	assert.Equal(t, KindIllegalArgument, err.Kind)
}

func TestGreedyTextConsumesAll(t *testing.T) {
	n := NewGreedyText("x")
	res, err := n.Parse("all of this text")
	require.Nil(t, err)
	assert.Equal(t, "all of this text", res.Value)
	assert.Equal(t, len("all of this text"), res.CharRead)
}

func TestThenRoutesLiteralAndArgumentChildren(t *testing.T) {
	root := NewLiteral("root")
	root.Then(NewLiteral("sub"))
	root.Then(NewInteger("n"))
	assert.Len(t, root.literalChildren(), 1)
	assert.Len(t, root.argumentChildren(), 1)
}

func TestRedirectRejectsNodeWithChildren(t *testing.T) {
	root := NewLiteral("root")
	root.Then(NewLiteral("sub"))
	assert.Panics(t, func() {
		root.Redirects(NewLiteral("other"))
	})
}

func TestThenRejectsRedirectedNode(t *testing.T) {
	root := NewLiteral("root")
	root.Redirects(NewLiteral("other"))
	assert.Panics(t, func() {
		root.Then(NewLiteral("sub"))
	})
}
