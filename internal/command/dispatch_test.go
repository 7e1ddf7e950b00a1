package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	level   int
	console bool
	replies []string
}

func (s *fakeSource) HasPermissionLevel(level int) bool { return s.level >= level }
func (s *fakeSource) IsConsole() bool                   { return s.console }

func (s *fakeSource) Reply(message string) error {
	s.replies = append(s.replies, message)
	return nil
}

func buildTestTree() (*Literal, *Context) {
	var captured Context
	root := NewLiteral("mytest")
	root.Then(NewLiteral("foo").Runs(func(source CommandSource, ctx Context) error {
		captured = ctx
		return source.Reply("foo ran")
	}))
	root.Then(NewInteger("count").InRange(0, 100).Runs(func(source CommandSource, ctx Context) error {
		captured = ctx
		return source.Reply("count ran")
	}))
	root.Runs(func(source CommandSource, ctx Context) error {
		captured = ctx
		return source.Reply("root ran")
	})
	return root, &captured
}

func TestExecuteLiteralChild(t *testing.T) {
	root, _ := buildTestTree()
	src := &fakeSource{level: 4}
	err := Execute(root, src, "mytest foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo ran"}, src.replies)
}

func TestExecuteRootCallback(t *testing.T) {
	root, _ := buildTestTree()
	src := &fakeSource{level: 4}
	err := Execute(root, src, "mytest")
	require.NoError(t, err)
	assert.Equal(t, []string{"root ran"}, src.replies)
}

func TestExecuteArgumentChild(t *testing.T) {
	root, captured := buildTestTree()
	src := &fakeSource{level: 4}
	err := Execute(root, src, "mytest 42")
	require.NoError(t, err)
	assert.Equal(t, []string{"count ran"}, src.replies)
	assert.Equal(t, 42, (*captured)["count"])
}

func TestExecuteUnknownRoot(t *testing.T) {
	root, _ := buildTestTree()
	src := &fakeSource{level: 4}
	err := Execute(root, src, "nope")
	require.Error(t, err)
	se, ok := err.(*SyntaxError)
	require.True(t, ok)
	assert.Equal(t, KindUnknownRootArgument, se.Kind)
}

func TestExecuteUnknownArgument(t *testing.T) {
	root, _ := buildTestTree()
	src := &fakeSource{level: 4}
	err := Execute(root, src, "mytest bogus extra")
	require.Error(t, err)
}

func TestExecutePermissionDenied(t *testing.T) {
	root := NewLiteral("mytest")
	root.Then(NewLiteral("admin").
		Requires(func(source CommandSource) bool { return source.HasPermissionLevel(4) }).
		Runs(func(source CommandSource, ctx Context) error { return source.Reply("ok") }))

	src := &fakeSource{level: 0}
	err := Execute(root, src, "mytest admin")
	require.Error(t, err)
	se, ok := err.(*SyntaxError)
	require.True(t, ok)
	assert.Equal(t, KindPermissionDenied, se.Kind)
}

func TestExecuteNumberOutOfRange(t *testing.T) {
	root, _ := buildTestTree()
	src := &fakeSource{level: 4}
	err := Execute(root, src, "mytest 999")
	require.Error(t, err)
	se, ok := err.(*SyntaxError)
	require.True(t, ok)
	assert.Equal(t, KindNumberOutOfRange, se.Kind)
}

func TestExecuteRedirect(t *testing.T) {
	shared := NewLiteral("shared-target")
	var ran bool
	shared.Then(NewLiteral("ping").Runs(func(source CommandSource, ctx Context) error {
		ran = true
		return nil
	}))

	root := NewLiteral("mytest")
	alias := NewLiteral("alias")
	alias.Redirects(shared)
	root.Then(alias)

	src := &fakeSource{level: 4}
	err := Execute(root, src, "mytest alias ping")
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestExecuteFailPositionHint(t *testing.T) {
	root, _ := buildTestTree()
	src := &fakeSource{level: 4}
	err := Execute(root, src, "mytest abc")
	require.Error(t, err)
	se, ok := err.(*SyntaxError)
	require.True(t, ok)
	assert.NotEmpty(t, se.FailPositionHint)
}
