// Copyright 2025 James Ross
package server

import (
	"github.com/kafuuchino-desu/mcdr-go/internal/command"
)

// Origin distinguishes where a command line came from, the way Info
// carries origin in spec.md's data model.
type Origin int

const (
	OriginConsole Origin = iota
	OriginPlayer
)

// ReplyFunc delivers a line of text back to whatever issued a command: a
// chat message to a player, or a line to the console's own output stream.
type ReplyFunc func(message string) error

// Info is one structured record emitted by the child-process I/O pump: who
// produced the line (a named player, or the server console itself) and its
// text. Parsing the child server's raw output into these is the pump's
// concern; the façade only dispatches them.
type Info struct {
	Origin  Origin
	Player  string // empty unless Origin is OriginPlayer
	Content string
}

// CommandSource projects the info record onto a command source at the
// given permission level, so a chat line carrying a command prefix can be
// dispatched through the command tree on the speaker's behalf.
func (i Info) CommandSource(perm PermissionLevel, reply ReplyFunc) *Source {
	name := i.Player
	if i.Origin == OriginConsole {
		name = "console"
	}
	return &Source{
		Origin:     i.Origin,
		Name:       name,
		Permission: perm,
		ReplyFn:    reply,
	}
}

// Source is the concrete CommandSource every dispatched command line gets:
// a permission level, a reply channel, and enough identity for requirement
// predicates that gate on origin (e.g. console-only commands).
type Source struct {
	Origin     Origin
	Name       string
	Permission PermissionLevel
	ReplyFn    ReplyFunc
}

var _ command.CommandSource = (*Source)(nil)

// HasPermissionLevel implements command.CommandSource.
func (s *Source) HasPermissionLevel(level int) bool {
	return s.Permission.AtLeast(PermissionLevel(level))
}

// Reply implements command.CommandSource.
func (s *Source) Reply(message string) error {
	if s.ReplyFn == nil {
		return nil
	}
	return s.ReplyFn(message)
}

// IsConsole implements command.CommandSource.
func (s *Source) IsConsole() bool { return s.Origin == OriginConsole }

// RequireLevel builds a command.Requirement gating on a fixed minimum
// permission level, the common case for a command tree node.
func RequireLevel(level PermissionLevel) command.Requirement {
	return func(source command.CommandSource) bool {
		return source.HasPermissionLevel(int(level))
	}
}

// RequireConsole builds a command.Requirement restricting a node to the
// console source only.
func RequireConsole() command.Requirement {
	return func(source command.CommandSource) bool {
		return source.IsConsole()
	}
}
