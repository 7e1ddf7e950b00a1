// Copyright 2025 James Ross
// Package command implements the argument-node command tree: a builder API
// for describing command syntax plus the recursive dispatcher that parses
// and executes a raw command line against it.
package command

import "fmt"

// ErrorKind distinguishes the command-syntax error family without requiring
// callers to type-switch on concrete error structs.
type ErrorKind int

const (
	KindIllegalArgument ErrorKind = iota
	KindIllegalLiteralArgument
	KindNumberOutOfRange
	KindEmptyText
	KindUnknownCommand
	KindUnknownArgument
	KindUnknownRootArgument
	KindPermissionDenied
)

func (k ErrorKind) String() string {
	switch k {
	case KindIllegalArgument:
		return "illegal_argument"
	case KindIllegalLiteralArgument:
		return "illegal_literal_argument"
	case KindNumberOutOfRange:
		return "number_out_of_range"
	case KindEmptyText:
		return "empty_text"
	case KindUnknownCommand:
		return "unknown_command"
	case KindUnknownArgument:
		return "unknown_argument"
	case KindUnknownRootArgument:
		return "unknown_root_argument"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// SyntaxError is the error raised while parsing or dispatching a command
// line. CharRead is how many characters of the *current* remaining text the
// failing node consumed before giving up; FailPositionHint is filled in by
// the dispatcher as the error propagates, pointing at the absolute position
// in the original command line (rendered as "command<--").
type SyntaxError struct {
	Kind             ErrorKind
	Message          string
	CharRead         int
	FailPositionHint string
}

func (e *SyntaxError) Error() string {
	if e.FailPositionHint != "" {
		return fmt.Sprintf("%s: %s (at %s)", e.Kind, e.Message, e.FailPositionHint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// SetFailPositionHint records where, in the original command line, this
// error surfaced. Safe to call multiple times; the dispatcher only calls it
// once, at the frame that caught the parse failure.
func (e *SyntaxError) SetFailPositionHint(hint string) {
	e.FailPositionHint = hint
}

func newSyntaxError(kind ErrorKind, message string, charRead int) *SyntaxError {
	return &SyntaxError{Kind: kind, Message: message, CharRead: charRead}
}

// IllegalArgument is raised when a parser cannot make sense of its input.
func IllegalArgument(message string, charRead int) *SyntaxError {
	return newSyntaxError(KindIllegalArgument, message, charRead)
}

// IllegalLiteralArgument is raised when a Literal node's token doesn't match
// any of its accepted literals. It is the one syntax error dispatch treats
// as recoverable: siblings are still tried.
func IllegalLiteralArgument(message string, charRead int) *SyntaxError {
	return newSyntaxError(KindIllegalLiteralArgument, message, charRead)
}

// NumberOutOfRange is raised when a number parses fine but falls outside the
// node's configured [min, max] bound.
func NumberOutOfRange(message string, charRead int) *SyntaxError {
	return newSyntaxError(KindNumberOutOfRange, message, charRead)
}

// EmptyText is raised by QuotableText when an empty quoted string is parsed
// and the node has not opted into AllowEmpty.
func EmptyText(message string, charRead int) *SyntaxError {
	return newSyntaxError(KindEmptyText, message, charRead)
}

// UnknownCommand is raised when the command line is exhausted at a node with
// no callback registered: there's simply nothing more to execute.
func UnknownCommand(charRead int) *SyntaxError {
	return newSyntaxError(KindUnknownCommand, "Unknown command", charRead)
}

// UnknownArgument is raised when unparsed text remains but the current node
// (or its redirect target) has no children capable of consuming it.
func UnknownArgument(charRead int) *SyntaxError {
	return newSyntaxError(KindUnknownArgument, "Unknown argument", charRead)
}

// UnknownRootArgument is UnknownArgument's counterpart at the tree root: it
// replaces an IllegalLiteralArgument that escapes the very first dispatch
// call, since "no literal child matched" at the root means the first word
// of the command itself is unrecognized.
func UnknownRootArgument(charRead int) *SyntaxError {
	return newSyntaxError(KindUnknownRootArgument, "Unknown command root", charRead)
}

// PermissionDenied is raised when a node's requirement rejects the source.
func PermissionDenied(charRead int) *SyntaxError {
	return newSyntaxError(KindPermissionDenied, "Permission denied", charRead)
}

// NodeOperationError is a programmer-error raised by the tree builder API
// (Then/Redirects) when the call violates a structural invariant. Unlike
// SyntaxError it never comes from user input, so callers are expected to fix
// their call site rather than handle it: builder methods panic with this
// type instead of returning it.
type NodeOperationError struct {
	Message string
}

func (e *NodeOperationError) Error() string { return e.Message }
