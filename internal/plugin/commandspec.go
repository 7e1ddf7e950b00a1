package plugin

import (
	"fmt"

	"github.com/kafuuchino-desu/mcdr-go/internal/command"
)

// CommandSpec is the wire form of one node in a command tree a subprocess
// registers during its load handshake. The daemon materializes the spec
// into real command.Node values; terminal nodes call back into the
// subprocess with a command_invoke frame carrying the bound argument
// values. Redirects are deliberately absent from the wire form: a redirect
// targets another node by object identity, which only daemon-side tree
// construction can express.
type CommandSpec struct {
	Kind          string        `json:"kind"`
	Name          string        `json:"name,omitempty"`
	Literals      []string      `json:"literals,omitempty"`
	Min           *float64      `json:"min,omitempty"`
	Max           *float64      `json:"max,omitempty"`
	AllowEmpty    bool          `json:"allow_empty,omitempty"`
	RequiresLevel *int          `json:"requires_level,omitempty"`
	Executes      bool          `json:"executes,omitempty"`
	Children      []CommandSpec `json:"children,omitempty"`
}

const (
	specKindLiteral      = "literal"
	specKindInteger      = "integer"
	specKindFloat        = "float"
	specKindNumber       = "number"
	specKindText         = "text"
	specKindQuotableText = "quotable_text"
	specKindGreedyText   = "greedy_text"
)

// buildCommandTree turns a root CommandSpec into an executable command tree
// whose terminal callbacks forward to p's subprocess. The root must be a
// literal, same as any daemon-side tree.
func (p *Plugin) buildCommandTree(spec CommandSpec) (command.Node, error) {
	if spec.Kind != specKindLiteral {
		return nil, fmt.Errorf("command tree root must be a literal, got %q", spec.Kind)
	}
	rootWord := ""
	if len(spec.Literals) > 0 {
		rootWord = spec.Literals[0]
	}
	return p.buildCommandNode(spec, rootWord)
}

func (p *Plugin) buildCommandNode(spec CommandSpec, rootWord string) (command.Node, error) {
	node, err := newSpecNode(spec)
	if err != nil {
		return nil, err
	}

	if lvl := spec.RequiresLevel; lvl != nil {
		level := *lvl
		node.Requires(func(source command.CommandSource) bool {
			return source.HasPermissionLevel(level)
		})
	}

	if spec.Executes {
		node.Runs(func(source command.CommandSource, ctx command.Context) error {
			_, err := p.sendLocked(MsgCommandInvoke, CommandInvokePayload{
				Root:      rootWord,
				IsConsole: source.IsConsole(),
				Values:    ctx,
			})
			return err
		})
	}

	for _, childSpec := range spec.Children {
		child, err := p.buildCommandNode(childSpec, rootWord)
		if err != nil {
			return nil, err
		}
		node.Then(child)
	}
	return node, nil
}

func newSpecNode(spec CommandSpec) (command.Node, error) {
	switch spec.Kind {
	case specKindLiteral:
		if len(spec.Literals) == 0 {
			return nil, fmt.Errorf("literal node needs at least one token")
		}
		return command.NewLiteral(spec.Literals...), nil
	case specKindInteger:
		n := command.NewInteger(spec.Name)
		if spec.Min != nil && spec.Max != nil {
			n.InRange(int(*spec.Min), int(*spec.Max))
		}
		return n, nil
	case specKindFloat:
		n := command.NewFloat(spec.Name)
		if spec.Min != nil && spec.Max != nil {
			n.InRange(*spec.Min, *spec.Max)
		}
		return n, nil
	case specKindNumber:
		n := command.NewNumber(spec.Name)
		if spec.Min != nil && spec.Max != nil {
			n.InRange(*spec.Min, *spec.Max)
		}
		return n, nil
	case specKindText:
		return command.NewText(spec.Name), nil
	case specKindQuotableText:
		n := command.NewQuotableText(spec.Name)
		if spec.AllowEmpty {
			n.AllowEmpty()
		}
		return n, nil
	case specKindGreedyText:
		return command.NewGreedyText(spec.Name), nil
	default:
		return nil, fmt.Errorf("unknown command node kind %q", spec.Kind)
	}
}
