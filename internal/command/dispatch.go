package command

// Execute parses and executes command against the tree rooted at root.
// root must be a Literal (the command tree's root is always a fixed word).
// Any *SyntaxError propagated out carries a FailPositionHint pointing at the
// offending position in command.
func Execute(root Node, source CommandSource, command string) error {
	err := execute(root, source, command, command, Context{})
	if err == nil {
		return nil
	}
	if se, ok := err.(*SyntaxError); ok && se.Kind == KindIllegalLiteralArgument {
		// The root literal itself failed to match: reframe as "unknown
		// command root" rather than a sibling-recoverable literal miss.
		return UnknownRootArgument(se.CharRead).withHint(se.FailPositionHint)
	}
	return err
}

func (e *SyntaxError) withHint(hint string) *SyntaxError {
	e.FailPositionHint = hint
	return e
}

// execute is the recursive dispatch step, translated from the original
// parser's _execute: parse this node's token, check the requirement, store
// the value if this node stores one, then either invoke the callback (if
// the command line is exhausted) or descend into children (literal
// children first, then argument children), following a redirect if one is
// set.
func execute(node Node, source CommandSource, command, remaining string, ctx Context) error {
	errPos := func(endingPos int) string {
		if endingPos > len(command) {
			endingPos = len(command)
		}
		return command[:endingPos] + "<--"
	}

	result, perr := node.Parse(remaining)
	if perr != nil {
		perr.SetFailPositionHint(errPos(len(command) - len(remaining) + perr.CharRead))
		return perr
	}

	totalRead := len(command) - len(remaining) + result.CharRead
	trimmedRemaining := removeDividerPrefix(remaining[result.CharRead:])

	if req := node.requirementFn(); req != nil && !req(source) {
		return PermissionDenied(totalRead).withHint(errPos(totalRead))
	}

	if node.storesValue() {
		ctx[node.Name()] = result.Value
	}

	if len(trimmedRemaining) == 0 {
		if cb := node.callbackFn(); cb != nil {
			return cb(source, ctx)
		}
		return UnknownCommand(totalRead).withHint(errPos(totalRead))
	}

	target := node
	if r := node.redirectTarget(); r != nil {
		target = r
	}

	if !target.hasChildren() {
		return UnknownArgument(len(command)).withHint(errPos(len(command)))
	}

	for _, lit := range target.literalChildren() {
		err := execute(lit, source, command, trimmedRemaining, ctx)
		if err == nil {
			return nil
		}
		if se, ok := err.(*SyntaxError); ok && se.Kind == KindIllegalLiteralArgument {
			// it's fine for a literal sibling to decline; try the next one
			continue
		}
		return err
	}

	if len(target.argumentChildren()) == 0 {
		return UnknownArgument(len(command)).withHint(errPos(len(command)))
	}
	for _, arg := range target.argumentChildren() {
		err := execute(arg, source, command, trimmedRemaining, ctx)
		// the first non-literal child's failure (of any kind) propagates
		// immediately; later siblings are never tried, per the resolved
		// Open Question on non-literal sibling propagation.
		return err
	}
	return nil
}
