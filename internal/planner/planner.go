// Package planner maps source mailbox paths onto the destination's
// hierarchy delimiter and decides which destination mailboxes must be
// created before copying.
package planner

import "strings"

// Task copies one source mailbox into one destination mailbox.
type Task struct {
	Source      string
	Destination string
	// Create is set when Destination was not in the destination listing.
	Create bool
}

// Plan is the ordered list of copy tasks for one run.
type Plan []Task

// Creates returns how many tasks need a new destination mailbox.
func (p Plan) Creates() int {
	n := 0
	for _, t := range p {
		if t.Create {
			n++
		}
	}
	return n
}

// MapName rewrites a source path for the destination by substituting every
// srcDelim with dstDelim. Segment content that happens to contain dstDelim
// is not escaped, so two source paths can collide on the destination.
func MapName(path, srcDelim, dstDelim string) string {
	if srcDelim == "" || srcDelim == dstDelim {
		return path
	}
	return strings.ReplaceAll(path, srcDelim, dstDelim)
}

// Build returns one task per source path, in source order. No source path
// is filtered out.
func Build(srcPaths []string, srcDelim string, dstPaths []string, dstDelim string) Plan {
	existing := make(map[string]struct{}, len(dstPaths))
	for _, p := range dstPaths {
		existing[p] = struct{}{}
	}

	plan := make(Plan, 0, len(srcPaths))
	for _, src := range srcPaths {
		dst := MapName(src, srcDelim, dstDelim)
		_, ok := existing[dst]
		plan = append(plan, Task{Source: src, Destination: dst, Create: !ok})
	}
	return plan
}
