package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"inkwell/api/internal/ref"
)

// CycleError reports the first reference that would close a cycle if the
// proposed component map were persisted. Group is set when the closing edge
// came from a group indirection; Path lists document ids from the edited
// document to the closing node.
type CycleError struct {
	Document string
	Group    string
	Path     []string
}

func (e *CycleError) Error() string {
	where := "document " + e.Document
	if e.Group != "" {
		where += " (via group " + e.Group + ")"
	}
	return fmt.Sprintf("component cycle through %s: %s", where, strings.Join(e.Path, " -> "))
}

type nodeState int

const (
	stateUnvisited nodeState = iota
	stateOnStack
	stateDone
)

// Validate checks that persisting proposedComponents for the edited document
// cannot introduce a reference cycle. Group references are expanded
// conservatively: the check fails if any member would close a cycle, not
// just the member the selector would pick. A missing document is no further
// path, never an error. Callers must invoke this before committing any
// component-map write.
func (e *Engine) Validate(ctx context.Context, editedDocumentID string, proposedComponents map[string]string, projectID string) error {
	walk := &cycleWalk{
		store:  e.store,
		edited: editedDocumentID,
		state:  map[string]nodeState{},
	}
	for _, key := range sortedKeys(proposedComponents) {
		if err := walk.checkReference(ctx, proposedComponents[key], []string{editedDocumentID}); err != nil {
			return err
		}
	}
	return nil
}

type cycleWalk struct {
	store  Store
	edited string
	state  map[string]nodeState
}

func (w *cycleWalk) checkReference(ctx context.Context, rawReference string, path []string) error {
	reference := ref.Parse(rawReference)
	if !reference.IsGroup() {
		return w.walk(ctx, reference.DocumentID, "", path)
	}
	members, err := w.store.GetGroupMembers(ctx, reference.GroupID)
	if err != nil {
		return fmt.Errorf("validate group %s: %w", reference.GroupID, err)
	}
	for _, member := range members {
		if err := w.walk(ctx, member.ID, reference.GroupID, path); err != nil {
			return err
		}
	}
	return nil
}

func (w *cycleWalk) walk(ctx context.Context, current, viaGroup string, path []string) error {
	if current == w.edited {
		return &CycleError{Document: current, Group: viaGroup, Path: pathTo(path, current)}
	}
	switch w.state[current] {
	case stateOnStack:
		// Gray revisit: a cycle exists on the active path even though it
		// does not pass through the edited document.
		return &CycleError{Document: current, Group: viaGroup, Path: pathTo(path, current)}
	case stateDone:
		return nil
	}

	w.state[current] = stateOnStack
	doc, err := w.store.GetDocument(ctx, current)
	if err != nil {
		return fmt.Errorf("validate fetch %s: %w", current, err)
	}
	if doc != nil {
		next := pathTo(path, current)
		for _, key := range sortedKeys(doc.Components) {
			if err := w.checkReference(ctx, doc.Components[key], next); err != nil {
				return err
			}
		}
	}
	w.state[current] = stateDone
	return nil
}

func pathTo(path []string, current string) []string {
	extended := make([]string, 0, len(path)+1)
	extended = append(extended, path...)
	return append(extended, current)
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
