// Package resolve implements the composite document resolution engine:
// read-time expansion of {{key}} references into flat text, and the
// write-time cycle validator that gates every component-map change.
package resolve

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"

	"inkwell/api/internal/ref"
	"inkwell/api/internal/store"
)

// DefaultMaxDepth bounds expansion nesting. The visited set already
// guarantees termination; the depth cap bounds latency on pathological
// projects.
const DefaultMaxDepth = 64

var ErrNotFound = errors.New("document not found")

// Store is the document collaborator. GetDocument returns nil (not an
// error) when the id is unknown.
type Store interface {
	GetDocument(ctx context.Context, documentID string) (*store.Document, error)
	GetGroupMembers(ctx context.Context, groupID string) ([]store.Document, error)
}

type Engine struct {
	store    Store
	maxDepth int
}

func NewEngine(st Store, maxDepth int) *Engine {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Engine{store: st, maxDepth: maxDepth}
}

// Result carries the expanded text plus the pure cache-back record:
// ResolvedGroups maps "<documentId>.<tokenKey>" to the concrete member id a
// group reference from that document's own component map resolved to.
// Persisting it is the caller's decision; it never changes resolution output.
type Result struct {
	Text           string
	ResolvedGroups map[string]string
}

type referenceSource int

const (
	sourceNone referenceSource = iota
	sourceNamespacedOverride
	sourceGlobalOverride
	sourceLocal
)

// resolveReference applies the layering order: a namespaced override for the
// document being expanded wins over a global override, which wins over the
// document's own component map.
func resolveReference(tokenKey, currentDocumentID string, local, overrides map[string]string) (string, referenceSource) {
	if value, ok := overrides[ref.NamespacedKey(currentDocumentID, tokenKey)]; ok {
		return value, sourceNamespacedOverride
	}
	if value, ok := overrides[tokenKey]; ok {
		return value, sourceGlobalOverride
	}
	if value, ok := local[tokenKey]; ok {
		return value, sourceLocal
	}
	return "", sourceNone
}

// selectGroupMember picks the representative for a group reference:
// preferred-type match first, then the conventional representative whose id
// equals the group id, then the newest member (created_at descending, id as
// tiebreak). Members are re-sorted here so the choice does not depend on
// store ordering.
func selectGroupMember(groupID, preferredType string, members []store.Document) (store.Document, bool) {
	if len(members) == 0 {
		return store.Document{}, false
	}
	ordered := make([]store.Document, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	if preferredType != "" {
		for _, member := range ordered {
			if member.DocType == preferredType {
				return member, true
			}
		}
	}
	for _, member := range ordered {
		if member.ID == groupID {
			return member, true
		}
	}
	return ordered[0], true
}

// frame is one document being expanded on the active path. Literal body
// text between tokens is copied into buf as tokens are consumed; child
// frames append their finished output before the parent continues.
type frame struct {
	documentID string
	components map[string]string
	body       string
	tokens     []Token
	next       int
	pos        int
	buf        strings.Builder
}

func newFrame(doc *store.Document) *frame {
	return &frame{
		documentID: doc.ID,
		components: doc.Components,
		body:       doc.Body,
		tokens:     ScanTokens(doc.Body),
	}
}

// Resolve fetches the document and expands its body. Expansion is
// best-effort: unresolved tokens, missing targets, empty groups, suppressed
// cycles, and the depth cap all leave the literal token text in place and
// log a warning. Only the top-level fetch and store failures surface as
// errors.
func (e *Engine) Resolve(ctx context.Context, documentID string, overrides map[string]string) (Result, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return Result{}, err
	}
	if doc == nil {
		return Result{}, ErrNotFound
	}

	result := Result{ResolvedGroups: map[string]string{}}
	onPath := map[string]struct{}{doc.ID: {}}
	stack := []*frame{newFrame(doc)}

	for {
		f := stack[len(stack)-1]

		if f.next >= len(f.tokens) {
			f.buf.WriteString(f.body[f.pos:])
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				result.Text = f.buf.String()
				return result, nil
			}
			delete(onPath, f.documentID)
			stack[len(stack)-1].buf.WriteString(f.buf.String())
			continue
		}

		token := f.tokens[f.next]
		f.next++
		f.buf.WriteString(f.body[f.pos:token.Start])
		f.pos = token.End

		raw, source := resolveReference(token.Key, f.documentID, f.components, overrides)
		if source == sourceNone {
			log.Printf("resolve: no reference for token %q in document %s", token.Key, f.documentID)
			f.buf.WriteString(token.Raw)
			continue
		}

		reference := ref.Parse(raw)
		targetID := reference.DocumentID
		if reference.IsGroup() {
			members, err := e.store.GetGroupMembers(ctx, reference.GroupID)
			if err != nil {
				log.Printf("resolve: group %s lookup failed for token %q in document %s: %v", reference.GroupID, token.Key, f.documentID, err)
				f.buf.WriteString(token.Raw)
				continue
			}
			member, ok := selectGroupMember(reference.GroupID, reference.DocType, members)
			if !ok {
				log.Printf("resolve: group %s is empty for token %q in document %s", reference.GroupID, token.Key, f.documentID)
				f.buf.WriteString(token.Raw)
				continue
			}
			targetID = member.ID
			if source == sourceLocal {
				result.ResolvedGroups[ref.NamespacedKey(f.documentID, token.Key)] = member.ID
			}
		}

		if _, active := onPath[targetID]; active {
			log.Printf("resolve: cycle suppressed at document %s via token %q in document %s", targetID, token.Key, f.documentID)
			f.buf.WriteString(token.Raw)
			continue
		}
		if len(stack) >= e.maxDepth {
			log.Printf("resolve: max depth %d reached at token %q in document %s", e.maxDepth, token.Key, f.documentID)
			f.buf.WriteString(token.Raw)
			continue
		}

		target, err := e.store.GetDocument(ctx, targetID)
		if err != nil {
			log.Printf("resolve: fetch %s failed for token %q in document %s: %v", targetID, token.Key, f.documentID, err)
			f.buf.WriteString(token.Raw)
			continue
		}
		if target == nil {
			log.Printf("resolve: document %s not found for token %q in document %s", targetID, token.Key, f.documentID)
			f.buf.WriteString(token.Raw)
			continue
		}

		onPath[target.ID] = struct{}{}
		stack = append(stack, newFrame(target))
	}
}
