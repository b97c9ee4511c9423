// Package ref parses stored reference strings into a tagged form so the
// rest of the engine never branches on raw text. The wire formats are fixed:
// a direct reference is a bare document id, a group reference is
// "group:<id>" or "group:<id>:<type>", and a namespaced override key is
// "<documentId>.<tokenKey>".
package ref

import "strings"

const groupPrefix = "group:"

type Kind int

const (
	KindDirect Kind = iota
	KindGroup
)

// Reference is either a direct document reference or a group indirection.
type Reference struct {
	Kind       Kind
	DocumentID string // set when Kind == KindDirect
	GroupID    string // set when Kind == KindGroup
	DocType    string // optional preferred type for group references
}

func (r Reference) IsGroup() bool {
	return r.Kind == KindGroup
}

// String reconstructs the stored wire form of the reference.
func (r Reference) String() string {
	if r.Kind != KindGroup {
		return r.DocumentID
	}
	if r.DocType == "" {
		return groupPrefix + r.GroupID
	}
	return groupPrefix + r.GroupID + ":" + r.DocType
}

// Parse interprets a component-map or override value. Anything without the
// group prefix is a direct document id, malformed or not; unresolvable ids
// are handled downstream.
func Parse(value string) Reference {
	if !strings.HasPrefix(value, groupPrefix) {
		return Reference{Kind: KindDirect, DocumentID: value}
	}
	rest := strings.TrimPrefix(value, groupPrefix)
	groupID, docType, _ := strings.Cut(rest, ":")
	return Reference{Kind: KindGroup, GroupID: groupID, DocType: docType}
}

// NamespacedKey builds the override key that applies only while the given
// document is being expanded.
func NamespacedKey(documentID, tokenKey string) string {
	return documentID + "." + tokenKey
}
