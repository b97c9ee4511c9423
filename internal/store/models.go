package store

import "time"

// Document is a composite-document snapshot. Body may contain {{key}}
// tokens; Components maps each token key to a reference string (a document
// id, or "group:<id>[:<type>]"). The resolution engine only reads documents.
type Document struct {
	ID         string
	ProjectID  string
	Title      string
	Body       string
	Components map[string]string
	GroupID    string
	DocType    string
	CreatedAt  time.Time
}
