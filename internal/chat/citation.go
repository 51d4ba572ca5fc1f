package chat

import (
	"encoding/json"
	"strconv"
)

// PlaceholderURI is the link target for a citation without a source location.
// It performs no navigation.
const PlaceholderURI = "#"

// CitationGroup is one backend-supplied bundle of references.
type CitationGroup struct {
	RetrievedReferences []Reference `json:"retrievedReferences,omitempty"`
}

// Reference is a single retrieved reference. Both fields are optional.
type Reference struct {
	Location *Location `json:"location,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Location wraps the optional storage location of a reference.
type Location struct {
	S3Location *S3Location `json:"s3Location,omitempty"`
}

// S3Location is the object URI a reference was retrieved from.
type S3Location struct {
	URI string `json:"uri"`
}

// Metadata carries the optional reference title.
type Metadata struct {
	Title string `json:"title"`
}

// title resolves the display title, falling back to "Source N" where N is the
// 1-based position within the group.
func (r Reference) title(pos int) string {
	if r.Metadata != nil && r.Metadata.Title != "" {
		return r.Metadata.Title
	}
	return "Source " + strconv.Itoa(pos+1)
}

// uri resolves the link target, falling back to PlaceholderURI.
func (r Reference) uri() string {
	if r.Location != nil && r.Location.S3Location != nil && r.Location.S3Location.URI != "" {
		return r.Location.S3Location.URI
	}
	return PlaceholderURI
}

// ProjectCitations flattens citation groups into display entries in
// (group, reference) order. Missing fields degrade to fallbacks; nothing is
// dropped. The result is never nil.
func ProjectCitations(groups []CitationGroup) []Citation {
	out := []Citation{}
	for _, g := range groups {
		for i, ref := range g.RetrievedReferences {
			out = append(out, Citation{Title: ref.title(i), URI: ref.uri()})
		}
	}
	return out
}

// DecodeCitationGroups decodes the backend citations field without ever
// failing. A value that is not an array yields no groups. A group or
// reference that does not decode is kept as an empty one so that positions,
// and therefore fallback numbering, are preserved.
func DecodeCitationGroups(raw json.RawMessage) []CitationGroup {
	var rawGroups []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &rawGroups) != nil {
		return nil
	}

	groups := make([]CitationGroup, 0, len(rawGroups))
	for _, rg := range rawGroups {
		var shell struct {
			RetrievedReferences []json.RawMessage `json:"retrievedReferences"`
		}
		if json.Unmarshal(rg, &shell) != nil {
			groups = append(groups, CitationGroup{})
			continue
		}
		g := CitationGroup{RetrievedReferences: make([]Reference, 0, len(shell.RetrievedReferences))}
		for _, rr := range shell.RetrievedReferences {
			g.RetrievedReferences = append(g.RetrievedReferences, decodeReference(rr))
		}
		groups = append(groups, g)
	}
	return groups
}

// decodeReference decodes each optional level separately so that a bad
// location does not cost the title, and vice versa.
func decodeReference(raw json.RawMessage) Reference {
	var shell struct {
		Location json.RawMessage `json:"location"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if json.Unmarshal(raw, &shell) != nil {
		return Reference{}
	}

	var ref Reference
	var loc Location
	if len(shell.Location) > 0 && json.Unmarshal(shell.Location, &loc) == nil && loc.S3Location != nil {
		ref.Location = &loc
	}
	var meta Metadata
	if len(shell.Metadata) > 0 && json.Unmarshal(shell.Metadata, &meta) == nil {
		ref.Metadata = &meta
	}
	return ref
}
