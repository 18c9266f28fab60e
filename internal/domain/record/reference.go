package record

import (
	"strings"
)

const (
	batchReferencePrefix = "batch/"
	referenceSeparator   = ","
)

// Reference is a parsed counterparty reference
type Reference struct {
	Source   string
	SourceID string
	BatchID  string // set for settlement batch references
}

// IsBatch reports whether the reference points at a settlement batch
func (r Reference) IsBatch() bool { return r.BatchID != "" }

// RecordReference encodes a record's natural key as "<source>/<sourceId>"
func RecordReference(source, sourceID string) string {
	return source + "/" + sourceID
}

// BatchReference encodes a settlement batch id as "batch/<batchId>"
func BatchReference(batchID string) string {
	return batchReferencePrefix + batchID
}

// JoinReferences combines several references into one reconciledWith value
func JoinReferences(refs []string) string {
	return strings.Join(refs, referenceSeparator)
}

// ParseReferences splits and decodes a reconciledWith value. Malformed parts are skipped.
func ParseReferences(value string) []Reference {
	if value == "" {
		return nil
	}
	var refs []Reference
	for _, part := range strings.Split(value, referenceSeparator) {
		if strings.HasPrefix(part, batchReferencePrefix) {
			if id := strings.TrimPrefix(part, batchReferencePrefix); id != "" {
				refs = append(refs, Reference{BatchID: id})
			}
			continue
		}
		source, sourceID, ok := strings.Cut(part, "/")
		if !ok || source == "" || sourceID == "" {
			continue
		}
		refs = append(refs, Reference{Source: source, SourceID: sourceID})
	}
	return refs
}
