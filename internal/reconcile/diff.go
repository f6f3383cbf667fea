package reconcile

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/agentworkforce/graphsync/internal/docstore"
)

// Diff returns the fields of incoming whose value differs from stored, with
// the incoming value. Values are compared by their canonical JSON form, so
// numeric representation and map ordering do not matter, and a field that
// is absent from stored compares equal to null.
func Diff(stored, incoming docstore.Document) (docstore.Document, []string) {
	changed := docstore.Document{}
	names := make([]string, 0)
	for field, value := range incoming {
		if !sameValue(stored[field], value) {
			changed[field] = value
			names = append(names, field)
		}
	}
	sort.Strings(names)
	return changed, names
}

func sameValue(a, b any) bool {
	left, errA := json.Marshal(a)
	right, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(left, right)
}
