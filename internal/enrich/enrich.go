// Package enrich replaces reference identifiers in audit event details with
// the objects they refer to.
package enrich

import (
	"fmt"

	"github.com/hejijunhao/asa-audit/internal/model"
)

// singleKeys hold one identifier each.
var singleKeys = []string{"client", "user", "project", "server", "actor"}

// listKey holds a list of identifiers.
const listKey = "servers"

// ReferenceError reports identifiers that were not present in the page's
// related objects.
type ReferenceError struct {
	Field string
	IDs   []string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference in details.%s: %v", e.Field, e.IDs)
}

// Enrich returns a copy of event whose reference identifiers are replaced by
// related[id].Object. Values that are not identifier strings are left alone,
// so enriching an already enriched event is a no-op. An empty "user" is not
// resolved.
//
// Every resolvable field is resolved even when another field fails; unresolved
// identifiers stay in place and are reported as *ReferenceError values, one
// per field.
func Enrich(event model.Event, related model.RelatedObjects) (model.Event, []*ReferenceError) {
	out := event.Clone()
	details := out.Details()
	if details == nil {
		return out, nil
	}

	var errs []*ReferenceError
	for _, key := range singleKeys {
		raw, ok := details[key]
		if !ok || raw == nil {
			continue
		}
		id, isID := raw.(string)
		if !isID {
			continue
		}
		if key == "user" && id == "" {
			continue
		}
		obj, found := related[id]
		if !found {
			errs = append(errs, &ReferenceError{Field: key, IDs: []string{id}})
			continue
		}
		details[key] = obj.Object
	}

	if raw, ok := details[listKey]; ok && raw != nil {
		if ids, isList := raw.([]any); isList {
			resolved, missing := resolveList(ids, related)
			details[listKey] = resolved
			if len(missing) > 0 {
				errs = append(errs, &ReferenceError{Field: listKey, IDs: missing})
			}
		}
	}
	return out, errs
}

// resolveList resolves each identifier in order. Non-identifier elements and
// unresolved identifiers keep their position.
func resolveList(ids []any, related model.RelatedObjects) ([]any, []string) {
	out := make([]any, len(ids))
	var missing []string
	for i, raw := range ids {
		out[i] = raw
		id, isID := raw.(string)
		if !isID {
			continue
		}
		obj, found := related[id]
		if !found {
			missing = append(missing, id)
			continue
		}
		out[i] = obj.Object
	}
	return out, missing
}
