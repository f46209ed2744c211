package expr

import "github.com/Scopeo/draftnrun/pkg/domain"

// CollectRefs returns every Ref reachable in an expression tree, in a
// deterministic order (Concat parts in order, JSONBuild refs by sorted
// placeholder key). Duplicates are preserved; callers dedupe when building
// dependency edges.
func CollectRefs(e domain.FieldExpression) []domain.Ref {
	var refs []domain.Ref
	collectRefs(e, &refs)
	return refs
}

func collectRefs(e domain.FieldExpression, refs *[]domain.Ref) {
	switch v := e.(type) {
	case domain.Ref:
		*refs = append(*refs, v)
	case domain.Concat:
		for _, part := range v.Parts {
			collectRefs(part, refs)
		}
	case domain.JSONBuild:
		for _, key := range sortedKeys(v.Refs) {
			collectRefs(v.Refs[key], refs)
		}
	}
}

// HasRefs reports whether the expression references any node output.
// Constructor-phase bindings must be ref-free.
func HasRefs(e domain.FieldExpression) bool {
	switch v := e.(type) {
	case domain.Ref:
		return true
	case domain.Concat:
		for _, part := range v.Parts {
			if HasRefs(part) {
				return true
			}
		}
	case domain.JSONBuild:
		for _, ref := range v.Refs {
			if HasRefs(ref) {
				return true
			}
		}
	}
	return false
}
