// Package compare decides whether two HTTP responses from different
// implementations of the same API are equivalent.
//
// It provides:
//   - Compare: status code and structural JSON body equality
//   - CompareObserved: the same check with transport errors folded in
//   - CompareSuccess: only checks that both responses succeeded
//   - ComparePaginated: separate checks for pagination metadata and items
//   - Diff: the structural diff routine the comparators build on
//   - TextDiff: a line diff of two bodies for human review
//
// Object keys are compared without regard to order, arrays in order
// (unless Options.IgnoreArrayOrder is set) and scalars exactly. Numbers
// are compared by value, so 1, 1.0 and json.Number("1e0") are equal.
package compare
