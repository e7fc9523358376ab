// Package capture extracts values from reference responses so that a
// suite can expand child endpoints from them.
//
// Values are addressed with gjson paths:
//   - "total" for the item count of a paginated response
//   - "data" for the list of items
//   - "bookNumber" for a field inside one item
//
// Each item selected by an expansion yields one set of variable
// bindings that the child endpoints are resolved with.
package capture
