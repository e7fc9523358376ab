// Package suite defines parity suites: YAML trees of GET endpoints that
// are requested from both API implementations.
//
// An endpoint may expand into children using the items of its reference
// response:
//
//	- name: collections
//	  path: collections
//	  paginated: true
//	  children:
//	    - each: data
//	      value: name
//	      as: collection
//	      endpoints:
//	        - name: collection
//	          path: collections/{{collection}}
//
// Child paths are templated with {{var}} and inherit the variables of
// every enclosing expansion.
package suite
