package compare

// DataField is the key that holds the items of a paginated response.
const DataField = "data"

// ComparePaginated compares two paginated responses. The pagination
// metadata (every top-level key except DataField) and the items are
// diffed separately so that each message says which half disagrees.
func ComparePaginated(a, b Observed, opts Options) Result {
	r := newResult()
	if a.Status != b.Status {
		r.addf("Status codes differ: %d vs %d", a.Status, b.Status)
	}
	if a.Err != "" {
		r.addf("API1 error: %s", a.Err)
	}
	if b.Err != "" {
		r.addf("API2 error: %s", b.Err)
	}
	if !a.success() || !b.success() {
		return r
	}

	metaA, dataA, err := splitPage(a.JSON)
	if err != nil {
		r.addf("Error comparing responses: first response: %v", err)
		return r
	}
	metaB, dataB, err := splitPage(b.JSON)
	if err != nil {
		r.addf("Error comparing responses: second response: %v", err)
		return r
	}

	diffs, err := Diff(metaA, metaB, opts)
	if err != nil {
		r.addf("Error comparing responses: %v", err)
		return r
	}
	for _, d := range diffs {
		r.addf("Pagination %s", d)
	}

	if la, lb, ok := lengths(dataA, dataB); ok && la != lb {
		r.addf("Data length differs: %d vs %d", la, lb)
	}

	diffs, err = diffAt(path{}.child(DataField), dataA, dataB, opts)
	if err != nil {
		r.addf("Error comparing responses: %v", err)
		return r
	}
	for _, d := range diffs {
		r.addf("Data %s", d)
	}
	return r
}

// splitPage separates a page body into metadata and items. Bodies that
// are not objects yield empty metadata and no items.
func splitPage(body any) (map[string]any, any, error) {
	meta := map[string]any{}
	k, err := classify(body)
	if err != nil {
		return nil, nil, err
	}
	if k != objectKind {
		return meta, []any{}, nil
	}
	var data any = []any{}
	for key, v := range toObject(body) {
		if key == DataField {
			data = v
			continue
		}
		meta[key] = v
	}
	return meta, data, nil
}

func lengths(a, b any) (int, int, bool) {
	ka, errA := classify(a)
	kb, errB := classify(b)
	if errA != nil || errB != nil || ka != arrayKind || kb != arrayKind {
		return 0, 0, false
	}
	return len(toArray(a)), len(toArray(b)), true
}
