package compare

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxSummarized bounds how many differences Summarize spells out.
const maxSummarized = 10

// Kind classifies a single difference between two JSON values.
type Kind string

const (
	Changed       Kind = "changed"
	TypeChanged   Kind = "type changed"
	MissingFirst  Kind = "missing in first"
	MissingSecond Kind = "missing in second"
)

// Difference is one location where two JSON values disagree.
type Difference struct {
	Path   string `json:"path"`
	Kind   Kind   `json:"kind"`
	First  any    `json:"first,omitempty"`
	Second any    `json:"second,omitempty"`
}

func (d Difference) String() string {
	switch d.Kind {
	case MissingFirst:
		return fmt.Sprintf("%s: missing in first response (second has %s)", d.Path, formatValue(d.Second))
	case MissingSecond:
		return fmt.Sprintf("%s: missing in second response (first has %s)", d.Path, formatValue(d.First))
	case TypeChanged:
		return fmt.Sprintf("%s: type %s vs %s", d.Path, typeName(d.First), typeName(d.Second))
	default:
		return fmt.Sprintf("%s: %s vs %s", d.Path, formatValue(d.First), formatValue(d.Second))
	}
}

// Options tunes the structural diff.
type Options struct {
	// IgnorePaths lists dotted paths whose subtrees are skipped, e.g.
	// "meta.generatedAt" or "data.*.updatedAt". A "*" or "#" segment
	// matches any key or index. A leading "$." is optional.
	IgnorePaths []string
	// IgnoreArrayOrder compares arrays as multisets.
	IgnoreArrayOrder bool
}

// Diff walks a and b and returns every location where they differ.
// An error is returned, instead of a partial diff, when either value
// holds something that has no JSON meaning (functions, channels, structs,
// maps with non-string keys, NaN).
func Diff(a, b any, opts Options) ([]Difference, error) {
	return diffAt(nil, a, b, opts)
}

// Equal reports whether a and b are structurally equal.
func Equal(a, b any, opts Options) (bool, error) {
	diffs, err := Diff(a, b, opts)
	if err != nil {
		return false, err
	}
	return len(diffs) == 0, nil
}

// Summarize renders diffs as a single line.
func Summarize(diffs []Difference) string {
	parts := make([]string, 0, maxSummarized)
	for i, d := range diffs {
		if i == maxSummarized {
			break
		}
		parts = append(parts, d.String())
	}
	s := strings.Join(parts, "; ")
	if extra := len(diffs) - maxSummarized; extra > 0 {
		s += fmt.Sprintf(" (+%d more)", extra)
	}
	return s
}

func diffAt(root path, a, b any, opts Options) ([]Difference, error) {
	d := &differ{
		opts:   opts,
		ignore: compilePatterns(opts.IgnorePaths),
	}
	if err := d.walk(root, a, b); err != nil {
		return nil, err
	}
	return d.diffs, nil
}

type differ struct {
	opts   Options
	ignore matcher
	diffs  []Difference
	// open holds the maps and slices of each side on the current path.
	open [2]visiting
}

// visiting tracks the containers being walked so a value that contains
// itself is reported instead of recursed into forever.
type visiting map[container]bool

// container identifies a map or slice; the length keeps a sub-slice
// apart from the slice it was cut from.
type container struct {
	ptr uintptr
	len int
}

// enter marks v as open. It returns false, with a nil leave, when v is
// already open on the current path.
func (vs *visiting) enter(v any) (leave func(), ok bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map && rv.Kind() != reflect.Slice {
		return func() {}, true
	}
	if rv.Len() == 0 {
		return func() {}, true
	}
	key := container{ptr: rv.Pointer(), len: rv.Len()}
	if *vs == nil {
		*vs = make(visiting)
	}
	if (*vs)[key] {
		return nil, false
	}
	(*vs)[key] = true
	return func() { delete(*vs, key) }, true
}

func (d *differ) add(p path, kind Kind, first, second any) {
	d.diffs = append(d.diffs, Difference{
		Path:   p.String(),
		Kind:   kind,
		First:  first,
		Second: second,
	})
}

func (d *differ) walk(p path, a, b any) error {
	if d.ignore.match(p) {
		return nil
	}

	ka, err := classify(a)
	if err != nil {
		return fmt.Errorf("%s: first response: %w", p, err)
	}
	kb, err := classify(b)
	if err != nil {
		return fmt.Errorf("%s: second response: %w", p, err)
	}

	if ka != kb {
		d.add(p, TypeChanged, a, b)
		return nil
	}

	switch ka {
	case nullKind:
		return nil
	case boolKind:
		if reflect.ValueOf(a).Bool() != reflect.ValueOf(b).Bool() {
			d.add(p, Changed, a, b)
		}
	case stringKind:
		if reflect.ValueOf(a).String() != reflect.ValueOf(b).String() {
			d.add(p, Changed, a, b)
		}
	case numberKind:
		na, err := toNumber(a)
		if err != nil {
			return fmt.Errorf("%s: first response: %w", p, err)
		}
		nb, err := toNumber(b)
		if err != nil {
			return fmt.Errorf("%s: second response: %w", p, err)
		}
		if na.Cmp(nb) != 0 {
			d.add(p, Changed, a, b)
		}
	case objectKind, arrayKind:
		leaveA, ok := d.open[0].enter(a)
		if !ok {
			return fmt.Errorf("%s: first response: cyclic value", p)
		}
		defer leaveA()
		leaveB, ok := d.open[1].enter(b)
		if !ok {
			return fmt.Errorf("%s: second response: cyclic value", p)
		}
		defer leaveB()
		if ka == objectKind {
			return d.walkObject(p, toObject(a), toObject(b))
		}
		if d.opts.IgnoreArrayOrder {
			return d.walkUnordered(p, toArray(a), toArray(b))
		}
		return d.walkOrdered(p, toArray(a), toArray(b))
	}
	return nil
}

func (d *differ) walkObject(p path, a, b map[string]any) error {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		av, inA := a[k]
		bv, inB := b[k]
		cp := p.child(k)
		switch {
		case inA && inB:
			if err := d.walk(cp, av, bv); err != nil {
				return err
			}
		case d.ignore.match(cp):
		case inA:
			d.add(cp, MissingSecond, av, nil)
		default:
			d.add(cp, MissingFirst, nil, bv)
		}
	}
	return nil
}

func (d *differ) walkOrdered(p path, a, b []any) error {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if err := d.walk(p.item(i), a[i], b[i]); err != nil {
			return err
		}
	}
	for i := n; i < len(a); i++ {
		if !d.ignore.match(p.item(i)) {
			d.add(p.item(i), MissingSecond, a[i], nil)
		}
	}
	for i := n; i < len(b); i++ {
		if !d.ignore.match(p.item(i)) {
			d.add(p.item(i), MissingFirst, nil, b[i])
		}
	}
	return nil
}

// walkUnordered matches items by canonical form. Unmatched items are
// reported at their own index in their own array.
func (d *differ) walkUnordered(p path, a, b []any) error {
	pool := make(map[string][]int, len(b))
	for j, v := range b {
		key, err := d.canonical(p.item(j), v)
		if err != nil {
			return fmt.Errorf("%s: second response: %w", p.item(j), err)
		}
		pool[key] = append(pool[key], j)
	}

	matched := make([]bool, len(b))
	for i, v := range a {
		key, err := d.canonical(p.item(i), v)
		if err != nil {
			return fmt.Errorf("%s: first response: %w", p.item(i), err)
		}
		if idx := pool[key]; len(idx) > 0 {
			matched[idx[0]] = true
			pool[key] = idx[1:]
			continue
		}
		d.add(p.item(i), MissingSecond, v, nil)
	}
	for j, ok := range matched {
		if !ok {
			d.add(p.item(j), MissingFirst, nil, b[j])
		}
	}
	return nil
}

// canonical renders v so that structurally equal values produce the same
// string. Ignored paths are left out.
func (d *differ) canonical(p path, v any) (string, error) {
	var open visiting
	return d.canonicalIn(&open, p, v)
}

func (d *differ) canonicalIn(open *visiting, p path, v any) (string, error) {
	var sb strings.Builder
	if err := d.writeCanonical(&sb, open, p, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (d *differ) writeCanonical(sb *strings.Builder, open *visiting, p path, v any) error {
	k, err := classify(v)
	if err != nil {
		return err
	}
	leave, ok := open.enter(v)
	if !ok {
		return fmt.Errorf("%s: cyclic value", p)
	}
	defer leave()
	switch k {
	case nullKind:
		sb.WriteString("null")
	case boolKind:
		sb.WriteString(strconv.FormatBool(reflect.ValueOf(v).Bool()))
	case stringKind:
		sb.WriteString(strconv.Quote(reflect.ValueOf(v).String()))
	case numberKind:
		n, err := toNumber(v)
		if err != nil {
			return err
		}
		sb.WriteString(n.RatString())
	case objectKind:
		obj := toObject(v)
		keys := make([]string, 0, len(obj))
		for key := range obj {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for _, key := range keys {
			if d.ignore.match(p.child(key)) {
				continue
			}
			sb.WriteString(strconv.Quote(key))
			sb.WriteByte(':')
			if err := d.writeCanonical(sb, open, p.child(key), obj[key]); err != nil {
				return err
			}
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
	case arrayKind:
		arr := toArray(v)
		items := make([]string, len(arr))
		for i, item := range arr {
			s, err := d.canonicalIn(open, p.item(i), item)
			if err != nil {
				return err
			}
			items[i] = s
		}
		if d.opts.IgnoreArrayOrder {
			sort.Strings(items)
		}
		sb.WriteByte('[')
		sb.WriteString(strings.Join(items, ","))
		sb.WriteByte(']')
	}
	return nil
}

type valueKind int

const (
	nullKind valueKind = iota
	boolKind
	numberKind
	stringKind
	objectKind
	arrayKind
)

var kindNames = [...]string{"null", "boolean", "number", "string", "object", "array"}

func classify(v any) (valueKind, error) {
	switch t := v.(type) {
	case nil:
		return nullKind, nil
	case bool:
		return boolKind, nil
	case string:
		return stringKind, nil
	case json.Number:
		return numberKind, nil
	case map[string]any:
		if t == nil {
			return nullKind, nil
		}
		return objectKind, nil
	case []any:
		if t == nil {
			return nullKind, nil
		}
		return arrayKind, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return boolKind, nil
	case reflect.String:
		return stringKind, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return numberKind, nil
	case reflect.Map:
		if rv.IsNil() {
			return nullKind, nil
		}
		if rv.Type().Key().Kind() == reflect.String {
			return objectKind, nil
		}
		return 0, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
	case reflect.Slice:
		if rv.IsNil() {
			return nullKind, nil
		}
		return arrayKind, nil
	case reflect.Array:
		return arrayKind, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nullKind, nil
		}
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func typeName(v any) string {
	k, err := classify(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	return kindNames[k]
}

func toObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	rv := reflect.ValueOf(v)
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out
}

func toArray(v any) []any {
	if a, ok := v.([]any); ok {
		return a
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func toNumber(v any) (*big.Rat, error) {
	if n, ok := v.(json.Number); ok {
		r, ok := new(big.Rat).SetString(string(n))
		if !ok {
			return nil, fmt.Errorf("invalid number %q", string(n))
		}
		return r, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite number %v", f)
		}
		bits := 64
		if rv.Kind() == reflect.Float32 {
			bits = 32
		}
		r, _ := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, bits))
		return r, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return new(big.Rat).SetInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Rat).SetUint64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("unsupported number type %T", v)
}

// formatValue renders a value compactly for a difference message.
func formatValue(v any) string {
	const maxLen = 80
	data, err := json.Marshal(v)
	s := string(data)
	if err != nil {
		s = "<" + typeName(v) + ">"
	}
	if utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen]) + "..."
	}
	return s
}

type segment struct {
	key   string
	index int // -1 for object keys
}

type path []segment

func (p path) child(key string) path {
	return append(p[:len(p):len(p)], segment{key: key, index: -1})
}

func (p path) item(i int) path {
	return append(p[:len(p):len(p)], segment{index: i})
}

func (p path) String() string {
	var sb strings.Builder
	sb.WriteByte('$')
	for _, s := range p {
		switch {
		case s.index >= 0:
			fmt.Fprintf(&sb, "[%d]", s.index)
		case isIdentifier(s.key):
			sb.WriteByte('.')
			sb.WriteString(s.key)
		default:
			fmt.Fprintf(&sb, "[%q]", s.key)
		}
	}
	return sb.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// matcher holds compiled ignore patterns, one segment list per pattern.
type matcher [][]string

func compilePatterns(patterns []string) matcher {
	var m matcher
	replacer := strings.NewReplacer("[", ".", "]", "")
	for _, p := range patterns {
		p = strings.TrimPrefix(strings.TrimSpace(p), "$")
		p = replacer.Replace(p)
		var segs []string
		for _, s := range strings.Split(p, ".") {
			if s != "" {
				segs = append(segs, strings.Trim(s, `"`))
			}
		}
		if len(segs) > 0 {
			m = append(m, segs)
		}
	}
	return m
}

func (m matcher) match(p path) bool {
	for _, pattern := range m {
		if len(pattern) != len(p) {
			continue
		}
		ok := true
		for i, seg := range pattern {
			if seg == "*" || seg == "#" {
				continue
			}
			if p[i].index >= 0 {
				ok = seg == strconv.Itoa(p[i].index)
			} else {
				ok = seg == p[i].key
			}
			if !ok {
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
