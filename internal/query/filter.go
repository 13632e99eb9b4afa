// Package query compiles listing query strings into whitelisted SQL
// predicates, sort clauses and pagination windows.
package query

import (
	"math"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

type kind int

const (
	kindText kind = iota
	kindInt
	kindNumeric
	kindBool
	kindTimestamp
	kindEnum
)

// Type is the static type of a filterable column.
type Type struct {
	kind   kind
	values []string
}

var (
	Text      = Type{kind: kindText}
	Int       = Type{kind: kindInt}
	Numeric   = Type{kind: kindNumeric}
	Bool      = Type{kind: kindBool}
	Timestamp = Type{kind: kindTimestamp}
)

// Enum is a text column restricted to the given values.
func Enum(values ...string) Type {
	return Type{kind: kindEnum, values: values}
}

// Columns is the filter whitelist of a resource.
type Columns map[string]Type

type Op string

const (
	OpEq    Op = "="
	OpNe    Op = "!="
	OpLt    Op = "<"
	OpLte   Op = "<="
	OpGt    Op = ">"
	OpGte   Op = ">="
	OpLike  Op = "like"
	OpILike Op = "ilike"
	OpIn    Op = "in"
	OpNin   Op = "nin"
)

// Longest suffix first.
var suffixes = []struct {
	suffix string
	op     Op
}{
	{"__ilike", OpILike},
	{"__like", OpLike},
	{"__lte", OpLte},
	{"__gte", OpGte},
	{"__nin", OpNin},
	{"__lt", OpLt},
	{"__gt", OpGt},
	{"__ne", OpNe},
	{"__in", OpIn},
}

var reserved = []string{"page", "per_page", "sort", "dir", "q"}

// Predicate is one compiled filter. Value is a []any for OpIn and OpNin.
type Predicate struct {
	Field string
	Op    Op
	Value any
	typ   Type
}

// Compile turns params into predicates against allowed. Reserved keys,
// unknown fields and values that do not convert to the column type are
// dropped without error. Output is ordered by parameter key.
func Compile(params url.Values, allowed Columns, extraReserved ...string) []Predicate {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var preds []Predicate
	for _, key := range keys {
		if slices.Contains(reserved, key) || slices.Contains(extraReserved, key) {
			continue
		}
		field, op := splitKey(key)
		typ, ok := allowed[field]
		if !ok {
			continue
		}
		p, ok := build(field, op, typ, params[key])
		if !ok {
			continue
		}
		preds = append(preds, p)
	}
	return preds
}

func splitKey(key string) (string, Op) {
	for _, s := range suffixes {
		if base, ok := strings.CutSuffix(key, s.suffix); ok && base != "" {
			return base, s.op
		}
	}
	return key, OpEq
}

func build(field string, op Op, typ Type, raw []string) (Predicate, bool) {
	if len(raw) == 0 {
		return Predicate{}, false
	}
	p := Predicate{Field: field, Op: op, typ: typ}
	switch op {
	case OpIn, OpNin:
		var list []any
		for _, r := range raw {
			for _, part := range strings.Split(r, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				if v, ok := convert(typ, part); ok {
					list = append(list, v)
				}
			}
		}
		if len(list) == 0 {
			return Predicate{}, false
		}
		p.Value = list
	case OpLike, OpILike:
		if raw[0] == "" {
			return Predicate{}, false
		}
		p.Value = "%" + escapeLike(raw[0]) + "%"
	default:
		v, ok := convert(typ, raw[0])
		if !ok {
			return Predicate{}, false
		}
		p.Value = v
	}
	return p, true
}

func convert(typ Type, s string) (any, bool) {
	switch typ.kind {
	case kindText:
		return s, true
	case kindEnum:
		return s, slices.Contains(typ.values, s)
	case kindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	case kindNumeric:
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case kindBool:
		b, err := strconv.ParseBool(s)
		return b, err == nil
	case kindTimestamp:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", time.DateOnly} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return nil, false
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Sqlizer renders the predicate for squirrel.
func (p Predicate) Sqlizer() sq.Sqlizer {
	col := p.Field
	switch p.Op {
	case OpEq, OpIn:
		return sq.Eq{col: p.Value}
	case OpNe, OpNin:
		return sq.NotEq{col: p.Value}
	case OpLt:
		return sq.Lt{col: p.Value}
	case OpLte:
		return sq.LtOrEq{col: p.Value}
	case OpGt:
		return sq.Gt{col: p.Value}
	case OpGte:
		return sq.GtOrEq{col: p.Value}
	case OpLike, OpILike:
		if p.typ.kind != kindText {
			col += "::text"
		}
		if p.Op == OpLike {
			return sq.Like{col: p.Value}
		}
		return sq.ILike{col: p.Value}
	}
	return sq.Expr("FALSE")
}

// Apply adds every predicate to b, qualifying columns with prefix when set.
func Apply(b sq.SelectBuilder, preds []Predicate, prefix string) sq.SelectBuilder {
	for _, p := range preds {
		if prefix != "" {
			p.Field = prefix + "." + p.Field
		}
		b = b.Where(p.Sqlizer())
	}
	return b
}

// Search matches q as a case-insensitive substring of any of cols. It
// returns nil for a blank q.
func Search(q string, cols ...string) sq.Sqlizer {
	q = strings.TrimSpace(q)
	if q == "" || len(cols) == 0 {
		return nil
	}
	pattern := "%" + escapeLike(q) + "%"
	or := make(sq.Or, 0, len(cols))
	for _, c := range cols {
		or = append(or, sq.ILike{c: pattern})
	}
	return or
}

// Tags collects tag filters given as repeated keys or comma lists.
func Tags(params url.Values, key string) []string {
	var tags []string
	for _, raw := range params[key] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" && !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

// TagsContain requires col to contain every tag. It returns nil when tags
// is empty.
func TagsContain(col string, tags []string) sq.Sqlizer {
	if len(tags) == 0 {
		return nil
	}
	return sq.Expr(col+" @> ?", tags)
}
