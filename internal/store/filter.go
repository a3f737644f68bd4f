package store

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// lookup resolves a dotted path against a decoded document. Arrays fan out
// the way Mongo does, so "author.given" yields the given name of every author.
func lookup(v interface{}, path string) []interface{} {
	cur := []interface{}{v}
	for _, part := range strings.Split(path, ".") {
		next := []interface{}{}
		for _, c := range cur {
			next = append(next, children(c, part)...)
		}
		cur = next
	}
	return cur
}

func children(v interface{}, key string) []interface{} {
	switch t := v.(type) {
	case bson.M:
		if x, ok := t[key]; ok {
			return []interface{}{x}
		}
	case map[string]interface{}:
		if x, ok := t[key]; ok {
			return []interface{}{x}
		}
	case bson.D:
		for _, e := range t {
			if e.Key == key {
				return []interface{}{e.Value}
			}
		}
	case bson.A:
		return arrayChildren([]interface{}(t), key)
	case []interface{}:
		return arrayChildren(t, key)
	}
	return nil
}

func arrayChildren(arr []interface{}, key string) []interface{} {
	if idx, err := strconv.Atoi(key); err == nil {
		if idx >= 0 && idx < len(arr) {
			return []interface{}{arr[idx]}
		}
		return nil
	}
	out := []interface{}{}
	for _, el := range arr {
		out = append(out, children(el, key)...)
	}
	return out
}

func first(vals []interface{}) interface{} {
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

func asMap(v interface{}) (bson.M, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case map[string]interface{}:
		return bson.M(t), true
	case bson.D:
		return t.Map(), true
	}
	return nil, false
}

func asList(v interface{}) []interface{} {
	switch t := v.(type) {
	case bson.A:
		return t
	case []interface{}:
		return t
	case []bson.M:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	}
	return nil
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case bson.A:
		return t, true
	case []interface{}:
		return t, true
	}
	return nil, false
}

// flatten expands array values one level, keeping the arrays themselves.
func flatten(vals []interface{}) []interface{} {
	out := make([]interface{}, 0, len(vals))
	for _, v := range vals {
		out = append(out, v)
		if arr, ok := asArray(v); ok {
			out = append(out, arr...)
		}
	}
	return out
}

// matches reports whether doc satisfies filter.
func matches(doc bson.M, filter bson.M) bool {
	for k, cond := range filter {
		switch k {
		case "$or":
			ok := false
			for _, f := range asList(cond) {
				if fm, isMap := asMap(f); isMap && matches(doc, fm) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		case "$and":
			for _, f := range asList(cond) {
				fm, isMap := asMap(f)
				if !isMap || !matches(doc, fm) {
					return false
				}
			}
		case "$nor":
			for _, f := range asList(cond) {
				if fm, isMap := asMap(f); isMap && matches(doc, fm) {
					return false
				}
			}
		default:
			if !matchField(lookup(doc, k), cond) {
				return false
			}
		}
	}
	return true
}

func isOperatorDoc(m bson.M) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func matchField(vals []interface{}, cond interface{}) bool {
	ops, ok := asMap(cond)
	if !ok || !isOperatorDoc(ops) {
		return matchEq(vals, cond)
	}
	for op, arg := range ops {
		switch op {
		case "$eq":
			if !matchEq(vals, arg) {
				return false
			}
		case "$ne":
			if matchEq(vals, arg) {
				return false
			}
		case "$exists":
			want, _ := arg.(bool)
			if want != (len(vals) > 0) {
				return false
			}
		case "$in":
			found := false
			for _, a := range asList(arg) {
				if matchEq(vals, a) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$nin":
			for _, a := range asList(arg) {
				if matchEq(vals, a) {
					return false
				}
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !matchRange(vals, op, arg) {
				return false
			}
		case "$regex":
			opts, _ := ops["$options"].(string)
			if !matchRegex(vals, arg, opts) {
				return false
			}
		case "$options":
			// consumed by $regex
		case "$elemMatch":
			if !matchElem(vals, arg) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// matchElem requires one array element to satisfy every condition in cond.
func matchElem(vals []interface{}, cond interface{}) bool {
	filter, ok := asMap(cond)
	if !ok {
		return false
	}
	for _, v := range vals {
		arr, ok := asArray(v)
		if !ok {
			continue
		}
		for _, el := range arr {
			if isOperatorDoc(filter) {
				if matchField([]interface{}{el}, filter) {
					return true
				}
				continue
			}
			if m, isMap := asMap(el); isMap && matches(m, filter) {
				return true
			}
		}
	}
	return false
}

func matchEq(vals []interface{}, want interface{}) bool {
	if want == nil && len(vals) == 0 {
		return true
	}
	for _, v := range flatten(vals) {
		if equalValues(v, want) {
			return true
		}
	}
	return false
}

func matchRange(vals []interface{}, op string, arg interface{}) bool {
	for _, v := range flatten(vals) {
		if typeRank(v) != typeRank(arg) {
			continue
		}
		c := compareValues(v, arg, false)
		switch op {
		case "$gt":
			if c > 0 {
				return true
			}
		case "$gte":
			if c >= 0 {
				return true
			}
		case "$lt":
			if c < 0 {
				return true
			}
		case "$lte":
			if c <= 0 {
				return true
			}
		}
	}
	return false
}

func matchRegex(vals []interface{}, arg interface{}, opts string) bool {
	var pattern string
	switch t := arg.(type) {
	case string:
		pattern = t
	case primitive.Regex:
		pattern = t.Pattern
		opts += t.Options
	default:
		return false
	}
	if strings.Contains(opts, "i") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	for _, v := range flatten(vals) {
		if s, ok := v.(string); ok && re.MatchString(s) {
			return true
		}
	}
	return false
}

// typeRank follows the BSON comparison order for the types we store.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case string:
		return 3
	case bson.M, map[string]interface{}, bson.D:
		return 4
	case bson.A, []interface{}:
		return 5
	case bool:
		return 8
	case primitive.DateTime, time.Time:
		return 9
	}
	return 10
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	}
	return 0
}

func toMillis(v interface{}) int64 {
	switch t := v.(type) {
	case primitive.DateTime:
		return int64(t)
	case time.Time:
		return t.UnixMilli()
	}
	return 0
}

// compareValues orders two values; fold enables case-insensitive string
// comparison (collation strength 1 or 2).
func compareValues(a, b interface{}, fold bool) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		return 0
	case 2:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		sa, sb := a.(string), b.(string)
		if fold {
			sa, sb = strings.ToLower(sa), strings.ToLower(sb)
		}
		return strings.Compare(sa, sb)
	case 8:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 9:
		ma, mb := toMillis(a), toMillis(b)
		switch {
		case ma < mb:
			return -1
		case ma > mb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func equalValues(a, b interface{}) bool {
	if typeRank(a) != typeRank(b) {
		return false
	}
	switch typeRank(a) {
	case 1, 2, 3, 8, 9:
		return compareValues(a, b, false) == 0
	}
	return reflect.DeepEqual(a, b)
}

func keyString(v interface{}) string {
	switch typeRank(v) {
	case 1:
		return "null"
	case 2:
		return "n:" + strconv.FormatFloat(toFloat(v), 'g', -1, 64)
	case 3:
		return "s:" + v.(string)
	case 9:
		return "d:" + strconv.FormatInt(toMillis(v), 10)
	}
	return fmt.Sprintf("%T:%v", v, v)
}
