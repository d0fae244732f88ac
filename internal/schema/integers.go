package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// integerFields lists every integer-declared field of a schema document as a path
// ("*" for array items), e.g. "data.stations.*.capacity".
func integerFields(doc []byte) ([]string, error) {
	var root map[string]any
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, err
	}
	var paths []string
	collectIntegers(root, "", &paths)
	sort.Strings(paths)
	return paths, nil
}

func collectIntegers(node map[string]any, path string, out *[]string) {
	if path != "" && declaresInteger(node["type"]) {
		*out = append(*out, path)
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for name, sub := range props {
			if child, ok := sub.(map[string]any); ok {
				collectIntegers(child, joinPath(path, name), out)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		collectIntegers(items, joinPath(path, "*"), out)
	}
}

func declaresInteger(t any) bool {
	switch t := t.(type) {
	case string:
		return t == "integer"
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == "integer" {
				return true
			}
		}
	}
	return false
}

// integerViolations reports integral numbers that do not decode as int64: literals with
// a fraction or exponent (48.0, 1e3) and values out of range. JSON Schema accepts these as
// integers. Non-integral numbers are left to the schema's type check.
func integerViolations(doc map[string]any, paths []string) []Violation {
	var out []Violation
	for _, p := range paths {
		segs := splitPath(p)
		parent, field := segs[:len(segs)-1], segs[len(segs)-1]
		forEachObject(doc, parent, "", func(path string, obj map[string]any) {
			n, ok := obj[field].(json.Number)
			if !ok {
				return
			}
			if v := checkInteger(n); v != nil {
				v.Path = joinPath(path, field)
				out = append(out, *v)
			}
		})
	}
	return out
}

func checkInteger(n json.Number) *Violation {
	_, err := strconv.ParseInt(string(n), 10, 64)
	if err == nil {
		return nil
	}
	r, ok := new(big.Rat).SetString(string(n))
	if !ok || !r.IsInt() {
		return nil
	}
	v := &Violation{
		Kind:     KindTypeMismatch,
		Expected: "integer",
		Actual:   fmt.Sprintf("number %s", n),
		Message:  "integer must be written without fraction or exponent",
	}
	if errors.Is(err, strconv.ErrRange) {
		v.Message = "integer does not fit in 64 bits"
	}
	return v
}
