package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/julienvalera/velib-harvester/internal/models"
)

// objectRule canonicalizes the objects found at path before JSON Schema validation.
// A "*" path segment matches every element of an array; the empty path is the root.
type objectRule struct {
	path string
	// aliases maps an accepted upstream spelling to its canonical field name.
	aliases map[string]string
	// legacy lists duplicate fields accepted on input and dropped.
	legacy []string
}

func (r objectRule) apply(path string, obj map[string]any) []Violation {
	var out []Violation
	for _, alias := range sortedKeys(r.aliases) {
		canonical := r.aliases[alias]
		v, ok := obj[alias]
		if !ok {
			continue
		}
		delete(obj, alias)
		if _, dup := obj[canonical]; dup {
			out = append(out, Violation{
				Kind:    KindAliasConflict,
				Path:    joinPath(path, alias),
				Message: fmt.Sprintf("%q and %q are the same field and cannot both be set", alias, canonical),
			})
			continue
		}
		obj[canonical] = v
	}
	for _, name := range r.legacy {
		delete(obj, name)
	}
	return out
}

// crossFieldRule checks constraints JSON Schema cannot express. It runs on the
// canonicalized document and must tolerate shapes the schema already rejects.
type crossFieldRule func(doc map[string]any) []Violation

const availableTypesField = "num_bikes_available_types"

// availableTypesRule requires exactly two entries, mechanical first and ebike second.
// In strict mode each entry must also carry its count.
func availableTypesRule(strict bool) crossFieldRule {
	order := []string{models.BikeTypeMechanical, models.BikeTypeElectrical}
	return func(doc map[string]any) []Violation {
		var out []Violation
		forEachObject(doc, splitPath("data.stations.*"), "", func(path string, station map[string]any) {
			entries, ok := station[availableTypesField].([]any)
			if !ok {
				return
			}
			fieldPath := joinPath(path, availableTypesField)
			if len(entries) != len(order) {
				out = append(out, Violation{
					Kind:     KindAvailableTypes,
					Path:     fieldPath,
					Expected: "2 entries",
					Actual:   fmt.Sprintf("%d entries", len(entries)),
					Message:  "must contain two available types",
				})
				return
			}
			for i, want := range order {
				entry, ok := entries[i].(map[string]any)
				if !ok {
					continue
				}
				if msg := checkAvailableType(entry, want, strict); msg != "" {
					out = append(out, Violation{
						Kind:     KindAvailableTypes,
						Path:     joinPath(fieldPath, strconv.Itoa(i)),
						Expected: want,
						Actual:   strings.Join(sortedKeys(entry), ","),
						Message:  msg,
					})
				}
			}
		})
		return out
	}
}

func checkAvailableType(entry map[string]any, want string, strict bool) string {
	for key := range entry {
		if key != want && (key == models.BikeTypeMechanical || key == models.BikeTypeElectrical) {
			return "available types must be ordered mechanical, ebike"
		}
	}
	if _, ok := entry[want]; strict && !ok {
		return fmt.Sprintf("available type entry is missing its %q count", want)
	}
	return ""
}

// forEachObject calls fn for every object reachable through segs.
func forEachObject(node any, segs []string, path string, fn func(path string, obj map[string]any)) {
	if len(segs) == 0 {
		if obj, ok := node.(map[string]any); ok {
			fn(path, obj)
		}
		return
	}
	seg, rest := segs[0], segs[1:]
	if seg == "*" {
		items, ok := node.([]any)
		if !ok {
			return
		}
		for i, item := range items {
			forEachObject(item, rest, joinPath(path, strconv.Itoa(i)), fn)
		}
		return
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return
	}
	child, ok := obj[seg]
	if !ok {
		return
	}
	forEachObject(child, rest, joinPath(path, seg), fn)
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func joinPath(parent, child string) string {
	switch {
	case parent == "":
		return child
	case child == "":
		return parent
	}
	return parent + "." + child
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
