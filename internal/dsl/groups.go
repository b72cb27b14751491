package dsl

import (
	"fmt"
	"sort"
)

// Group is a group definition found in a decoded document. The concrete
// type is *SQLGroup or *ProtocolGroup.
type Group interface {
	GroupName() string
	Kind() GroupKind
	Node() map[string]any
}

// SQLGroup is a group selected by a WHERE-suffix fragment.
type SQLGroup struct {
	Name string
	SQL  string
	node map[string]any
}

func (g *SQLGroup) GroupName() string    { return g.Name }
func (g *SQLGroup) Kind() GroupKind      { return GroupWhereSQL }
func (g *SQLGroup) Node() map[string]any { return g.node }

// SetSignature stores sig as group_signature unless the node already has one.
func (g *SQLGroup) SetSignature(sig string) bool {
	return SetIfAbsent(g.node, "group_signature", sig)
}

// ProtocolGroup is a group defined by a sampling protocol. It carries no
// executable fragment and is never signed.
type ProtocolGroup struct {
	Name     string
	Protocol GroupKind
	node     map[string]any
}

func (g *ProtocolGroup) GroupName() string    { return g.Name }
func (g *ProtocolGroup) Kind() GroupKind      { return g.Protocol }
func (g *ProtocolGroup) Node() map[string]any { return g.node }

// isGroupShaped reports whether node looks like a group definition: a
// non-empty string name plus a definition or group_sql member.
func isGroupShaped(node map[string]any) bool {
	name, ok := node["name"].(string)
	if !ok || name == "" {
		return false
	}
	_, hasDef := node["definition"]
	_, hasSQL := node["group_sql"]
	return hasDef || hasSQL
}

// ClassifyGroup maps a group-shaped node onto its variant. It returns false
// for nodes that are not group-shaped, for unknown kinds and for where_sql
// groups whose fragment is not a string; the schema reports those.
func ClassifyGroup(node map[string]any) (Group, bool) {
	if !isGroupShaped(node) {
		return nil, false
	}
	name := node["name"].(string)
	kind, _ := node["definition"].(string)

	switch k := GroupKind(kind); {
	case k == GroupWhereSQL:
		sql, ok := node["group_sql"].(string)
		if !ok {
			return nil, false
		}
		return &SQLGroup{Name: name, SQL: sql, node: node}, true
	case k.IsProtocol():
		return &ProtocolGroup{Name: name, Protocol: k, node: node}, true
	default:
		return nil, false
	}
}

// WalkGroups visits every classified group below root. Object members are
// visited in sorted key order and arrays in index order, so the visit order
// is a function of the document alone. The members of a group-shaped node
// are not searched further.
//
// fn receives the location of the node (for example
// "experiment.hypotheses[0].groups[1]"). Returning an error stops the walk.
func WalkGroups(root any, fn func(path string, g Group) error) error {
	return walkGroups(root, "", fn)
}

func walkGroups(v any, path string, fn func(string, Group) error) error {
	switch t := v.(type) {
	case map[string]any:
		if isGroupShaped(t) {
			if g, ok := ClassifyGroup(t); ok {
				return fn(path, g)
			}
			return nil
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := walkGroups(t[k], joinPath(path, k), fn); err != nil {
				return err
			}
		}
	case []any:
		for i := range t {
			if err := walkGroups(t[i], fmt.Sprintf("%s[%d]", path, i), fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
