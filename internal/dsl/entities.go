package dsl

// HypothesisNode is a hypothesis entry of experiment.hypotheses with a
// non-empty hypothesis_id.
type HypothesisNode struct {
	ID   string
	Type HypothesisType
	Node map[string]any
}

// TheoryNode is the theory_dsl payload of a theory.theories entry with a
// non-empty theory_id.
type TheoryNode struct {
	ID   string
	Type TheoryType
	Node map[string]any
}

// Hypotheses returns the identifiable hypotheses of experiment in document
// order. Entries that are not objects or lack an id are skipped.
func Hypotheses(experiment map[string]any) []HypothesisNode {
	list, _ := experiment["hypotheses"].([]any)
	var out []HypothesisNode
	for _, item := range list {
		node, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := node["hypothesis_id"].(string)
		if id == "" {
			continue
		}
		typ, _ := node["type"].(string)
		out = append(out, HypothesisNode{ID: id, Type: HypothesisType(typ), Node: node})
	}
	return out
}

// Theories returns the identifiable theory payloads of theory in document order.
func Theories(theory map[string]any) []TheoryNode {
	list, _ := theory["theories"].([]any)
	var out []TheoryNode
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		payload, ok := entry["theory_dsl"].(map[string]any)
		if !ok {
			continue
		}
		id, _ := payload["theory_id"].(string)
		if id == "" {
			continue
		}
		typ, _ := payload["theory_type"].(string)
		out = append(out, TheoryNode{ID: id, Type: TheoryType(typ), Node: payload})
	}
	return out
}

// Content returns a shallow copy of the hypothesis without its signatures member.
func (n HypothesisNode) Content() map[string]any { return withoutSignatures(n.Node) }

// SetSignature fills signatures.hypothesis_signature unless already present.
func (n HypothesisNode) SetSignature(sig string) bool {
	return setNestedSignature(n.Node, "hypothesis_signature", sig)
}

// Content returns a shallow copy of the theory payload without its signatures member.
func (n TheoryNode) Content() map[string]any { return withoutSignatures(n.Node) }

// SetSignature fills signatures.theory_signature unless already present.
func (n TheoryNode) SetSignature(sig string) bool {
	return setNestedSignature(n.Node, "theory_signature", sig)
}

// SetIfAbsent stores v under key unless key is present, whatever its value.
// It reports whether m changed.
func SetIfAbsent(m map[string]any, key string, v any) bool {
	if _, ok := m[key]; ok {
		return false
	}
	m[key] = v
	return true
}

func withoutSignatures(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		if k == "signatures" {
			continue
		}
		out[k] = v
	}
	return out
}

// setNestedSignature creates the signatures object when it is absent and
// leaves the node alone when signatures is present but not an object.
func setNestedSignature(node map[string]any, field, sig string) bool {
	existing, ok := node["signatures"]
	if !ok {
		node["signatures"] = map[string]any{field: sig}
		return true
	}
	sigs, ok := existing.(map[string]any)
	if !ok {
		return false
	}
	return SetIfAbsent(sigs, field, sig)
}
