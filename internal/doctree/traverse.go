package doctree

// EnclosingUnit walks upward from id to the nearest addressable unit.
// A node that is itself addressable is its own enclosing unit.
func EnclosingUnit(tree Tree, id string) (string, bool) {
	current := id
	for {
		node, ok := tree.NodeOf(current)
		if !ok {
			return "", false
		}
		if node.Kind.Addressable() {
			return current, true
		}
		parent, ok := tree.ParentOf(current)
		if !ok {
			return "", false
		}
		current = parent
	}
}

// UnitsBetween enumerates every addressable unit between the units enclosing
// startID and endID, inclusive, in document order. Both anchors may be inline
// spans; they are lifted to their enclosing units first. The two units must
// be siblings under a shared parent (a selection dragged across paragraphs).
func UnitsBetween(tree Tree, startID, endID string) ([]string, error) {
	startUnit, ok := EnclosingUnit(tree, startID)
	if !ok {
		return nil, ErrNodeNotFound
	}
	endUnit, ok := EnclosingUnit(tree, endID)
	if !ok {
		return nil, ErrNodeNotFound
	}
	if startUnit == endUnit {
		return []string{startUnit}, nil
	}
	startParent, ok := tree.ParentOf(startUnit)
	if !ok {
		return nil, ErrNoCommonParent
	}
	endParent, ok := tree.ParentOf(endUnit)
	if !ok || startParent != endParent {
		return nil, ErrNoCommonParent
	}
	siblings := tree.ChildrenOf(startParent)
	startIdx, endIdx := -1, -1
	for i, id := range siblings {
		if id == startUnit {
			startIdx = i
		}
		if id == endUnit {
			endIdx = i
		}
	}
	if startIdx < 0 || endIdx < 0 {
		return nil, ErrNodeNotFound
	}
	if startIdx > endIdx {
		startIdx, endIdx = endIdx, startIdx
	}
	var units []string
	for _, id := range siblings[startIdx : endIdx+1] {
		node, _ := tree.NodeOf(id)
		if node.Kind.Addressable() {
			units = append(units, id)
		}
	}
	return units, nil
}
