// ABOUTME: Branch navigation: switching between sibling variants of a message
// ABOUTME: Recomputes the leaf pointer without ever mutating the graph

package graph

// SwitchVariant computes the new leaf id after switching the message
// identified by targetID to the sibling branch at requestedIndex (1-based).
// An index below 1 wraps to the last sibling; an index above the group size
// wraps to the first.
//
// After selecting the sibling branch root, the walk descends through the
// last child at every level, which lands on the most recently continued
// tip of that branch.
//
// Returns currentLeaf unchanged when the target, its grouping root, or the
// sibling list cannot be resolved. The mapping is never mutated.
func SwitchVariant(m Mapping, currentLeaf, targetID string, requestedIndex int) string {
	node, ok := m[targetID]
	if !ok {
		return currentLeaf
	}

	role := node.Role()
	var groupRootID string
	switch role {
	case RoleUser:
		groupRootID = node.Parent
	case RoleAssistant:
		turnRootID, _, found := TurnRoot(m, targetID)
		if !found {
			return currentLeaf
		}
		groupRootID = turnRootID
	default:
		return currentLeaf
	}

	groupRoot, ok := m[groupRootID]
	if !ok {
		return currentLeaf
	}

	siblings := siblingsWithRole(m, groupRoot.Children, role)
	if len(siblings) == 0 {
		return currentLeaf
	}

	idx := requestedIndex
	if idx < 1 {
		idx = len(siblings)
	} else if idx > len(siblings) {
		idx = 1
	}

	return descendToLeaf(m, siblings[idx-1])
}

// descendToLeaf follows the last child at each level until a node with no
// children is reached.
func descendToLeaf(m Mapping, id string) string {
	for steps := 0; steps <= len(m); steps++ {
		node, ok := m[id]
		if !ok || len(node.Children) == 0 {
			return id
		}
		id = node.Children[len(node.Children)-1]
	}
	return id
}
