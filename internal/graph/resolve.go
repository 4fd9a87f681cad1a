// ABOUTME: Thread resolution from a branching conversation graph
// ABOUTME: Walks leaf-to-root, filters to displayable messages, attaches variant info

package graph

import (
	"strings"
	"time"
)

// VariantInfo describes a message's position within its sibling group when
// more than one branch exists at the same conversational point.
type VariantInfo struct {
	Index       int    `json:"index"` // 1-based
	Total       int    `json:"total"`
	GroupRootID string `json:"group_root_id"`
}

// DisplayMessage is one entry of the resolved, user-facing thread. Derived
// from the graph on every resolve, never stored.
type DisplayMessage struct {
	ID         string       `json:"id"`
	Role       string       `json:"role"`
	SenderName string       `json:"sender_name"`
	Content    string       `json:"content"`
	CreatedAt  time.Time    `json:"created_at"`
	Variant    *VariantInfo `json:"variant,omitempty"`
}

// Resolve walks the graph from leafID to the root and returns the visible
// thread in chronological order (oldest first).
//
// Nodes are skipped when they carry no message, the role is neither user
// nor assistant, the message is marked hidden, or the rendered content is
// empty after trimming. A missing leaf or empty mapping resolves to an
// empty thread, never an error.
func Resolve(m Mapping, leafID string) []DisplayMessage {
	if len(m) == 0 {
		return nil
	}

	var collected []DisplayMessage
	currentID := leafID

	// Bounded walk: a well-formed graph reaches the root in at most
	// len(m) steps.
	for steps := 0; currentID != "" && steps <= len(m); steps++ {
		node, ok := m[currentID]
		if !ok {
			break
		}

		if dm, ok := displayMessage(m, node); ok {
			collected = append(collected, dm)
		}
		currentID = node.Parent
	}

	// Collected leaf-first; reverse into chronological order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected
}

// displayMessage converts one node into a DisplayMessage, reporting ok=false
// when the node is filtered out of the thread.
func displayMessage(m Mapping, node *Node) (DisplayMessage, bool) {
	msg := node.Message
	if msg == nil || msg.Metadata.HiddenFromConversation {
		return DisplayMessage{}, false
	}

	role := msg.Author.Role
	if role != RoleUser && role != RoleAssistant {
		return DisplayMessage{}, false
	}

	content := RenderContent(msg)
	if strings.TrimSpace(content) == "" {
		return DisplayMessage{}, false
	}

	return DisplayMessage{
		ID:         msg.ID,
		Role:       role,
		SenderName: senderName(msg),
		Content:    content,
		CreatedAt:  msg.CreatedAt(),
		Variant:    variantInfo(m, node, role),
	}, true
}

func senderName(msg *Message) string {
	if msg.Author.Role == RoleUser {
		return "You"
	}
	if msg.Author.Name != "" {
		return msg.Author.Name
	}
	return "Assistant"
}

// variantInfo computes sibling-branch metadata for a node, or nil when the
// node has no alternatives.
//
// User messages group under their direct parent: siblings are the parent's
// children whose role is also user (edits of the same prompt). Assistant
// messages group under their turn root: the nearest user ancestor, with the
// branch identified by the turn root's direct child on this path.
func variantInfo(m Mapping, node *Node, role string) *VariantInfo {
	switch role {
	case RoleUser:
		parent, ok := m[node.Parent]
		if !ok {
			return nil
		}
		siblings := siblingsWithRole(m, parent.Children, RoleUser)
		if len(siblings) <= 1 {
			return nil
		}
		idx := indexOf(siblings, node.ID)
		if idx < 0 {
			return nil
		}
		return &VariantInfo{
			Index:       idx + 1,
			Total:       len(siblings),
			GroupRootID: parent.ID,
		}

	case RoleAssistant:
		turnRootID, branchRootID, ok := TurnRoot(m, node.ID)
		if !ok {
			// Orphaned assistant branch: no user ancestor means no
			// variant group to report.
			return nil
		}
		turnRoot := m[turnRootID]
		branches := siblingsWithRole(m, turnRoot.Children, RoleAssistant)
		if len(branches) <= 1 {
			return nil
		}
		idx := indexOf(branches, branchRootID)
		if idx < 0 {
			return nil
		}
		return &VariantInfo{
			Index:       idx + 1,
			Total:       len(branches),
			GroupRootID: turnRootID,
		}
	}
	return nil
}
