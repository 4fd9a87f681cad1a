// ABOUTME: Tests for graph primitives: content rendering and the turn-root ascent
// ABOUTME: The turn-root climb is subtle enough to earn its own coverage

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newNode builds a graph node with a simple one-part text message. An empty
// role produces a message-less placeholder node.
func newNode(id, parent, role, text string, children ...string) *Node {
	n := &Node{
		ID:       id,
		Parent:   parent,
		Children: children,
	}
	if role != "" {
		n.Message = &Message{
			ID:      id,
			Author:  Author{Role: role},
			Content: Content{ContentType: "text", Parts: []any{text}},
		}
	}
	return n
}

func TestTurnRoot_DirectParent(t *testing.T) {
	m := Mapping{
		"u1": newNode("u1", "", RoleUser, "Hi", "a1"),
		"a1": newNode("a1", "u1", RoleAssistant, "Hello"),
	}

	turnRoot, branchRoot, ok := TurnRoot(m, "a1")
	require.True(t, ok)
	assert.Equal(t, "u1", turnRoot)
	assert.Equal(t, "a1", branchRoot)
}

func TestTurnRoot_ClimbsThroughToolNodes(t *testing.T) {
	// u1 -> t1 (tool) -> t2 (tool) -> a1: the branch root is the direct
	// child of the turn root on the ascent path, not the assistant node.
	m := Mapping{
		"u1": newNode("u1", "", RoleUser, "Hi", "t1"),
		"t1": newNode("t1", "u1", RoleTool, "lookup", "t2"),
		"t2": newNode("t2", "t1", RoleTool, "result", "a1"),
		"a1": newNode("a1", "t2", RoleAssistant, "Hello"),
	}

	turnRoot, branchRoot, ok := TurnRoot(m, "a1")
	require.True(t, ok)
	assert.Equal(t, "u1", turnRoot)
	assert.Equal(t, "t1", branchRoot)
}

func TestTurnRoot_OrphanedBranch(t *testing.T) {
	// No user ancestor anywhere on the spine.
	m := Mapping{
		"s1": newNode("s1", "", RoleSystem, "sys", "a1"),
		"a1": newNode("a1", "s1", RoleAssistant, "Hello"),
	}

	_, _, ok := TurnRoot(m, "a1")
	assert.False(t, ok)
}

func TestTurnRoot_MissingNode(t *testing.T) {
	m := Mapping{}
	_, _, ok := TurnRoot(m, "nope")
	assert.False(t, ok)
}

func TestTurnRoot_DanglingParentLink(t *testing.T) {
	m := Mapping{
		"a1": newNode("a1", "gone", RoleAssistant, "Hello"),
	}
	_, _, ok := TurnRoot(m, "a1")
	assert.False(t, ok)
}

func TestRenderContent_JoinsStringParts(t *testing.T) {
	msg := &Message{Content: Content{Parts: []any{"one", "two"}}}
	assert.Equal(t, "one\ntwo", RenderContent(msg))
}

func TestRenderContent_DropsNonStringParts(t *testing.T) {
	msg := &Message{Content: Content{Parts: []any{
		"text",
		map[string]any{"content_type": "image_asset_pointer"},
		"more",
	}}}
	assert.Equal(t, "text\nmore", RenderContent(msg))
}

func TestRenderContent_FallsBackToText(t *testing.T) {
	msg := &Message{Content: Content{Text: "plain"}}
	assert.Equal(t, "plain", RenderContent(msg))
}

func TestRenderContent_Nil(t *testing.T) {
	assert.Equal(t, "", RenderContent(nil))
}

func TestCreatedAt_NilCreateTime(t *testing.T) {
	msg := &Message{}
	assert.True(t, msg.CreatedAt().IsZero())
}

func TestCreatedAt_UnixSeconds(t *testing.T) {
	ts := 1700000000.5
	msg := &Message{CreateTime: &ts}
	got := msg.CreatedAt()
	assert.Equal(t, int64(1700000000), got.Unix())
}
