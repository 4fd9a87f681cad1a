// ABOUTME: Tests for thread resolution: ordering, filtering, and variant metadata
// ABOUTME: Includes the canonical two-variant scenario from the backend's graph shape

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoVariantMapping builds the canonical scenario: one user message with two
// assistant replies as sibling branches.
//
//	u1 ("Hi") -> a1 ("Hello"), a2 ("Hey there")
func twoVariantMapping() Mapping {
	return Mapping{
		"root": newNode("root", "", "", "", "u1"),
		"u1":   newNode("u1", "root", RoleUser, "Hi", "a1", "a2"),
		"a1":   newNode("a1", "u1", RoleAssistant, "Hello"),
		"a2":   newNode("a2", "u1", RoleAssistant, "Hey there"),
	}
}

func TestResolve_TwoVariantScenario(t *testing.T) {
	m := twoVariantMapping()

	thread := Resolve(m, "a2")
	require.Len(t, thread, 2)

	assert.Equal(t, "Hi", thread[0].Content)
	assert.Equal(t, RoleUser, thread[0].Role)
	assert.Nil(t, thread[0].Variant)

	assert.Equal(t, "Hey there", thread[1].Content)
	require.NotNil(t, thread[1].Variant)
	assert.Equal(t, 2, thread[1].Variant.Index)
	assert.Equal(t, 2, thread[1].Variant.Total)
	assert.Equal(t, "u1", thread[1].Variant.GroupRootID)

	thread = Resolve(m, "a1")
	require.Len(t, thread, 2)
	assert.Equal(t, "Hello", thread[1].Content)
	require.NotNil(t, thread[1].Variant)
	assert.Equal(t, 1, thread[1].Variant.Index)
	assert.Equal(t, 2, thread[1].Variant.Total)
}

func TestResolve_ChronologicalOrder(t *testing.T) {
	m := Mapping{
		"root": newNode("root", "", "", "", "u1"),
		"u1":   newNode("u1", "root", RoleUser, "first", "a1"),
		"a1":   newNode("a1", "u1", RoleAssistant, "second", "u2"),
		"u2":   newNode("u2", "a1", RoleUser, "third", "a2"),
		"a2":   newNode("a2", "u2", RoleAssistant, "fourth"),
	}

	thread := Resolve(m, "a2")
	require.Len(t, thread, 4)
	for i, want := range []string{"first", "second", "third", "fourth"} {
		assert.Equal(t, want, thread[i].Content)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	m := twoVariantMapping()
	first := Resolve(m, "a2")
	second := Resolve(m, "a2")
	assert.Equal(t, first, second)
}

func TestResolve_EmptyGraph(t *testing.T) {
	assert.Empty(t, Resolve(Mapping{}, "anything"))
	assert.Empty(t, Resolve(nil, "anything"))
}

func TestResolve_MissingLeaf(t *testing.T) {
	m := twoVariantMapping()
	assert.Empty(t, Resolve(m, "not-there"))
}

func TestResolve_FiltersHiddenAndNonConversational(t *testing.T) {
	hidden := newNode("h1", "u1", RoleAssistant, "secret", "a1")
	hidden.Message.Metadata.HiddenFromConversation = true

	m := Mapping{
		"root": newNode("root", "", "", "", "s1"),
		"s1":   newNode("s1", "root", RoleSystem, "system prompt", "u1"),
		"u1":   newNode("u1", "s1", RoleUser, "Hi", "h1"),
		"h1":   hidden,
		"a1":   newNode("a1", "h1", RoleAssistant, "visible"),
	}

	thread := Resolve(m, "a1")
	require.Len(t, thread, 2)
	assert.Equal(t, "Hi", thread[0].Content)
	assert.Equal(t, "visible", thread[1].Content)
}

func TestResolve_FiltersEmptyContent(t *testing.T) {
	m := Mapping{
		"root": newNode("root", "", "", "", "u1"),
		"u1":   newNode("u1", "root", RoleUser, "Hi", "a1"),
		"a1":   newNode("a1", "u1", RoleAssistant, "   \n\t ", "a2"),
		"a2":   newNode("a2", "a1", RoleAssistant, "real answer"),
	}

	thread := Resolve(m, "a2")
	require.Len(t, thread, 2)
	assert.Equal(t, "real answer", thread[1].Content)
}

func TestResolve_UserVariants(t *testing.T) {
	// Two edits of the same prompt under one parent.
	m := Mapping{
		"root": newNode("root", "", "", "", "u1", "u2"),
		"u1":   newNode("u1", "root", RoleUser, "original"),
		"u2":   newNode("u2", "root", RoleUser, "edited", "a1"),
		"a1":   newNode("a1", "u2", RoleAssistant, "reply"),
	}

	thread := Resolve(m, "a1")
	require.Len(t, thread, 2)
	require.NotNil(t, thread[0].Variant)
	assert.Equal(t, 2, thread[0].Variant.Index)
	assert.Equal(t, 2, thread[0].Variant.Total)
	assert.Equal(t, "root", thread[0].Variant.GroupRootID)
}

func TestResolve_AssistantVariantThroughToolNodes(t *testing.T) {
	// Branch roots are tool nodes; the assistant messages sit below them.
	// Variant indexing must follow the branch root, not the assistant id.
	m := Mapping{
		"root": newNode("root", "", "", "", "u1"),
		"u1":   newNode("u1", "root", RoleUser, "Hi", "b1", "b2"),
		"b1":   newNode("b1", "u1", RoleAssistant, "first reply"),
		"b2":   newNode("b2", "u1", RoleTool, "lookup", "a2"),
		"a2":   newNode("a2", "b2", RoleAssistant, "second reply"),
	}

	thread := Resolve(m, "a2")
	require.Len(t, thread, 2)
	// Only b1 carries role assistant among u1's direct children, so the
	// group has a single assistant branch root and a2's branch root (b2,
	// a tool node) is not in the filtered list: no variant info.
	assert.Nil(t, thread[1].Variant)
}

func TestResolve_OrphanedAssistantNoVariant(t *testing.T) {
	m := Mapping{
		"s1": newNode("s1", "", RoleSystem, "sys", "a1", "a2"),
		"a1": newNode("a1", "s1", RoleAssistant, "one"),
		"a2": newNode("a2", "s1", RoleAssistant, "two"),
	}

	thread := Resolve(m, "a1")
	require.Len(t, thread, 1)
	assert.Nil(t, thread[0].Variant)
}

func TestResolve_SingleBranchNoVariant(t *testing.T) {
	m := Mapping{
		"root": newNode("root", "", "", "", "u1"),
		"u1":   newNode("u1", "root", RoleUser, "Hi", "a1"),
		"a1":   newNode("a1", "u1", RoleAssistant, "Hello"),
	}

	thread := Resolve(m, "a1")
	require.Len(t, thread, 2)
	assert.Nil(t, thread[0].Variant)
	assert.Nil(t, thread[1].Variant)
}

func TestResolve_SenderNames(t *testing.T) {
	named := newNode("a1", "u1", RoleAssistant, "Hello")
	named.Message.Author.Name = "gpt-pro"

	m := Mapping{
		"u1": newNode("u1", "", RoleUser, "Hi", "a1"),
		"a1": named,
	}

	thread := Resolve(m, "a1")
	require.Len(t, thread, 2)
	assert.Equal(t, "You", thread[0].SenderName)
	assert.Equal(t, "gpt-pro", thread[1].SenderName)
}
