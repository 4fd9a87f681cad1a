// Package graph reconstructs linear, displayable threads from the branching
// conversation graph returned by the chat backend.
//
// # Graph model
//
// The backend delivers a conversation as a flat mapping of node id to node,
// where each node links to its parent and an ordered list of children. The
// mapping is treated as an immutable arena: links are ids, the structure is
// read-only after fetch, and a refetch replaces it wholesale.
//
// A conversation with edits and regenerations is a tree:
//
//	root
//	└── U1 (user: "Hi")
//	    ├── A1 (assistant: "Hello")
//	    └── A2 (assistant: "Hey there")
//
// The visible thread is the path from a chosen leaf up to the root, filtered
// to user/assistant messages and reversed into chronological order.
//
// # Variants
//
// Sibling branches at the same conversational point are variants. User
// variants are edits of the same prompt: children of one parent that all
// carry role "user". Assistant variants are regenerations of one reply:
// branches under the same turn root, the nearest user ancestor. Because an
// assistant reply can sit below intermediate tool-call nodes, finding the
// turn root means climbing the spine until a user message appears; TurnRoot
// implements that climb.
//
// # Operations
//
//   - Resolve(mapping, leafID): leaf-to-root walk producing []DisplayMessage
//   - SwitchVariant(mapping, leaf, messageID, index): recompute the leaf after
//     the presentation layer requests a different variant
//
// Both operations degrade to empty/no-op results on missing ids; a damaged
// graph never produces an error, only a shorter thread.
package graph
