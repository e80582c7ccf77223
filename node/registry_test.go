package node

import (
	"testing"

	"github.com/efmgo/dslink/nodepath"
)

func TestRegistryRootOnlyPatternNeverFires(t *testing.T) {
	r := NewRegistry()
	pattern, err := nodepath.ParsePattern("/")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	fired := false
	r.OnMatch(pattern, func(n *Node, deserializing bool) { fired = true })

	tree := NewTree()
	r.Notify(tree.Root(), false)
	if fired {
		t.Error("root-only pattern callback fired")
	}
}

func TestRegistryReRegistrationOverwrites(t *testing.T) {
	r := NewRegistry()
	pattern, _ := nodepath.ParsePattern("/devices/*")

	var calls []string
	r.OnMatch(pattern, func(n *Node, deserializing bool) { calls = append(calls, "first") })
	r.OnMatch(pattern, func(n *Node, deserializing bool) { calls = append(calls, "second") })

	tree := NewTree()
	NewBuilder(tree, nodepath.Root()).MakeNode("devices").Build()
	n, _ := tree.Get(nodepath.MustParse("/devices"))
	child := newNode(nodepath.MustParse("/devices/d1"), "node")
	child.parent = n

	r.Notify(child, false)
	if len(calls) != 1 || calls[0] != "second" {
		t.Errorf("calls = %v, want exactly one call to the second registration", calls)
	}
}

func TestRegistryDeserializingFlagPasses(t *testing.T) {
	r := NewRegistry()
	pattern, _ := nodepath.ParsePattern("/a")
	var gotFlag bool
	r.OnMatch(pattern, func(n *Node, deserializing bool) { gotFlag = deserializing })

	n := newNode(nodepath.MustParse("/a"), "node")
	r.Notify(n, true)

	if !gotFlag {
		t.Error("deserializing flag not propagated to callback")
	}
}
