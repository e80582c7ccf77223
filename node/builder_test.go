package node

import (
	"errors"
	"testing"

	"github.com/efmgo/dslink/linkerr"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

func TestBuilderCreatesNodes(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).
		MakeNode("a").
		Type(TypeString).
		Value(value.NewString("hi")).
		DisplayName("Alpha").
		MakeNode("b").
		Type(TypeInt).
		Build()

	if res.Err != nil {
		t.Fatalf("Build: %v", res.Err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("Created = %v, want 2 paths", res.Created)
	}

	a, ok := tree.Get(nodepath.MustParse("/a"))
	if !ok {
		t.Fatal("/a not created")
	}
	v, _ := a.Value()
	s, _ := v.AsString()
	if s != "hi" {
		t.Errorf("/a value = %q, want hi", s)
	}
	name, hasName := a.DisplayName()
	if !hasName || name != "Alpha" {
		t.Errorf("/a display name = %q, %v", name, hasName)
	}
}

func TestBuilderSkipsExistingPaths(t *testing.T) {
	tree := NewTree()
	NewBuilder(tree, nodepath.Root()).MakeNode("a").Type(TypeInt).Build()

	res := NewBuilder(tree, nodepath.Root()).MakeNode("a").Type(TypeString).Build()
	if res.Err != nil {
		t.Fatalf("Build: %v", res.Err)
	}
	if len(res.Created) != 0 {
		t.Errorf("Created = %v, want none (path already existed)", res.Created)
	}

	a, _ := tree.Get(nodepath.MustParse("/a"))
	if a.ValueType() != TypeInt {
		t.Error("existing node's type was overwritten by a re-submitted builder")
	}
}

func TestBuilderEmptyNameFails(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).MakeNode("").Build()
	if !errors.Is(res.Err, linkerr.EmptyNameSpecified) {
		t.Errorf("err = %v, want EmptyNameSpecified", res.Err)
	}
}

func TestBuilderIllegalCharacterFails(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).MakeNode("a/b").Build()
	if !errors.Is(res.Err, linkerr.InvalidNameCharacters) {
		t.Errorf("err = %v, want InvalidNameCharacters", res.Err)
	}
}

func TestBuilderSetterBeforeMakeNodeFails(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).DisplayName("x").Build()
	if !errors.Is(res.Err, linkerr.NoNodeDefinedYet) {
		t.Errorf("err = %v, want NoNodeDefinedYet", res.Err)
	}
}

func TestBuilderEnumBeforeTypeFails(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).MakeNode("a").EnumValues("x,y").Build()
	if !errors.Is(res.Err, linkerr.InvalidValue) {
		t.Errorf("err = %v, want InvalidValue", res.Err)
	}
}

func TestBuilderValueBeforeTypeFails(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).MakeNode("a").Value(value.NewInt(1)).Build()
	if !errors.Is(res.Err, linkerr.NotAValueNode) {
		t.Errorf("err = %v, want NotAValueNode", res.Err)
	}
}

func TestBuilderWritableNeverWithCallbackFails(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).
		MakeNode("a").
		Type(TypeString).
		WritableWithCallback(WritableNever, func(value.Value) {}).
		Build()
	if !errors.Is(res.Err, linkerr.NodeIsNotWritable) {
		t.Errorf("err = %v, want NodeIsNotWritable", res.Err)
	}
}

func TestBuilderEditorTypeMismatchFails(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).
		MakeNode("a").
		Type(TypeString).
		Editor("date", TypeInt).
		Build()
	if !errors.Is(res.Err, linkerr.InvalidEditorType) {
		t.Errorf("err = %v, want InvalidEditorType", res.Err)
	}
}

func TestBuilderEditorNotAllowedFails(t *testing.T) {
	tree := NewTree()
	res := NewBuilder(tree, nodepath.Root()).
		MakeNode("a").
		Type(TypeString).
		Editor("fancywidget", TypeString).
		Build()
	if !errors.Is(res.Err, linkerr.EditorTypeNotAllowed) {
		t.Errorf("err = %v, want EditorTypeNotAllowed", res.Err)
	}
}

func TestBuilderRegistryFiresOnCreation(t *testing.T) {
	tree := NewTree()
	var fired []string
	pattern, err := nodepath.ParsePattern("/devices/*")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	tree.Registry().OnMatch(pattern, func(n *Node, deserializing bool) {
		fired = append(fired, n.Path().String())
	})

	NewBuilder(tree, nodepath.Root()).MakeNode("devices").Build()
	NewBuilder(tree, nodepath.MustParse("/devices")).MakeNode("d1").Build()

	if len(fired) != 1 || fired[0] != "/devices/d1" {
		t.Errorf("fired = %v, want [/devices/d1]", fired)
	}
}
