package node

import (
	"testing"
	"time"

	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

func TestTreeInsertRequiresParent(t *testing.T) {
	tree := NewTree()
	_, _, err := tree.insert(nodepath.MustParse("/a/b"), "node")
	if err == nil {
		t.Fatal("expected error inserting under a missing parent")
	}
}

func TestTreeInsertAndGet(t *testing.T) {
	tree := NewTree()
	a, isNew, err := tree.insert(nodepath.MustParse("/a"), "node")
	if err != nil || !isNew {
		t.Fatalf("insert /a: %v, isNew=%v", err, isNew)
	}
	if _, isNew, err := tree.insert(nodepath.MustParse("/a/b"), "node"); err != nil || !isNew {
		t.Fatalf("insert /a/b: %v, isNew=%v", err, isNew)
	}

	got, ok := tree.Get(nodepath.MustParse("/a"))
	if !ok || got != a {
		t.Fatalf("Get(/a) = %v, %v", got, ok)
	}
}

func TestTreeInsertExistingReturnsExistingNotNew(t *testing.T) {
	tree := NewTree()
	first, _, _ := tree.insert(nodepath.MustParse("/a"), "node")
	second, isNew, err := tree.insert(nodepath.MustParse("/a"), "node")
	if err != nil {
		t.Fatalf("reinsert /a: %v", err)
	}
	if isNew {
		t.Error("reinsert of existing path reported isNew=true")
	}
	if second != first {
		t.Error("reinsert of existing path returned a different node")
	}
}

func TestTreeRemoveSubtree(t *testing.T) {
	tree := NewTree()
	tree.insert(nodepath.MustParse("/a"), "node")
	tree.insert(nodepath.MustParse("/a/b"), "node")
	tree.insert(nodepath.MustParse("/a/b/c"), "node")

	tree.Remove(nodepath.MustParse("/a/b"))

	if _, ok := tree.Get(nodepath.MustParse("/a/b")); ok {
		t.Error("/a/b still present after Remove")
	}
	if _, ok := tree.Get(nodepath.MustParse("/a/b/c")); ok {
		t.Error("/a/b/c still present after removing its ancestor")
	}
	if _, ok := tree.Get(nodepath.MustParse("/a")); !ok {
		t.Error("/a should survive removing its child")
	}
}

func TestTreeSetValueRejectsNoneType(t *testing.T) {
	tree := NewTree()
	tree.insert(nodepath.MustParse("/a"), "node")

	err := tree.SetValue(nodepath.MustParse("/a"), value.NewInt(1), time.Time{})
	if err == nil {
		t.Fatal("expected not-a-value-node error for a typeless node")
	}
}
