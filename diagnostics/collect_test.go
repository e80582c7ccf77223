package diagnostics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/subscription"
	"github.com/efmgo/dslink/value"
)

func buildTestTree(t *testing.T) *node.Tree {
	t.Helper()
	tree := node.NewTree()
	res := node.NewBuilder(tree, nodepath.Root()).
		MakeNode("sensors").
		MakeNodeWithProfile("temp", "value").
		Type(node.TypeNumber).
		Value(value.NewFloat(21.5)).
		Build()
	if res.Err != nil {
		t.Fatalf("Build: %v", res.Err)
	}
	return tree
}

func TestCollectCountsNodesAndSubscriptions(t *testing.T) {
	tree := buildTestTree(t)
	engine := subscription.New(subscription.Options{})

	path := nodepath.MustParse("/sensors/temp")
	if _, err := engine.Subscribe("req-1", path, subscription.QoSVolatile); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	snap, err := Collect(tree, engine, "")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// root + sensors + sensors/temp
	if snap.NodeCount != 3 {
		t.Errorf("NodeCount = %d, want 3", snap.NodeCount)
	}
	if snap.Subscriptions != 1 {
		t.Errorf("Subscriptions = %d, want 1", snap.Subscriptions)
	}
	if len(snap.AckedBySubPath) != 1 || snap.AckedBySubPath[0].Path != path.String() {
		t.Errorf("AckedBySubPath = %+v, want one entry for %s", snap.AckedBySubPath, path.String())
	}
	if snap.RedoLogBytes != 0 {
		t.Errorf("RedoLogBytes = %d, want 0 for an empty redoLogDir", snap.RedoLogBytes)
	}
}

func TestCollectMeasuresRedoLogBytesOnDisk(t *testing.T) {
	tree := buildTestTree(t)
	engine := subscription.New(subscription.Options{})

	dir := t.TempDir()
	sub := filepath.Join(dir, "a")
	if err := os.WriteFile(sub, []byte("hello world"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	snap, err := Collect(tree, engine, dir)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.RedoLogBytes != int64(len("hello world")) {
		t.Errorf("RedoLogBytes = %d, want %d", snap.RedoLogBytes, len("hello world"))
	}
}

func TestCollectTreatsMissingRedoLogDirAsZeroBytes(t *testing.T) {
	tree := buildTestTree(t)
	engine := subscription.New(subscription.Options{})

	snap, err := Collect(tree, engine, filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.RedoLogBytes != 0 {
		t.Errorf("RedoLogBytes = %d, want 0 for a missing directory", snap.RedoLogBytes)
	}
}
