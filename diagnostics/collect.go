package diagnostics

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/subscription"
)

// Collect builds a Snapshot from a live node tree, subscription
// engine, and the base directory the subscription engine's redo logs
// are written under. redoLogDir may be empty if the link has no
// persistent subscriptions configured, in which case RedoLogBytes is 0.
func Collect(tree *node.Tree, subs *subscription.Engine, redoLogDir string) (Snapshot, error) {
	snap := Snapshot{
		Subscriptions: subs.Count(),
	}

	tree.Walk(func(n *node.Node) { snap.NodeCount++ })

	for _, s := range subs.All() {
		snap.AckedBySubPath = append(snap.AckedBySubPath, SubscriptionAck{
			Path:     s.Path().String(),
			AckedLSN: s.AckedLSN(),
		})
	}

	if redoLogDir != "" {
		size, err := dirSize(redoLogDir)
		if err != nil {
			return Snapshot{}, err
		}
		snap.RedoLogBytes = size
	}

	return snap, nil
}

// dirSize sums the apparent size of every regular file under dir. A
// missing dir is not an error: it just means nothing has been written
// to it yet.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}
