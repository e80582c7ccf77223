// Package serializer implements the periodic snapshot of the
// responder's serializable node subtree to a JSON document on disk,
// and its restoration on startup, per spec.md §4.7.
package serializer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/efmgo/dslink/linkerr"
	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// DefaultInterval matches the documented default snapshot frequency.
const DefaultInterval = 1000 * time.Millisecond

// Options configures a Serializer.
type Options struct {
	// Path is the snapshot file's location, e.g. "./nodes.json".
	Path string

	// Interval is how often the tree is snapshotted. Zero means write
	// continuously: a fresh snapshot is taken as soon as the previous
	// one finishes, with no idle wait between them.
	Interval time.Duration

	// SerializeValues controls whether value data is written alongside
	// metadata for nodes whose Serialization() is SerializeEverything.
	// False writes metadata only for every serializable node.
	SerializeValues bool

	Logger *slog.Logger
}

// Serializer periodically snapshots a node.Tree's serializable subtree
// to disk and can restore one at startup.
type Serializer struct {
	tree   *node.Tree
	opts   Options
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Serializer for tree. Opts.Interval is used as given:
// zero or a negative value selects continuous mode, so a caller that
// wants the default frequency passes DefaultInterval.
func New(tree *node.Tree, opts Options) *Serializer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{tree: tree, opts: opts, logger: logger}
}

// Start launches the background snapshot loop. It returns immediately;
// call Stop to shut it down.
func (s *Serializer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the background loop and waits for it to exit.
func (s *Serializer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Serializer) run(ctx context.Context) {
	defer close(s.done)

	if s.opts.Interval <= 0 {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := s.WriteSnapshot(); err != nil {
				s.logger.Error("serializer: snapshot write failed", "error", err)
			}
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.WriteSnapshot(); err != nil {
				s.logger.Error("serializer: snapshot write failed", "error", err)
			}
		}
	}
}

// snapshotDoc is the on-disk JSON shape. It is this package's own
// private format — not a wire frame — so its fields mirror Node's
// accessors directly rather than any protocol type.
type snapshotDoc struct {
	Version int            `json:"version"`
	Nodes   []nodeSnapshot `json:"nodes"`
}

type nodeSnapshot struct {
	Path          string                   `json:"path"`
	Profile       string                   `json:"profile"`
	DisplayName   string                   `json:"display_name,omitempty"`
	ValueType     node.ValueType           `json:"value_type"`
	EnumValues    string                   `json:"enum_values,omitempty"`
	Permission    node.Permission          `json:"permission"`
	Writable      node.Writable            `json:"writable"`
	Hidden        bool                     `json:"hidden,omitempty"`
	Serialization node.SerializationMode   `json:"serialization"`
	Editor        string                   `json:"editor,omitempty"`
	Value         *value.Value             `json:"value,omitempty"`
	Timestamp     *time.Time               `json:"timestamp,omitempty"`
	Configs       map[string]value.Value   `json:"configs,omitempty"`
	Attributes    map[string]value.Value   `json:"attributes,omitempty"`
}

// WriteSnapshot walks the tree once and writes the current snapshot of
// every node whose Serialization() is not SerializeNone, atomically via
// write-to-temp-then-rename.
func (s *Serializer) WriteSnapshot() error {
	doc := snapshotDoc{Version: 1}

	s.tree.Walk(func(n *node.Node) {
		mode := n.Serialization()
		if mode == node.SerializeNone {
			return
		}
		doc.Nodes = append(doc.Nodes, s.snapshotNode(n, mode))
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serializer: marshal snapshot: %w", err)
	}
	return writeFileAtomic(s.opts.Path, data)
}

func (s *Serializer) snapshotNode(n *node.Node, mode node.SerializationMode) nodeSnapshot {
	displayName, hasDisplay := n.DisplayName()
	editor, hasEditor := n.Editor()

	snap := nodeSnapshot{
		Path:          n.Path().String(),
		Profile:       n.Profile(),
		ValueType:     n.ValueType(),
		EnumValues:    n.EnumValues(),
		Permission:    n.Permission(),
		Writable:      n.Writable(),
		Hidden:        n.Hidden(),
		Serialization: mode,
	}
	if hasDisplay {
		snap.DisplayName = displayName
	}
	if hasEditor {
		snap.Editor = editor
	}

	if configs := collectMap(n.Configs(), n.Config); len(configs) > 0 {
		snap.Configs = configs
	}
	if attrs := collectMap(n.Attributes(), n.Attribute); len(attrs) > 0 {
		snap.Attributes = attrs
	}

	if s.opts.SerializeValues && mode == node.SerializeEverything {
		v, ts := n.Value()
		snap.Value = &v
		if !ts.IsZero() {
			snap.Timestamp = &ts
		}
	}
	return snap
}

func collectMap(keys []string, get func(string) (value.Value, bool)) map[string]value.Value {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string]value.Value, len(keys))
	for _, k := range keys {
		if v, ok := get(k); ok {
			out[k] = v
		}
	}
	return out
}

// Deserialize loads the snapshot at opts.Path, if one exists, and
// restores every entry into the tree via Tree.Restore before the
// caller's initialized handler fires. A missing file is not an error:
// it just means this is the first run.
func (s *Serializer) Deserialize() error {
	data, err := os.ReadFile(s.opts.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("serializer: read snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return linkerr.Wrap(linkerr.InvalidDslinkJSON, s.opts.Path)
	}

	for _, snap := range doc.Nodes {
		path, err := nodepath.Parse(snap.Path)
		if err != nil {
			return linkerr.Wrap(linkerr.InvalidDslinkJSON, "path "+snap.Path)
		}
		if _, err := s.tree.Restore(path, toRestoreDesc(snap)); err != nil {
			return fmt.Errorf("serializer: restore %s: %w", snap.Path, err)
		}
	}
	return nil
}

func toRestoreDesc(snap nodeSnapshot) node.RestoreDesc {
	d := node.RestoreDesc{
		Profile:       snap.Profile,
		ValueType:     snap.ValueType,
		EnumValues:    snap.EnumValues,
		Permission:    snap.Permission,
		Writable:      snap.Writable,
		Hidden:        snap.Hidden,
		Serialization: snap.Serialization,
	}
	if snap.DisplayName != "" {
		d.HasDisplayName = true
		d.DisplayName = snap.DisplayName
	}
	if snap.Editor != "" {
		d.HasEditor = true
		d.Editor = snap.Editor
	}
	if snap.Value != nil {
		d.HasValue = true
		d.Value = *snap.Value
		if snap.Timestamp != nil {
			d.Timestamp = *snap.Timestamp
		}
	}
	if len(snap.Configs) > 0 {
		d.Configs = snap.Configs
		d.ConfigKeys = make([]string, 0, len(snap.Configs))
		for k := range snap.Configs {
			d.ConfigKeys = append(d.ConfigKeys, k)
		}
	}
	if len(snap.Attributes) > 0 {
		d.Attributes = snap.Attributes
		d.AttributeKeys = make([]string, 0, len(snap.Attributes))
		for k := range snap.Attributes {
			d.AttributeKeys = append(d.AttributeKeys, k)
		}
	}
	return d
}

// writeFileAtomic writes data to path by first writing a temp file in
// the same directory, then renaming it into place — the rename is
// atomic on the same filesystem, so readers never observe a partial
// snapshot.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".nodes-*.json.tmp")
	if err != nil {
		return fmt.Errorf("serializer: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("serializer: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("serializer: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("serializer: rename into place: %w", err)
	}
	return nil
}
