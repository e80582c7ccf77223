package action

import (
	"log/slog"

	"github.com/efmgo/dslink/linkerr"
	"github.com/efmgo/dslink/node"
	"github.com/efmgo/dslink/nodepath"
	"github.com/efmgo/dslink/value"
)

// Engine dispatches incoming invocations: for each request it resolves
// the target node's action, binds default parameter values, builds a
// Stream for the action's configured result shape, and calls the
// action's Invoke callback.
type Engine struct {
	logger *slog.Logger
}

// NewEngine returns an Engine that logs via logger.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "action")}
}

// Invoke dispatches one invocation of the action defined at path against
// n, binding params (filling in any parameter defaults the caller
// omitted) and handing the callback a Stream that reports closure via
// closeHandler. send delivers the stream's result rows; unlike
// closeHandler it isn't a single engine-wide hook because the wire
// layer needs it bound to this invocation's own request id, not just
// its path — two concurrent invocations of the same action need
// independent result streams even though they share a path. The
// returned Stream lets the caller route a later peer-initiated close
// (which arrives keyed by request id, not path) back to this
// invocation.
func (e *Engine) Invoke(n *node.Node, path nodepath.Path, params map[string]value.Value, send SendFunc, closeHandler CloseHandler) (*Stream, error) {
	a := n.Action()
	if a == nil {
		return nil, linkerr.Wrap(linkerr.InvalidStream, "no action defined at "+path.String())
	}
	if a.Invoke == nil {
		return nil, linkerr.Wrap(linkerr.InvalidStream, "action has no invoke handler at "+path.String())
	}

	bound, err := bindParams(a.Params, params)
	stream := NewStream(path, a.ResultShape, send, closeHandler, e.logger)

	if err != nil {
		e.logger.Warn("invoking action with invalid parameters", "path", path.String(), "error", err)
		a.Invoke(stream, path, bound, err)
		return stream, nil
	}

	a.Invoke(stream, path, bound, nil)
	return stream, nil
}

// bindParams returns a copy of params with every parameter that has a
// configured default and is missing from params filled in. A parameter
// with no default that's missing from params is reported back as an
// error rather than silently left unset, so the action callback can
// decide (via the err argument to Invoke) whether to proceed.
func bindParams(defs []node.Parameter, params map[string]value.Value) (map[string]value.Value, error) {
	bound := make(map[string]value.Value, len(params))
	for k, v := range params {
		bound[k] = v
	}

	var missing string
	for _, p := range defs {
		if _, ok := bound[p.Name]; ok {
			continue
		}
		if p.HasDefault {
			bound[p.Name] = p.Default
			continue
		}
		if missing == "" {
			missing = p.Name
		}
	}

	if missing != "" {
		return bound, linkerr.Wrap(linkerr.InvalidValue, "missing required action parameter "+missing)
	}
	return bound, nil
}
