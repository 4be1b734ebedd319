package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m1gwings/treedrawer/tree"
	pumped "github.com/pumped-run/pumped-go"
)

// GraphDebugExtension renders the scope's reactive dependency graph and
// logs it whenever the scope reports an error through OnError, such as a
// failed resolve. Failures returned by a flow handler are not reported.
//
// Usage:
//
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	ext := extensions.NewGraphDebugExtension(extensions.NewSilentHandler())
type GraphDebugExtension struct {
	pumped.BaseExtension

	mu                sync.Mutex
	resolvedExecutors map[pumped.AnyExecutor]bool
	failedExecutors   map[pumped.AnyExecutor]error
	logger            *slog.Logger
}

// NewGraphDebugExtension creates a new graph debug extension.
func NewGraphDebugExtension(logHandler slog.Handler) *GraphDebugExtension {
	return &GraphDebugExtension{
		resolvedExecutors: make(map[pumped.AnyExecutor]bool),
		failedExecutors:   make(map[pumped.AnyExecutor]error),
		logger:            slog.New(logHandler),
	}
}

// Wrap tracks every resolve outcome so the graph render can mark status.
func (e *GraphDebugExtension) Wrap(fctx *pumped.FlowContext, next func() (any, error), op *pumped.Operation) (any, error) {
	result, err := next()

	if op.Kind == pumped.OpResolve {
		e.mu.Lock()
		if err == nil {
			e.resolvedExecutors[op.Executor] = true
		} else {
			e.failedExecutors[op.Executor] = err
		}
		e.mu.Unlock()
	}

	return result, err
}

// OnError logs the dependency graph when an operation fails.
func (e *GraphDebugExtension) OnError(err error, scope *pumped.Scope, fctx *pumped.FlowContext) {
	var failedExecutor pumped.AnyExecutor
	e.mu.Lock()
	for exec, fe := range e.failedExecutors {
		if fe == err {
			failedExecutor = exec
			break
		}
	}
	e.mu.Unlock()

	execName := "(unknown)"
	if failedExecutor != nil {
		execName = e.getExecutorName(failedExecutor)
	}

	e.logger.Error("dependency resolution error",
		"executor", execName,
		"error", err.Error(),
		"dependency_graph", e.formatDependencyGraph(scope, failedExecutor, err),
	)
}

func (e *GraphDebugExtension) tryFormatHorizontalTree(graph map[pumped.AnyExecutor][]pumped.AnyExecutor, failedExecutor pumped.AnyExecutor) string {
	parents := make(map[pumped.AnyExecutor][]pumped.AnyExecutor)
	allNodes := make(map[pumped.AnyExecutor]bool)

	for parent, children := range graph {
		allNodes[parent] = true
		for _, child := range children {
			allNodes[child] = true
			parents[child] = append(parents[child], parent)
		}
	}

	var roots []pumped.AnyExecutor
	for node := range allNodes {
		if len(parents[node]) == 0 {
			roots = append(roots, node)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return e.getExecutorName(roots[i]) < e.getExecutorName(roots[j])
	})

	if len(roots) == 0 {
		return ""
	}

	var rootNode *tree.Tree
	if len(roots) == 1 {
		rootNode = e.buildTree(roots[0], graph, failedExecutor, make(map[pumped.AnyExecutor]bool))
	} else {
		rootNode = tree.NewTree(tree.NodeString("Dependents"))
		for _, root := range roots {
			if childTree := e.buildTree(root, graph, failedExecutor, make(map[pumped.AnyExecutor]bool)); childTree != nil {
				e.addTreeAsChild(rootNode, childTree)
			}
		}
	}

	if rootNode == nil {
		return ""
	}
	return rootNode.String()
}

func (e *GraphDebugExtension) buildTree(executor pumped.AnyExecutor, graph map[pumped.AnyExecutor][]pumped.AnyExecutor, failedExecutor pumped.AnyExecutor, visited map[pumped.AnyExecutor]bool) *tree.Tree {
	if visited[executor] {
		return nil
	}
	visited[executor] = true

	label := e.getExecutorName(executor)
	switch {
	case executor == failedExecutor:
		label += " [FAILED]"
	case e.resolvedExecutors[executor]:
		label += " [ok]"
	}

	node := tree.NewTree(tree.NodeString(label))

	if children, ok := graph[executor]; ok {
		sorted := make([]pumped.AnyExecutor, len(children))
		copy(sorted, children)
		sort.Slice(sorted, func(i, j int) bool {
			return e.getExecutorName(sorted[i]) < e.getExecutorName(sorted[j])
		})
		for _, child := range sorted {
			if childTree := e.buildTree(child, graph, failedExecutor, visited); childTree != nil {
				e.addTreeAsChild(node, childTree)
			}
		}
	}

	return node
}

func (e *GraphDebugExtension) addTreeAsChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		e.addTreeAsChild(newChild, grandchild)
	}
}

func (e *GraphDebugExtension) formatDependencyGraph(scope *pumped.Scope, failedExecutor pumped.AnyExecutor, failedErr error) string {
	var sb strings.Builder
	graph := scope.ReactiveEdges()

	if len(graph) == 0 {
		sb.WriteString("\n(empty - no reactive dependencies tracked)")
		return sb.String()
	}

	if horizontal := e.tryFormatHorizontalTree(graph, failedExecutor); horizontal != "" {
		sb.WriteString("\n")
		sb.WriteString(horizontal)
		sb.WriteString("\n")
	}

	sb.WriteString("\nDetailed view:\n")

	type sortEntry struct {
		parent   pumped.AnyExecutor
		name     string
		children []pumped.AnyExecutor
	}
	entries := make([]sortEntry, 0, len(graph))
	for parent, children := range graph {
		entries = append(entries, sortEntry{parent: parent, name: e.getExecutorName(parent), children: children})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	for _, entry := range entries {
		status := ""
		if e.resolvedExecutors[entry.parent] {
			status = " [ok]"
		} else if _, failed := e.failedExecutors[entry.parent]; failed {
			status = " [FAILED]"
		}

		if len(entry.children) == 0 {
			sb.WriteString(fmt.Sprintf("  %s%s (no dependents)\n", entry.name, status))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %s%s\n", entry.name, status))

		children := append([]pumped.AnyExecutor{}, entry.children...)
		sort.Slice(children, func(i, j int) bool {
			return e.getExecutorName(children[i]) < e.getExecutorName(children[j])
		})
		for i, child := range children {
			childName := e.getExecutorName(child)
			switch {
			case child == failedExecutor:
				childName += " [FAILED]"
			case e.resolvedExecutors[child]:
				childName += " [ok]"
			default:
				if childErr, failed := e.failedExecutors[child]; failed {
					childName = fmt.Sprintf("%s [FAILED] (error: %v)", childName, childErr)
				} else {
					childName += " (pending)"
				}
			}
			branch := "├─>"
			if i == len(children)-1 {
				branch = "└─>"
			}
			sb.WriteString(fmt.Sprintf("    %s %s\n", branch, childName))
		}
	}

	if failedErr != nil && failedExecutor != nil {
		sb.WriteString("\nError details:\n")
		sb.WriteString(fmt.Sprintf("  Executor: %s\n", e.getExecutorName(failedExecutor)))
		sb.WriteString(fmt.Sprintf("  Error: %v\n", failedErr))
	}

	return sb.String()
}

func (e *GraphDebugExtension) getExecutorName(exec pumped.AnyExecutor) string {
	if exec == nil {
		return "(nil)"
	}
	return exec.Label()
}

// SilentHandler is a slog.Handler that discards all log output, useful in
// tests that want to exercise extensions without producing output.
type SilentHandler struct{}

func NewSilentHandler() *SilentHandler { return &SilentHandler{} }

func (h *SilentHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (h *SilentHandler) Handle(context.Context, slog.Record) error { return nil }
func (h *SilentHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *SilentHandler) WithGroup(string) slog.Handler             { return h }

// HumanHandler is a slog.Handler that gives the dependency-graph message a
// readable, multi-line rendering instead of flattening it into one line.
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
}

func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{writer: writer, level: level}
}

func (h *HumanHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *HumanHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Message == "dependency resolution error" {
		return h.handleDependencyError(record)
	}

	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == "dependency_graph" {
			return true
		}
		if _, err := fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, a.Value); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func (h *HumanHandler) handleDependencyError(record slog.Record) error {
	var executor, errorMsg, dependencyGraph string
	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "executor":
			executor = a.Value.String()
		case "error":
			errorMsg = a.Value.String()
		case "dependency_graph":
			dependencyGraph = a.Value.String()
		}
		return true
	})

	writes := []func() error{
		func() error { _, err := fmt.Fprintln(h.writer); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer, "[graph-debug] dependency resolution error"); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nFailed executor: %s\n", executor); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Error: %s\n", errorMsg); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nDependency graph:%s", dependencyGraph); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer); return err },
	}
	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

func (h *HumanHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *HumanHandler) WithGroup(string) slog.Handler      { return h }
