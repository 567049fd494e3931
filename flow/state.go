package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Well-known state pool identifiers.
const (
	// ScopeNode is the reserved node id holding scope variables such as the
	// Map/While iteration variable. Graph nodes may not use this id.
	ScopeNode = "__scope__"
	// MapItemVar is the scope variable bound to the current Map element.
	MapItemVar = "item"
	// MapSourceInput is the input carrying the list a Map node iterates over.
	MapSourceInput = "input_list"
	// MapResultsOutput is the output carrying a Map node's ordered results.
	MapResultsOutput = "results"
	// WhileTerminationOutput records how a While node's loop ended.
	WhileTerminationOutput = "termination_reason"
	// TerminationConditionFalse marks a normal condition-false loop exit.
	TerminationConditionFalse = "condition-false"
	// TerminationMaxIterations marks a loop stopped by its iteration cap.
	TerminationMaxIterations = "max-iterations"
)

// StatePool is the single source of truth for node outputs within one run
// scope. Keys are (node id, output name) pairs; each key is write-once.
// It is safe for concurrent use.
type StatePool struct {
	mu      sync.RWMutex
	outputs map[string]map[string]Value
	// names preserves per-node output insertion order.
	names map[string][]string
	// completed preserves node completion order.
	completed []string
	skipped   map[string]bool
}

// NewStatePool creates an empty state pool.
func NewStatePool() *StatePool {
	return &StatePool{
		outputs: make(map[string]map[string]Value),
		names:   make(map[string][]string),
		skipped: make(map[string]bool),
	}
}

// Put stores a single output. Writing the same (node, output) key twice
// within one scope fails with ErrDuplicateOutput.
func (s *StatePool) Put(nodeID, name string, value Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(nodeID, name, value)
}

func (s *StatePool) putLocked(nodeID, name string, value Value) error {
	node, ok := s.outputs[nodeID]
	if !ok {
		node = make(map[string]Value)
		s.outputs[nodeID] = node
		s.completed = append(s.completed, nodeID)
	}
	if _, exists := node[name]; exists {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateOutput, nodeID, name)
	}
	node[name] = value
	s.names[nodeID] = append(s.names[nodeID], name)
	return nil
}

// PutAll stores a node's complete output set atomically.
func (s *StatePool) PutAll(nodeID string, outputs map[string]Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range outputs {
		if node, ok := s.outputs[nodeID]; ok {
			if _, exists := node[name]; exists {
				return fmt.Errorf("%w: %s.%s", ErrDuplicateOutput, nodeID, name)
			}
		}
	}
	for _, name := range sortedNames(outputs) {
		if err := s.putLocked(nodeID, name, outputs[name]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one output value, or ErrOutputNotFound.
func (s *StatePool) Get(nodeID, name string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.outputs[nodeID]
	if !ok {
		return Value{}, fmt.Errorf("%w: node %s", ErrOutputNotFound, nodeID)
	}
	v, ok := node[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s.%s", ErrOutputNotFound, nodeID, name)
	}
	return v, nil
}

// Outputs returns a copy of a node's output set in insertion order keys.
func (s *StatePool) Outputs(nodeID string) (map[string]Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.outputs[nodeID]
	if !ok {
		return nil, false
	}
	cp := make(map[string]Value, len(node))
	for k, v := range node {
		cp[k] = v
	}
	return cp, true
}

// MarkSkipped records a node as satisfied with no outputs, unblocking its
// dependents without executing it.
func (s *StatePool) MarkSkipped(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.skipped[nodeID] {
		s.skipped[nodeID] = true
		s.completed = append(s.completed, nodeID)
	}
}

// Skipped reports whether a node was skipped by its gate.
func (s *StatePool) Skipped(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skipped[nodeID]
}

// Satisfied reports whether a node's dependents may proceed: the node either
// produced outputs or was skipped.
func (s *StatePool) Satisfied(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.skipped[nodeID] {
		return true
	}
	_, ok := s.outputs[nodeID]
	return ok
}

// Completed returns node ids in completion order (skipped nodes included).
func (s *StatePool) Completed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.completed...)
}

// Snapshot produces a consistent, serializable copy of the pool.
type Snapshot struct {
	Outputs   map[string]map[string]Value `json:"outputs"`
	Completed []string                    `json:"completed"`
	Skipped   []string                    `json:"skipped,omitempty"`
}

// Snapshot returns a consistent point-in-time copy of the pool.
func (s *StatePool) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{
		Outputs:   make(map[string]map[string]Value, len(s.outputs)),
		Completed: append([]string(nil), s.completed...),
	}
	for nodeID, node := range s.outputs {
		cp := make(map[string]Value, len(node))
		for k, v := range node {
			cp[k] = v
		}
		snap.Outputs[nodeID] = cp
	}
	for nodeID := range s.skipped {
		snap.Skipped = append(snap.Skipped, nodeID)
	}
	return snap
}

// NewStatePoolFromSnapshot reconstructs a pool from a persisted snapshot.
func NewStatePoolFromSnapshot(snap *Snapshot) *StatePool {
	s := NewStatePool()
	if snap == nil {
		return s
	}
	skipped := make(map[string]bool, len(snap.Skipped))
	for _, id := range snap.Skipped {
		skipped[id] = true
	}
	for _, nodeID := range snap.Completed {
		if skipped[nodeID] {
			s.MarkSkipped(nodeID)
			continue
		}
		node, ok := snap.Outputs[nodeID]
		if !ok {
			continue
		}
		for _, name := range sortedNames(node) {
			_ = s.Put(nodeID, name, node[name])
		}
	}
	// Nodes present in outputs but missing from the completed list still
	// count as completed; order among them is unspecified.
	for nodeID, node := range snap.Outputs {
		if s.Satisfied(nodeID) {
			continue
		}
		for _, name := range sortedNames(node) {
			_ = s.Put(nodeID, name, node[name])
		}
	}
	return s
}

// newScopePool creates a fresh iteration scope pre-seeded with the given
// scope variables. Iteration scopes never alias the parent pool; results
// are merged back explicitly by the control-flow nodes.
func newScopePool(scope map[string]Value) *StatePool {
	child := NewStatePool()
	for _, name := range sortedNames(scope) {
		_ = child.Put(ScopeNode, name, scope[name])
	}
	return child
}

var templateRefPattern = regexp.MustCompile(
	`\{\{\s*nodes\.([A-Za-z0-9_\-]+)\.outputs\.([A-Za-z0-9_\-]+)\s*\}\}`)

var scopeRefPattern = regexp.MustCompile(
	`\{\{\s*([A-Za-z_][A-Za-z0-9_\-]*)\s*\}\}`)

// ResolveTemplate substitutes every `{{ nodes.<id>.outputs.<name> }}`
// reference and every bare `{{ <var> }}` scope variable with the referenced
// value's textual form. An unresolved reference is an error.
func (s *StatePool) ResolveTemplate(text string) (string, error) {
	var resolveErr error
	out := templateRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := templateRefPattern.FindStringSubmatch(match)
		v, err := s.Get(groups[1], groups[2])
		if err != nil {
			if resolveErr == nil {
				resolveErr = fmt.Errorf("%w: %s.%s", ErrUnresolvedReference, groups[1], groups[2])
			}
			return match
		}
		return v.Text()
	})
	out = scopeRefPattern.ReplaceAllStringFunc(out, func(match string) string {
		groups := scopeRefPattern.FindStringSubmatch(match)
		v, err := s.Get(ScopeNode, groups[1])
		if err != nil {
			if resolveErr == nil {
				resolveErr = fmt.Errorf("%w: %s", ErrUnresolvedReference, groups[1])
			}
			return match
		}
		return v.Text()
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return out, nil
}

// conditionOperators in matching order. Two-character operators first so
// ">=" is not split as ">".
var conditionOperators = []string{"!=", "==", ">=", "<=", ">", "<"}

// EvaluateCondition evaluates a gate or loop condition against the pool.
// Supported forms: comparisons (`==`, `!=`, `>`, `<`, `>=`, `<=`) between
// references and literals, and a bare expression reduced by the truthiness
// rule (empty, "false" and "0" are false). References into skipped or
// missing outputs short-circuit to false instead of erroring, so gates
// guarding optional branches never fail a run.
func (s *StatePool) EvaluateCondition(expr string) (bool, error) {
	trimmed := strings.TrimSpace(stripMoustache(expr))
	if trimmed == "" {
		return false, nil
	}
	for _, op := range conditionOperators {
		lhs, rhs, ok := splitComparison(trimmed, op)
		if !ok {
			continue
		}
		l := s.conditionOperand(lhs)
		r := s.conditionOperand(rhs)
		return compare(l, r, op), nil
	}
	resolved := s.conditionOperand(trimmed)
	return truthy(resolved), nil
}

// compare applies op to two operand strings, numerically when both sides
// parse as numbers.
func compare(l, r, op string) bool {
	lf, lerr := strconv.ParseFloat(l, 64)
	rf, rerr := strconv.ParseFloat(r, 64)
	numeric := lerr == nil && rerr == nil
	switch op {
	case "==":
		if numeric {
			return lf == rf
		}
		return l == r
	case "!=":
		if numeric {
			return lf != rf
		}
		return l != r
	case ">":
		return numeric && lf > rf
	case "<":
		return numeric && lf < rf
	case ">=":
		return numeric && lf >= rf
	case "<=":
		return numeric && lf <= rf
	}
	return false
}

// conditionOperand resolves one side of a comparison: quoted strings are
// literals, references resolve through the pool, bare identifiers resolve
// as scope variables when present, anything else is taken verbatim.
// Unresolved references evaluate as the empty string so a gate over an
// absent output turns the branch off rather than failing the run.
func (s *StatePool) conditionOperand(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 2 {
		if (trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"') ||
			(trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'') {
			return trimmed[1 : len(trimmed)-1]
		}
	}
	if groups := nodePathPattern.FindStringSubmatch(trimmed); groups != nil {
		v, err := s.Get(groups[1], groups[2])
		if err != nil {
			return ""
		}
		return v.Text()
	}
	if identPattern.MatchString(trimmed) {
		if v, err := s.Get(ScopeNode, trimmed); err == nil {
			return v.Text()
		}
	}
	return trimmed
}

var nodePathPattern = regexp.MustCompile(
	`^nodes\.([A-Za-z0-9_\-]+)\.outputs\.([A-Za-z0-9_\-]+)$`)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// stripMoustache removes a single outer `{{ ... }}` wrapper so conditions
// may be written either way in graph definitions.
func stripMoustache(expr string) string {
	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		!strings.Contains(trimmed[2:len(trimmed)-2], "{{") {
		return trimmed[2 : len(trimmed)-2]
	}
	return trimmed
}

func splitComparison(expr, op string) (string, string, bool) {
	idx := strings.Index(expr, op)
	if idx < 0 {
		return "", "", false
	}
	return expr[:idx], expr[idx+len(op):], true
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	// Deterministic iteration keeps snapshots and merge-back stable.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}
