package comfy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// NodeIndex is an in-memory index of the backend's node catalog, built
// from object_info. It supports keyword search, category browsing,
// condensed detail views, connection-type lookup, and workflow
// validation, so tools never dump the full catalog into LLM context.
// Safe for concurrent use.
type NodeIndex struct {
	mu         sync.RWMutex
	nodes      map[string]map[string]any // class name → raw info
	byCategory map[string][]string
	corpus     map[string]string // class name → searchable text
	built      bool
	logger     *slog.Logger
}

// NewNodeIndex creates an empty index.
func NewNodeIndex(logger *slog.Logger) *NodeIndex {
	if logger == nil {
		logger = nopLogger
	}
	return &NodeIndex{
		nodes:      map[string]map[string]any{},
		byCategory: map[string][]string{},
		corpus:     map[string]string{},
		logger:     logger,
	}
}

// Build fetches the full catalog and (re)builds the index.
func (x *NodeIndex) Build(ctx context.Context, client *Client) error {
	info, err := client.ObjectInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch object_info: %w", err)
	}

	nodes := make(map[string]map[string]any, len(info))
	byCategory := map[string][]string{}
	corpus := make(map[string]string, len(info))

	for className, raw := range info {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		nodes[className] = node

		category, _ := node["category"].(string)
		if category == "" {
			category = "uncategorized"
		}
		byCategory[category] = append(byCategory[category], className)

		display, _ := node["display_name"].(string)
		desc, _ := node["description"].(string)
		corpus[className] = strings.ToLower(className + " " + display + " " + category + " " + desc)
	}

	x.mu.Lock()
	x.nodes = nodes
	x.byCategory = byCategory
	x.corpus = corpus
	x.built = true
	x.mu.Unlock()

	x.logger.Info("node index built", "nodes", len(nodes), "categories", len(byCategory))
	return nil
}

// Built reports whether the index has been populated.
func (x *NodeIndex) Built() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.built
}

// NodeCount returns the number of indexed node types.
func (x *NodeIndex) NodeCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.nodes)
}

// Categories returns the sorted category names.
func (x *NodeIndex) Categories() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	cats := make([]string, 0, len(x.byCategory))
	for c := range x.byCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

const notBuiltMsg = "Node index not built yet. ComfyUI may not be connected."

// ListCategories summarizes all categories with node counts.
func (x *NodeIndex) ListCategories() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.built {
		return notBuiltMsg
	}
	cats := make([]string, 0, len(x.byCategory))
	for c := range x.byCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var b strings.Builder
	fmt.Fprintf(&b, "Node categories (%d):", len(cats))
	for _, c := range cats {
		fmt.Fprintf(&b, "\n  [%s] (%d nodes)", c, len(x.byCategory[c]))
	}
	return b.String()
}

// ListCategory lists the nodes in one category, with fuzzy name matching.
func (x *NodeIndex) ListCategory(category string) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.built {
		return notBuiltMsg
	}

	matched := ""
	for c := range x.byCategory {
		if strings.EqualFold(c, category) {
			matched = c
			break
		}
	}
	if matched == "" {
		for c := range x.byCategory {
			if strings.Contains(strings.ToLower(c), strings.ToLower(category)) {
				matched = c
				break
			}
		}
	}
	if matched == "" {
		return fmt.Sprintf("Category '%s' not found. Use search_nodes to find nodes.", category)
	}

	names := append([]string(nil), x.byCategory[matched]...)
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "Nodes in [%s] (%d):", matched, len(names))
	for _, name := range names {
		display, _ := x.nodes[name]["display_name"].(string)
		if display == "" {
			display = name
		}
		fmt.Fprintf(&b, "\n  - %s (%s)", name, display)
	}
	return b.String()
}

// Search matches nodes by keyword against name, display name, category,
// and description, with a bonus for class-name hits.
func (x *NodeIndex) Search(query string, limit int) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.built {
		return notBuiltMsg
	}
	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(strings.ToLower(query))

	type hit struct {
		score int
		name  string
	}
	var hits []hit
	for className, corpus := range x.corpus {
		score := 0
		lowerName := strings.ToLower(className)
		for _, term := range terms {
			if strings.Contains(corpus, term) {
				score++
			}
			if strings.Contains(lowerName, term) {
				score += 2
			}
		}
		if score > 0 {
			hits = append(hits, hit{score, className})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].name < hits[j].name
	})

	if len(hits) == 0 {
		return fmt.Sprintf("No nodes found matching '%s'.", query)
	}

	shown := hits
	if len(shown) > limit {
		shown = shown[:limit]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for '%s' (%d matches, showing %d):", query, len(hits), len(shown))
	for _, h := range shown {
		node := x.nodes[h.name]
		display, _ := node["display_name"].(string)
		if display == "" {
			display = h.name
		}
		category, _ := node["category"].(string)
		fmt.Fprintf(&b, "\n  - %s [%s] (%s)", h.name, category, display)
	}
	if len(hits) > limit {
		fmt.Fprintf(&b, "\n  ... %d more results. Refine your search.", len(hits)-limit)
	}
	return b.String()
}

// Detail renders a condensed specification for one node type.
func (x *NodeIndex) Detail(className string) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.built {
		return notBuiltMsg
	}

	node, ok := x.nodes[className]
	if !ok {
		for name, n := range x.nodes {
			if strings.EqualFold(name, className) {
				node, className, ok = n, name, true
				break
			}
		}
	}
	if !ok {
		return fmt.Sprintf("Node '%s' not found.", className)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Node: %s", className)
	if display, _ := node["display_name"].(string); display != "" {
		fmt.Fprintf(&b, "\n  Display: %s", display)
	}
	if category, _ := node["category"].(string); category != "" {
		fmt.Fprintf(&b, "\n  Category: %s", category)
	}
	if desc, _ := node["description"].(string); desc != "" {
		fmt.Fprintf(&b, "\n  Description: %s", desc)
	}

	required, optional := nodeInputs(node)
	if len(required) > 0 {
		b.WriteString("\n  Required inputs:")
		for _, name := range sortedKeys(required) {
			fmt.Fprintf(&b, "\n    %s: %s", name, formatParam(required[name]))
		}
	}
	if len(optional) > 0 {
		b.WriteString("\n  Optional inputs:")
		for _, name := range sortedKeys(optional) {
			fmt.Fprintf(&b, "\n    %s: %s", name, formatParam(optional[name]))
		}
	}

	outputTypes, _ := node["output"].([]any)
	outputNames, _ := node["output_name"].([]any)
	if len(outputTypes) > 0 {
		b.WriteString("\n  Outputs:")
		for i, t := range outputTypes {
			name := fmt.Sprintf("output_%d", i)
			if i < len(outputNames) {
				if s, ok := outputNames[i].(string); ok {
					name = s
				}
			}
			fmt.Fprintf(&b, "\n    [%d] %s: %v", i, name, t)
		}
	}
	return b.String()
}

// Connectable lists which nodes produce and which consume a data type
// (MODEL, CLIP, LATENT, CONDITIONING, IMAGE, VAE, …). With an empty
// type it summarizes all connection types.
func (x *NodeIndex) Connectable(outputType string) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.built {
		return notBuiltMsg
	}

	producers := map[string][]string{}
	consumers := map[string][]string{}
	for className, node := range x.nodes {
		outputs, _ := node["output"].([]any)
		for _, o := range outputs {
			if t, ok := o.(string); ok {
				producers[t] = append(producers[t], className)
			}
		}
		required, optional := nodeInputs(node)
		for _, spec := range required {
			if t := paramType(spec); t != "" {
				consumers[t] = append(consumers[t], className)
			}
		}
		for _, spec := range optional {
			if t := paramType(spec); t != "" {
				consumers[t] = append(consumers[t], className)
			}
		}
	}

	if outputType == "" {
		types := map[string]bool{}
		for t := range producers {
			types[t] = true
		}
		for t := range consumers {
			types[t] = true
		}
		names := sortedBoolKeys(types)
		var b strings.Builder
		fmt.Fprintf(&b, "Connection types (%d):", len(names))
		for _, t := range names {
			fmt.Fprintf(&b, "\n  %s: %d producers, %d consumers", t, len(producers[t]), len(consumers[t]))
		}
		return b.String()
	}

	t := strings.ToUpper(outputType)
	prod := dedupeSorted(producers[t])
	cons := dedupeSorted(consumers[t])
	if len(prod) == 0 && len(cons) == 0 {
		return fmt.Sprintf("No nodes produce or consume type '%s'.", t)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Type %s:", t)
	fmt.Fprintf(&b, "\n  Produced by (%d): %s", len(prod), joinCapped(prod, 15))
	fmt.Fprintf(&b, "\n  Consumed by (%d): %s", len(cons), joinCapped(cons, 15))
	return b.String()
}

// ValidateWorkflow checks a workflow in API format for unknown class
// types, missing required inputs, and unknown input names.
func (x *NodeIndex) ValidateWorkflow(workflow map[string]any) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.built {
		return "Node index not built yet. Cannot validate."
	}

	var errs, warnings []string
	for _, nodeID := range sortedKeys(workflow) {
		config, ok := workflow[nodeID].(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("Node %s: not an object", nodeID))
			continue
		}
		classType, _ := config["class_type"].(string)
		if classType == "" {
			errs = append(errs, fmt.Sprintf("Node %s: missing class_type", nodeID))
			continue
		}
		node, known := x.nodes[classType]
		if !known {
			errs = append(errs, fmt.Sprintf("Node %s: unknown class_type '%s'", nodeID, classType))
			continue
		}

		required, optional := nodeInputs(node)
		provided, _ := config["inputs"].(map[string]any)
		for name := range required {
			if _, ok := provided[name]; !ok {
				errs = append(errs, fmt.Sprintf("Node %s (%s): missing required input '%s'", nodeID, classType, name))
			}
		}
		for name := range provided {
			_, inRequired := required[name]
			_, inOptional := optional[name]
			if !inRequired && !inOptional {
				warnings = append(warnings, fmt.Sprintf("Node %s (%s): unknown input '%s'", nodeID, classType, name))
			}
		}
	}

	if len(errs) == 0 && len(warnings) == 0 {
		return fmt.Sprintf("Workflow valid: %d nodes, all checks passed.", len(workflow))
	}
	var b strings.Builder
	if len(errs) > 0 {
		fmt.Fprintf(&b, "Errors (%d):", len(errs))
		for _, e := range errs {
			fmt.Fprintf(&b, "\n  [x] %s", e)
		}
	}
	if len(warnings) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Warnings (%d):", len(warnings))
		for _, w := range warnings {
			fmt.Fprintf(&b, "\n  [!] %s", w)
		}
	}
	return b.String()
}

// nodeInputs extracts the required and optional input specs.
func nodeInputs(node map[string]any) (required, optional map[string]any) {
	inputs, _ := node["input"].(map[string]any)
	required, _ = inputs["required"].(map[string]any)
	optional, _ = inputs["optional"].(map[string]any)
	if required == nil {
		required = map[string]any{}
	}
	if optional == nil {
		optional = map[string]any{}
	}
	return required, optional
}

// paramType returns the connection type of a parameter spec, or ""
// when the spec is an enum or widget rather than a node connection.
func paramType(spec any) string {
	list, ok := spec.([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	t, ok := list[0].(string)
	if !ok {
		return ""
	}
	// Connection types are ALL-CAPS (MODEL, CLIP, …); widget types like
	// INT and FLOAT still count — consumers filter by what they ask for.
	if t != strings.ToUpper(t) {
		return ""
	}
	return t
}

// formatParam renders one input spec concisely.
func formatParam(spec any) string {
	list, ok := spec.([]any)
	if !ok || len(list) == 0 {
		return fmt.Sprintf("%v", spec)
	}
	switch head := list[0].(type) {
	case string:
		if len(list) > 1 {
			if constraints, ok := list[1].(map[string]any); ok {
				parts := []string{head}
				for _, key := range []string{"default", "min", "max"} {
					if v, ok := constraints[key]; ok {
						parts = append(parts, fmt.Sprintf("%s=%v", key, v))
					}
				}
				return strings.Join(parts, " ")
			}
		}
		return head
	case []any:
		options := make([]string, 0, len(head))
		for _, o := range head {
			options = append(options, fmt.Sprintf("%v", o))
		}
		if len(options) <= 5 {
			return fmt.Sprintf("enum[%s]", strings.Join(options, ", "))
		}
		return fmt.Sprintf("enum[%s, ... (%d options)]", strings.Join(options[:3], ", "), len(options))
	}
	return fmt.Sprintf("%v", spec)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedBoolKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupeSorted(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func joinCapped(names []string, limit int) string {
	if len(names) == 0 {
		return "none"
	}
	if len(names) <= limit {
		return strings.Join(names, ", ")
	}
	return strings.Join(names[:limit], ", ") + fmt.Sprintf(", ... (%d more)", len(names)-limit)
}
