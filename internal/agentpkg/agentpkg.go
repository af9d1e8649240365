// Package agentpkg discovers and loads agent packages: a directory holding
// one manifest plus one file per graph, parsed into the
// GraphSpec/Goal/EntryPointSpec triples AgentRuntime.AddGraph expects.
// Agent-package discovery/loading is an explicit external collaborator;
// this package owns the file format, not the runtime semantics of what it
// loads into.
package agentpkg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/flowgraph-labs/agentrt/internal/graph"
)

// GraphFile is one graph loaded from an agent package: its GraphSpec,
// informational Goal, EntryPoints, and the session-store subpath
// AgentRuntime.AddGraph should register it under.
type GraphFile struct {
	ID             string
	Graph          *graph.GraphSpec
	Goal           *graph.Goal
	EntryPoints    []*graph.EntryPointSpec
	StorageSubpath string
}

// Package is an agent package fully loaded off disk: a name/description and
// one or more graphs, one of which is primary.
type Package struct {
	ID           string
	Name         string
	Description  string
	PrimaryGraph string
	Graphs       []*GraphFile
}

// Primary returns the package's primary graph.
func (p *Package) Primary() (*GraphFile, error) {
	for _, g := range p.Graphs {
		if g.ID == p.PrimaryGraph {
			return g, nil
		}
	}
	return nil, fmt.Errorf("agentpkg %s: primaryGraph %q not found among loaded graphs", p.ID, p.PrimaryGraph)
}

// manifest is the on-disk shape of an agent package's root file: agent.yaml,
// agent.yml, agent.jsonc, or agent.json, tried in that order.
type manifest struct {
	ID           string       `yaml:"id" json:"id"`
	Name         string       `yaml:"name" json:"name"`
	Description  string       `yaml:"description" json:"description"`
	PrimaryGraph string       `yaml:"primaryGraph" json:"primaryGraph"`
	GraphGlob    string       `yaml:"graphGlob" json:"graphGlob"`
	Graphs       []graphEntry `yaml:"graphs" json:"graphs"`
}

// graphEntry binds a manifest-declared graph to its file and registration
// subpath. Entries from GraphGlob get an ID derived from the file's base
// name unless a matching explicit entry overrides it.
type graphEntry struct {
	ID             string `yaml:"id" json:"id"`
	File           string `yaml:"file" json:"file"`
	StorageSubpath string `yaml:"storageSubpath" json:"storageSubpath"`
}

var manifestNames = []string{"agent.yaml", "agent.yml", "agent.jsonc", "agent.json"}

// Load reads the agent package rooted at dir: its manifest, then every
// graph file it references (explicitly, via GraphGlob, or both), returning
// a fully parsed and validated Package.
func Load(dir string) (*Package, error) {
	m, manifestPath, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, fmt.Errorf("agentpkg %s: manifest %s has no id", dir, manifestPath)
	}

	entries, err := resolveGraphEntries(dir, m)
	if err != nil {
		return nil, fmt.Errorf("agentpkg %s: %w", m.ID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("agentpkg %s: no graphs declared (set graphs: or graphGlob:)", m.ID)
	}

	pkg := &Package{ID: m.ID, Name: m.Name, Description: m.Description, PrimaryGraph: m.PrimaryGraph}
	if pkg.PrimaryGraph == "" && len(entries) == 1 {
		pkg.PrimaryGraph = entries[0].ID
	}

	for _, e := range entries {
		gf, err := loadGraphFile(dir, e)
		if err != nil {
			return nil, fmt.Errorf("agentpkg %s: %w", m.ID, err)
		}
		pkg.Graphs = append(pkg.Graphs, gf)
	}

	if _, err := pkg.Primary(); err != nil {
		return nil, err
	}
	return pkg, nil
}

func readManifest(dir string) (*manifest, string, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", fmt.Errorf("agentpkg: read manifest %s: %w", path, err)
		}
		var m manifest
		if err := unmarshalByExt(path, data, &m); err != nil {
			return nil, "", fmt.Errorf("agentpkg: parse manifest %s: %w", path, err)
		}
		return &m, path, nil
	}
	return nil, "", fmt.Errorf("agentpkg %s: no manifest found (expected one of %s)", dir, strings.Join(manifestNames, ", "))
}

// resolveGraphEntries merges the manifest's explicit graphs list with
// GraphGlob matches (relative to dir, recursive ** supported), explicit
// entries taking precedence over a glob match for the same file.
func resolveGraphEntries(dir string, m *manifest) ([]graphEntry, error) {
	byFile := make(map[string]graphEntry)
	var order []string

	if m.GraphGlob != "" {
		matches, err := doublestar.Glob(os.DirFS(dir), m.GraphGlob)
		if err != nil {
			return nil, fmt.Errorf("graphGlob %q: %w", m.GraphGlob, err)
		}
		sort.Strings(matches)
		for _, rel := range matches {
			id := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
			byFile[rel] = graphEntry{ID: id, File: rel}
			order = append(order, rel)
		}
	}

	for _, e := range m.Graphs {
		if e.File == "" {
			return nil, fmt.Errorf("graphs: entry %q has no file", e.ID)
		}
		if _, ok := byFile[e.File]; !ok {
			order = append(order, e.File)
		}
		byFile[e.File] = e
	}

	entries := make([]graphEntry, 0, len(order))
	for _, rel := range order {
		entries = append(entries, byFile[rel])
	}
	return entries, nil
}

// graphFileDoc is the on-disk shape of one graph file.
type graphFileDoc struct {
	ID            string          `yaml:"id" json:"id"`
	EntryNode     string          `yaml:"entryNode" json:"entryNode"`
	TerminalNodes []string        `yaml:"terminalNodes" json:"terminalNodes"`
	PauseNodes    []string        `yaml:"pauseNodes" json:"pauseNodes"`
	Nodes         []nodeDoc       `yaml:"nodes" json:"nodes"`
	Edges         []edgeDoc       `yaml:"edges" json:"edges"`
	Goal          goalDoc         `yaml:"goal" json:"goal"`
	EntryPoints   []entryPointDoc `yaml:"entryPoints" json:"entryPoints"`
}

type nodeDoc struct {
	ID                 string   `yaml:"id" json:"id"`
	Description        string   `yaml:"description" json:"description"`
	SystemPrompt       string   `yaml:"systemPrompt" json:"systemPrompt"`
	InputKeys          []string `yaml:"inputKeys" json:"inputKeys"`
	OutputKeys         []string `yaml:"outputKeys" json:"outputKeys"`
	NullableOutputKeys []string `yaml:"nullableOutputKeys" json:"nullableOutputKeys"`
	Tools              []string `yaml:"tools" json:"tools"`
	ClientFacing       bool     `yaml:"clientFacing" json:"clientFacing"`
	IsolationLevel     string   `yaml:"isolationLevel" json:"isolationLevel"`
	ConversationMode   string   `yaml:"conversationMode" json:"conversationMode"`
	MaxNodeVisits      int      `yaml:"maxNodeVisits" json:"maxNodeVisits"`
	MaxRetries         int      `yaml:"maxRetries" json:"maxRetries"`
	SuccessCriteria    string   `yaml:"successCriteria" json:"successCriteria"`
}

type edgeDoc struct {
	ID            string `yaml:"id" json:"id"`
	Source        string `yaml:"source" json:"source"`
	Target        string `yaml:"target" json:"target"`
	Condition     string `yaml:"condition" json:"condition"`
	ConditionExpr string `yaml:"conditionExpr" json:"conditionExpr"`
	Priority      int    `yaml:"priority" json:"priority"`
}

type goalDoc struct {
	ID              string             `yaml:"id" json:"id"`
	Name            string             `yaml:"name" json:"name"`
	Description     string             `yaml:"description" json:"description"`
	SuccessCriteria map[string]float64 `yaml:"successCriteria" json:"successCriteria"`
	Constraints     []string           `yaml:"constraints" json:"constraints"`
}

type entryPointDoc struct {
	ID             string        `yaml:"id" json:"id"`
	EntryNode      string        `yaml:"entryNode" json:"entryNode"`
	TriggerType    string        `yaml:"triggerType" json:"triggerType"`
	TriggerConfig  triggerConfig `yaml:"triggerConfig" json:"triggerConfig"`
	IsolationLevel string        `yaml:"isolationLevel" json:"isolationLevel"`
	MaxConcurrent  int           `yaml:"maxConcurrent" json:"maxConcurrent"`
}

type triggerConfig struct {
	CronSpec        string   `yaml:"cronSpec" json:"cronSpec"`
	IntervalMinutes int      `yaml:"intervalMinutes" json:"intervalMinutes"`
	EventTypes      []string `yaml:"eventTypes" json:"eventTypes"`
	StreamFilter    string   `yaml:"streamFilter" json:"streamFilter"`
	NodeFilter      string   `yaml:"nodeFilter" json:"nodeFilter"`
	ExcludeOwnGraph bool     `yaml:"excludeOwnGraph" json:"excludeOwnGraph"`
	WebhookPath     string   `yaml:"webhookPath" json:"webhookPath"`
	WebhookSecret   string   `yaml:"webhookSecret" json:"webhookSecret"`
}

func loadGraphFile(dir string, e graphEntry) (*GraphFile, error) {
	path := filepath.Join(dir, e.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file %s: %w", path, err)
	}
	var doc graphFileDoc
	if err := unmarshalByExt(path, data, &doc); err != nil {
		return nil, fmt.Errorf("parse graph file %s: %w", path, err)
	}

	id := e.ID
	if doc.ID != "" {
		id = doc.ID
	}
	if id == "" {
		return nil, fmt.Errorf("graph file %s: no id (neither manifest entry nor file declares one)", path)
	}

	g := &graph.GraphSpec{
		ID:            id,
		EntryNode:     doc.EntryNode,
		TerminalNodes: doc.TerminalNodes,
		PauseNodes:    doc.PauseNodes,
	}
	for _, n := range doc.Nodes {
		g.Nodes = append(g.Nodes, graph.NodeSpec{
			ID:                 n.ID,
			Description:        n.Description,
			SystemPrompt:       n.SystemPrompt,
			InputKeys:          n.InputKeys,
			OutputKeys:         n.OutputKeys,
			NullableOutputKeys: n.NullableOutputKeys,
			Tools:              n.Tools,
			ClientFacing:       n.ClientFacing,
			IsolationLevel:     graph.IsolationLevel(n.IsolationLevel),
			ConversationMode:   graph.ConversationMode(n.ConversationMode),
			MaxNodeVisits:      n.MaxNodeVisits,
			MaxRetries:         n.MaxRetries,
			SuccessCriteria:    n.SuccessCriteria,
		})
	}
	for _, ed := range doc.Edges {
		g.Edges = append(g.Edges, graph.EdgeSpec{
			ID:            ed.ID,
			Source:        ed.Source,
			Target:        ed.Target,
			Condition:     graph.EdgeCondition(ed.Condition),
			ConditionExpr: ed.ConditionExpr,
			Priority:      ed.Priority,
		})
	}
	if err := graph.Build(g); err != nil {
		return nil, fmt.Errorf("graph file %s: %w", path, err)
	}

	goal := &graph.Goal{
		ID:              doc.Goal.ID,
		Name:            doc.Goal.Name,
		Description:     doc.Goal.Description,
		SuccessCriteria: doc.Goal.SuccessCriteria,
		Constraints:     doc.Goal.Constraints,
	}

	var eps []*graph.EntryPointSpec
	for _, ep := range doc.EntryPoints {
		eps = append(eps, &graph.EntryPointSpec{
			ID:             ep.ID,
			EntryNode:      ep.EntryNode,
			TriggerType:    graph.TriggerType(ep.TriggerType),
			IsolationLevel: graph.IsolationLevel(ep.IsolationLevel),
			MaxConcurrent:  ep.MaxConcurrent,
			TriggerConfig: graph.TriggerConfig{
				CronSpec:        ep.TriggerConfig.CronSpec,
				IntervalMinutes: ep.TriggerConfig.IntervalMinutes,
				EventTypes:      ep.TriggerConfig.EventTypes,
				StreamFilter:    ep.TriggerConfig.StreamFilter,
				NodeFilter:      ep.TriggerConfig.NodeFilter,
				ExcludeOwnGraph: ep.TriggerConfig.ExcludeOwnGraph,
				WebhookPath:     ep.TriggerConfig.WebhookPath,
				WebhookSecret:   ep.TriggerConfig.WebhookSecret,
			},
		})
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("graph file %s: at least one entry point is required", path)
	}

	return &GraphFile{ID: id, Graph: g, Goal: goal, EntryPoints: eps, StorageSubpath: e.StorageSubpath}, nil
}

// unmarshalByExt decodes data per path's extension: .yaml/.yml via yaml.v3,
// .json/.jsonc (and anything else) via hujson standardization then
// encoding/json, matching internal/config's JSONC handling.
func unmarshalByExt(path string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		std, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("standardize jsonc: %w", err)
		}
		return json.Unmarshal(std, v)
	}
}
