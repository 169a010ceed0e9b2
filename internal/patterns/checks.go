package patterns

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	reResource   = regexp.MustCompile(`\bresource\s+"[^"]+"\s+"[^"]+"`)
	reLifecycle  = regexp.MustCompile(`(?m)\blifecycle\s*\{`)
	reWorkload   = regexp.MustCompile(`(?m)^[ \t]*kind:\s*(Deployment|StatefulSet|DaemonSet)\b`)
	reLimitsLine = regexp.MustCompile(`(?m)^\s*limits:`)
)

// missingLifecycle flags the first resource of a Terraform file that has
// no lifecycle block anywhere.
var missingLifecycle = FuncMatcher{
	Name: "missing-lifecycle",
	Fn: func(content string) []Match {
		if reLifecycle.MatchString(content) {
			return nil
		}
		loc := reResource.FindStringIndex(content)
		if loc == nil {
			return nil
		}
		return []Match{{Start: loc[0], End: loc[1]}}
	},
}

// workloadKinds maps a manifest kind to the path of its container list.
var workloadKinds = map[string][]string{
	"Pod":         {"spec", "containers"},
	"Deployment":  {"spec", "template", "spec", "containers"},
	"StatefulSet": {"spec", "template", "spec", "containers"},
	"DaemonSet":   {"spec", "template", "spec", "containers"},
	"ReplicaSet":  {"spec", "template", "spec", "containers"},
	"Job":         {"spec", "template", "spec", "containers"},
	"CronJob":     {"spec", "jobTemplate", "spec", "template", "spec", "containers"},
}

// missingResourceLimits flags every workload container without
// resources.limits. Unparseable YAML falls back to a textual heuristic so
// the check stays total.
var missingResourceLimits = FuncMatcher{
	Name: "missing-resource-limits",
	Fn: func(content string) []Match {
		docs, err := decodeDocuments(content)
		if err != nil {
			return limitsHeuristic(content)
		}
		var out []Match
		for _, doc := range docs {
			kind := scalarAt(doc, "kind")
			path, ok := workloadKinds[kind]
			if !ok {
				continue
			}
			containers := nodeAt(doc, path...)
			if containers == nil || containers.Kind != yaml.SequenceNode {
				continue
			}
			for _, c := range containers.Content {
				if nodeAt(c, "resources", "limits") != nil {
					continue
				}
				start := OffsetOfLine(content, c.Line) + max(0, c.Column-1)
				end := start + len(firstLine(content[min(start, len(content)):]))
				out = append(out, Match{Start: start, End: end})
			}
		}
		return out
	},
}

func limitsHeuristic(content string) []Match {
	if reLimitsLine.MatchString(content) {
		return nil
	}
	loc := reWorkload.FindStringIndex(content)
	if loc == nil {
		return nil
	}
	return []Match{{Start: loc[0], End: loc[1]}}
}

func decodeDocuments(content string) ([]*yaml.Node, error) {
	dec := yaml.NewDecoder(strings.NewReader(content))
	var docs []*yaml.Node
	for {
		var n yaml.Node
		err := dec.Decode(&n)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		if len(n.Content) > 0 {
			docs = append(docs, n.Content[0])
		}
	}
}

func nodeAt(n *yaml.Node, path ...string) *yaml.Node {
	cur := n
	for _, key := range path {
		if cur == nil || cur.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(cur.Content); i += 2 {
			if cur.Content[i].Value == key {
				next = cur.Content[i+1]
				break
			}
		}
		cur = next
	}
	return cur
}

func scalarAt(n *yaml.Node, path ...string) string {
	v := nodeAt(n, path...)
	if v == nil || v.Kind != yaml.ScalarNode {
		return ""
	}
	return v.Value
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
