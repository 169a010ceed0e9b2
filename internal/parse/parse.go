// Package parse checks that artifact content is well formed for its kind.
// SQL and Terraform go through tree-sitter grammars; manifests through the
// YAML decoder.
package parse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/hcl"
	"github.com/smacker/go-tree-sitter/sql"
	"gopkg.in/yaml.v3"

	"deployguard/internal/models"
)

// SyntaxError locates the first malformed region of an artifact.
type SyntaxError struct {
	Kind models.Kind
	Line int // 1-indexed, 0 when the decoder gives no position
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s line %d: %s", models.ErrParse, e.Kind.DisplayName(), e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", models.ErrParse, e.Kind.DisplayName(), e.Msg)
}

func (e *SyntaxError) Unwrap() error { return models.ErrParse }

// Validate returns nil for well-formed content and a *SyntaxError
// otherwise. Any other error means the check itself could not run.
func Validate(ctx context.Context, kind models.Kind, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	switch kind {
	case models.KindSQL:
		return validateTree(ctx, kind, sql.GetLanguage(), content)
	case models.KindInfraConfig:
		return validateTree(ctx, kind, hcl.GetLanguage(), content)
	case models.KindManifest:
		return validateYAML(content)
	}
	return fmt.Errorf("%w: %q", models.ErrUnsupportedKind, kind)
}

func validateTree(ctx context.Context, kind models.Kind, lang *sitter.Language, content string) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	src := []byte(content)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", kind.DisplayName(), err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}
	node := firstError(root)
	if node == nil {
		return &SyntaxError{Kind: kind, Msg: "unparseable content"}
	}
	near := node.Content(src)
	if len(near) > 40 {
		near = near[:40] + "..."
	}
	msg := "syntax error near " + strconv.Quote(strings.TrimSpace(near))
	if node.IsMissing() {
		msg = "missing " + node.Type()
	}
	return &SyntaxError{Kind: kind, Line: int(node.StartPoint().Row) + 1, Msg: msg}
}

// firstError walks the tree in document order.
func firstError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstError(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

var reYAMLLine = regexp.MustCompile(`line (\d+):\s*(.*)`)

func validateYAML(content string) error {
	dec := yaml.NewDecoder(strings.NewReader(content))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			synErr := &SyntaxError{Kind: models.KindManifest, Msg: strings.TrimPrefix(err.Error(), "yaml: ")}
			if m := reYAMLLine.FindStringSubmatch(err.Error()); m != nil {
				synErr.Line, _ = strconv.Atoi(m[1])
				synErr.Msg = m[2]
			}
			return synErr
		}
	}
}
