// Package ingest turns files and uploads into artifacts.
package ingest

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"deployguard/internal/models"
)

// kindByExt lists the extensions collected when walking directories.
var kindByExt = map[string]models.Kind{
	".sql":    models.KindSQL,
	".tf":     models.KindInfraConfig,
	".tfvars": models.KindInfraConfig,
	".hcl":    models.KindInfraConfig,
	".yaml":   models.KindManifest,
	".yml":    models.KindManifest,
}

var (
	reInfra     = regexp.MustCompile(`(?m)^\s*(resource|module|provider|variable|output|data|terraform|locals)\b[^\n]*\{`)
	reManifest  = regexp.MustCompile(`(?m)^(apiVersion|kind):\s*\S`)
	reSQL       = regexp.MustCompile(`(?im)^\s*(create|drop|alter|insert|update|delete|truncate|select|grant|revoke|begin|commit|with)\b`)
	reYAMLLines = regexp.MustCompile(`(?m)^[A-Za-z_][\w.-]*:(\s|$)`)
)

// KnownExtension reports whether name has an extension DetectKind maps
// without looking at content.
func KnownExtension(name string) bool {
	_, ok := kindByExt[strings.ToLower(filepath.Ext(name))]
	return ok
}

// DetectKind picks the kind from the extension, falling back to content
// heuristics for unknown extensions.
func DetectKind(filename, content string) (models.Kind, error) {
	if k, ok := kindByExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return k, nil
	}
	switch {
	case reInfra.MatchString(content):
		return models.KindInfraConfig, nil
	case reManifest.MatchString(content):
		return models.KindManifest, nil
	case reSQL.MatchString(content):
		return models.KindSQL, nil
	case reYAMLLines.MatchString(content):
		return models.KindManifest, nil
	}
	return "", fmt.Errorf("%w: cannot infer kind of %q", models.ErrUnsupportedKind, filename)
}

// NewArtifact builds an artifact whose id is the cleaned, slash-separated
// filename, so repeated runs over the same files produce the same ids.
func NewArtifact(filename, content string) (models.Artifact, error) {
	kind, err := DetectKind(filename, content)
	if err != nil {
		return models.Artifact{}, err
	}
	return NewArtifactOfKind(filename, content, kind)
}

// NewArtifactOfKind skips detection for callers that already know the kind.
func NewArtifactOfKind(filename, content string, kind models.Kind) (models.Artifact, error) {
	id := ArtifactID(filename)
	if id == "" {
		return models.Artifact{}, fmt.Errorf("artifact without a filename")
	}
	return models.Artifact{
		ID:       id,
		Filename: path.Base(id),
		Kind:     kind,
		Content:  content,
		Size:     len(content),
	}, nil
}

// ArtifactID normalises a filename into an artifact id.
func ArtifactID(filename string) string {
	id := path.Clean(filepath.ToSlash(strings.TrimSpace(filename)))
	id = strings.TrimPrefix(id, "./")
	if id == "." || id == "/" {
		return ""
	}
	return id
}
