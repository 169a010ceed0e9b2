package parse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployguard/internal/models"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		kind    models.Kind
		content string
		wantErr bool
	}{
		{"drop table", models.KindSQL, "DROP TABLE legacy_logs;", false},
		{"filtered delete", models.KindSQL, "DELETE FROM sessions WHERE created_at < '2020-01-01';", false},
		{"unbalanced sql", models.KindSQL, "SELECT (1 FROM ;;; ((", true},
		{"terraform resource", models.KindInfraConfig, "resource \"aws_s3_bucket\" \"logs\" {\n  bucket = \"logs\"\n}\n", false},
		{"unclosed block", models.KindInfraConfig, "resource \"aws_s3_bucket\" \"logs\" {\n  bucket = \n", true},
		{"manifest", models.KindManifest, "apiVersion: v1\nkind: Pod\n---\nkind: Service\n", false},
		{"broken manifest", models.KindManifest, "kind: Pod\nspec: [unclosed\n", true},
		{"blank", models.KindSQL, "  \n", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(context.Background(), tc.kind, tc.content)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrParse))
			var synErr *SyntaxError
			require.True(t, errors.As(err, &synErr))
			assert.Equal(t, tc.kind, synErr.Kind)
		})
	}
}

func TestValidateYAMLLine(t *testing.T) {
	err := Validate(context.Background(), models.KindManifest, "kind: Pod\nmetadata:\n  name: a\n   bad: indent\n")
	var synErr *SyntaxError
	require.True(t, errors.As(err, &synErr))
	assert.Positive(t, synErr.Line)
}

func TestValidateUnknownKind(t *testing.T) {
	err := Validate(context.Background(), "docker", "FROM alpine")
	assert.ErrorIs(t, err, models.ErrUnsupportedKind)
	assert.NotErrorIs(t, err, models.ErrParse)
}
