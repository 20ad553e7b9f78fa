package entities

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "mapsync/pkg/errors"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "Roadmap", want: "Roadmap"},
		{name: "trimmed", input: "  Roadmap \n", want: "Roadmap"},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
		{name: "at limit", input: strings.Repeat("a", MaxTitleLength), want: strings.Repeat("a", MaxTitleLength)},
		{name: "over limit", input: strings.Repeat("a", MaxTitleLength+1), wantErr: true},
		{name: "multibyte at limit", input: strings.Repeat("é", MaxTitleLength), want: strings.Repeat("é", MaxTitleLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTitle(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEdge_Touches(t *testing.T) {
	e := Edge{ID: "e1", SourceID: "a", TargetID: "b"}

	assert.True(t, e.Touches(map[string]struct{}{"a": {}}))
	assert.True(t, e.Touches(map[string]struct{}{"b": {}}))
	assert.False(t, e.Touches(map[string]struct{}{"c": {}}))
	assert.False(t, e.Touches(nil))
	assert.False(t, e.IsSelfLoop())
	assert.True(t, Edge{SourceID: "a", TargetID: "a"}.IsSelfLoop())
}

func TestEdgeType_IsValid(t *testing.T) {
	assert.True(t, EdgeTypeSmoothStep.IsValid())
	assert.True(t, EdgeTypeStep.IsValid())
	assert.False(t, EdgeType("zigzag").IsValid())
	assert.Equal(t, "smoothstep", EdgeTypeSmoothStep.String())
}

func TestNode_HasSize(t *testing.T) {
	w := 10.0
	assert.False(t, Node{}.HasSize())
	assert.False(t, Node{Width: &w}.HasSize())
	assert.True(t, Node{Width: &w, Height: &w}.HasSize())
}
