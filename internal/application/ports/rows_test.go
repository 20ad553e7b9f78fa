package ports

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapsync/internal/domain/entities"
	"mapsync/internal/domain/valueobjects"
)

func TestNodeRow_RoundTrip(t *testing.T) {
	w, h := 120.0, 40.0
	node := entities.Node{
		ID:       "n1",
		MapID:    "m1",
		Position: valueobjects.MustNewPosition(12.5, -3),
		Content:  "Hello",
		Color:    "#ef4444",
		Kind:     entities.NodeKindMindMap,
		Width:    &w,
		Height:   &h,
	}

	row := NodeRowFromEntity(node)
	back := row.ToEntity()

	assert.Equal(t, node, back)
	w = 999
	assert.Equal(t, 120.0, *row.Width, "rows do not alias entity pointers")
}

func TestNodeRow_JSONColumns(t *testing.T) {
	row := NodeRow{MapID: "m1", NodeID: "n1", PositionX: 1, PositionY: 2, Content: "c", Color: "#fff", NodeType: "mindmap"}

	raw, err := json.Marshal(row)
	require.NoError(t, err)

	var cols map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &cols))
	for _, col := range []string{"map_id", "node_id", "position_x", "position_y", "content", "color", "node_type"} {
		assert.Contains(t, cols, col)
	}
	assert.NotContains(t, cols, "width", "unmeasured size is omitted")
}

func TestRows_Defaults(t *testing.T) {
	node := NodeRow{NodeID: "n1"}.ToEntity()
	edge := EdgeRow{EdgeID: "e1"}.ToEntity()

	assert.Equal(t, entities.NodeKindMindMap, node.Kind)
	assert.Equal(t, entities.EdgeTypeSmoothStep, edge.Type)
}

func TestRowsFromEntities_StampMapID(t *testing.T) {
	nodes := []entities.Node{{ID: "a"}, {ID: "b"}}
	edges := []entities.Edge{{ID: "e", SourceID: "a", TargetID: "b", Type: entities.EdgeTypeSmoothStep}}

	nodeRows := NodeRowsFromEntities("m1", nodes)
	edgeRows := EdgeRowsFromEntities("m1", edges)

	require.Len(t, nodeRows, 2)
	assert.Equal(t, "m1", nodeRows[0].MapID)
	assert.Equal(t, "b", nodeRows[1].NodeID)
	require.Len(t, edgeRows, 1)
	assert.Equal(t, "m1", edgeRows[0].MapID)
	assert.Equal(t, "a", edgeRows[0].SourceNodeID)
	assert.Equal(t, "smoothstep", edgeRows[0].EdgeType)

	assert.Equal(t, []string{"a", "b"}, []string{NodesFromRows(nodeRows)[0].ID, NodesFromRows(nodeRows)[1].ID})
	assert.Equal(t, "e", EdgesFromRows(edgeRows)[0].ID)
}
