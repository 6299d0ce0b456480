package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/session"
)

func noopHandler(ctx context.Context, input map[string]interface{}, execCtx *session.ExecutionContext) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func testTool(id string, layer protocol.Layer, risk protocol.RiskLevel, domain string) Tool {
	return Tool{
		ID:          id,
		Name:        "Test " + id,
		Description: "A test tool",
		Layer:       layer,
		Risk:        risk,
		Domain:      domain,
		Handler:     noopHandler,
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := New()

	err := reg.Register(testTool("vpm.domain.vendor.read", protocol.LayerDomain, protocol.RiskLow, "vpm"))
	require.NoError(t, err)

	tool, err := reg.Get("vpm.domain.vendor.read")
	require.NoError(t, err)
	assert.Equal(t, protocol.LayerDomain, tool.Layer)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_DuplicateID(t *testing.T) {
	reg := New()

	require.NoError(t, reg.Register(testTool("a.domain.x.read", protocol.LayerDomain, protocol.RiskLow, "a")))
	err := reg.Register(testTool("a.domain.x.read", protocol.LayerDomain, protocol.RiskLow, "a"))

	var dup *DuplicateToolError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a.domain.x.read", dup.ID)
}

func TestRegistry_InvalidDefinition(t *testing.T) {
	reg := New()

	tests := []struct {
		name string
		tool Tool
	}{
		{"empty id", Tool{Name: "x", Description: "x", Layer: protocol.LayerDomain, Risk: protocol.RiskLow, Handler: noopHandler}},
		{"empty name", Tool{ID: "a.b.c", Description: "x", Layer: protocol.LayerDomain, Risk: protocol.RiskLow, Handler: noopHandler}},
		{"empty description", Tool{ID: "a.b.c", Name: "x", Layer: protocol.LayerDomain, Risk: protocol.RiskLow, Handler: noopHandler}},
		{"bad layer", Tool{ID: "a.b.c", Name: "x", Description: "x", Layer: "edge", Risk: protocol.RiskLow, Handler: noopHandler}},
		{"bad risk", Tool{ID: "a.b.c", Name: "x", Description: "x", Layer: protocol.LayerCell, Risk: "critical", Handler: noopHandler}},
		{"nil handler", Tool{ID: "a.b.c", Name: "x", Description: "x", Layer: protocol.LayerCell, Risk: protocol.RiskLow}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.tool)
			var invalid *InvalidToolDefinitionError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := New()

	_, err := reg.Get("does.not.exist")
	var notFound *ToolNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "does.not.exist", notFound.ID)
}

func TestRegistry_ListFilters(t *testing.T) {
	reg := New()

	reg.MustRegister(testTool("vpm.domain.vendor.read", protocol.LayerDomain, protocol.RiskLow, "vpm"))
	reg.MustRegister(testTool("vpm.cluster.payment.draft.create", protocol.LayerCluster, protocol.RiskMedium, "vpm"))
	reg.MustRegister(testTool("vpm.cell.payment.execute", protocol.LayerCell, protocol.RiskHigh, "vpm"))
	reg.MustRegister(testTool("docs.cluster.draft.create", protocol.LayerCluster, protocol.RiskMedium, "docs"))

	assert.Len(t, reg.ListByLayer(protocol.LayerCluster), 2)
	assert.Len(t, reg.ListByDomain("vpm"), 3)
	assert.Len(t, reg.ListByRisk(protocol.RiskHigh), 1)
	assert.Len(t, reg.ListAll(), 4)

	// Registration order is preserved.
	all := reg.ListAll()
	assert.Equal(t, "vpm.domain.vendor.read", all[0].ID)
	assert.Equal(t, "docs.cluster.draft.create", all[3].ID)
}

func TestRegistry_SchemaCompilation(t *testing.T) {
	reg := New()

	tool := testTool("docs.cluster.draft.create", protocol.LayerCluster, protocol.RiskMedium, "docs")
	tool.InputSchema = map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{"type": "string"},
		},
		"required": []string{"title"},
	}
	require.NoError(t, reg.Register(tool))

	schema := reg.InputSchema(tool.ID)
	require.NotNil(t, schema)
	assert.Nil(t, reg.OutputSchema(tool.ID))
	assert.Nil(t, reg.InputSchema("unknown"))
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	reg := New()
	assert.Panics(t, func() {
		reg.MustRegister(Tool{ID: "bad"})
	})
}
