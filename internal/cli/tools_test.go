package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pohlai88/lynx/pkg/protocol"
)

func TestBuildCatalog(t *testing.T) {
	reg := buildCatalog()

	assert.Equal(t, 13, reg.Count())
	assert.Len(t, reg.ListByLayer(protocol.LayerDomain), 7)
	assert.Len(t, reg.ListByLayer(protocol.LayerCluster), 3)
	assert.Len(t, reg.ListByLayer(protocol.LayerCell), 3)
}

func TestToolsCommand(t *testing.T) {
	t.Run("all layers", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"tools"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		text := output.String()
		assert.Contains(t, text, "DOMAIN (7)")
		assert.Contains(t, text, "CELL (3)")
		assert.Contains(t, text, "vpm.cell.payment.execute")
	})

	t.Run("single layer", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"tools", "--layer", "cell"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		text := output.String()
		assert.Contains(t, text, "CELL (3)")
		assert.NotContains(t, text, "DOMAIN")
	})

	t.Run("unknown layer", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"tools", "--layer", "orbit"})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		assert.Error(t, cmd.Execute())
	})
}
