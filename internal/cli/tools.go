package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pohlai88/lynx/pkg/mcp/cell"
	"github.com/pohlai88/lynx/pkg/mcp/cluster"
	"github.com/pohlai88/lynx/pkg/mcp/domain"
	"github.com/pohlai88/lynx/pkg/protocol"
	"github.com/pohlai88/lynx/pkg/registry"
	"github.com/pohlai88/lynx/pkg/store"
)

var toolsLayer string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool catalog",
	Long:  `List every registered tool grouped by layer, with risk level and description.`,
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsLayer, "layer", "", "filter by layer (domain, cluster, cell)")
	rootCmd.AddCommand(toolsCmd)
}

// buildCatalog registers the full catalog against throwaway stores. The
// command only reads tool metadata, so nothing is persisted.
func buildCatalog() *registry.Registry {
	reg := registry.New()
	st := store.NewMemoryStore()
	directory := domain.NewStaticDirectory()

	domain.NewService(directory, st).Register(reg)
	cluster.NewService(st, directory).Register(reg)
	cell.NewService(st, st, st).Register(reg)
	return reg
}

func runTools(cmd *cobra.Command, args []string) error {
	reg := buildCatalog()
	out := cmd.OutOrStdout()

	layers := []protocol.Layer{protocol.LayerDomain, protocol.LayerCluster, protocol.LayerCell}
	if toolsLayer != "" {
		layer := protocol.Layer(strings.ToLower(toolsLayer))
		switch layer {
		case protocol.LayerDomain, protocol.LayerCluster, protocol.LayerCell:
			layers = []protocol.Layer{layer}
		default:
			return fmt.Errorf("unknown layer %q (must be: domain, cluster, cell)", toolsLayer)
		}
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, layer := range layers {
		tools := reg.ListByLayer(layer)
		fmt.Fprintf(w, "%s (%d)\n", strings.ToUpper(string(layer)), len(tools))
		for _, t := range tools {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", t.ID, t.Risk, t.Description)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
