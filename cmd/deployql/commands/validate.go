package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deployql/deployql/pkg/manifest"
	"github.com/deployql/deployql/pkg/queries"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <stack-dir>",
		Short: "Validate the stack's manifest and query files",
		Long: `Parse the stack manifest and every resource's query file without
contacting the StackQL server. Reports the anchors each query file defines
and fails on malformed manifests, missing query files, or broken anchor
markers.`,
		Example: `  # Check the stack before a deployment
  deployql validate ./activity-monitor`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateStack(args[0])
		},
	}
	return cmd
}

func validateStack(stackDir string) error {
	m, err := manifest.LoadFromStackDir(stackDir)
	if err != nil {
		return err
	}
	fmt.Printf("stack %s: %d resource(s), %d global(s)\n",
		m.Name, len(m.Resources), len(m.Globals))

	failed := false
	for i := range m.Resources {
		res := &m.Resources[i]
		path := filepath.Join(stackDir, "resources", res.QueryFileName())
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("  %-30s missing query file %s\n", res.Name, res.QueryFileName())
			failed = true
			continue
		}
		anchors, err := queries.Parse(string(raw))
		if err != nil {
			fmt.Printf("  %-30s %v\n", res.Name, err)
			failed = true
			continue
		}
		fmt.Printf("  %-30s %s\n", res.Name, anchorNames(anchors))
	}
	if failed {
		return fmt.Errorf("stack %s failed validation", m.Name)
	}
	return nil
}

func anchorNames(anchors queries.AnchorSet) string {
	names := make([]string, 0, len(anchors))
	for kind := range anchors {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
