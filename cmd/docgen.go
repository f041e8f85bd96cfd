package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

func init() {
	var docsPath, format string

	var docgenCmd = &cobra.Command{
		Use:    "docgen",
		Short:  "Generate documentation for the command line",
		Hidden: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			switch format {
			case "markdown":
				return doc.GenMarkdownTree(rootCmd, docsPath)
			case "man":
				return doc.GenManTree(rootCmd, &doc.GenManHeader{Title: "PUSHREG", Section: "1"}, docsPath)
			default:
				return fmt.Errorf("unsupported documentation format %q", format)
			}
		},
	}

	docgenCmd.Flags().StringVar(&docsPath, "out", "./docs/", "directory to write generated CLI documentation to")
	docgenCmd.Flags().StringVar(&format, "format", "markdown", "documentation format (markdown, man)")

	rootCmd.AddCommand(docgenCmd)
}
