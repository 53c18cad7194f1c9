package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Aegis/pkg/sanitize"
)

var cspCmd = &cobra.Command{
	Use:   "csp",
	Short: "Print the content security policy for widget frames",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), sanitize.ContentSecurityPolicy())
	},
}
