package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Aegis/pkg/sandbox"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|->",
	Short: "Scan transformation code for dangerous patterns",
	Long: `Validate scans transformation code without running it and prints the findings.
The command fails when any pattern matches.

Example:
  aegis validate transform.js
  cat transform.js | aegis validate -`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	code, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	result := sandbox.Validate(string(code))
	if err := printJSON(cmd, result); err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("validation failed with %d finding(s)", len(result.Errors))
	}
	return nil
}
