package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Aegis/pkg/host"
)

// readInput reads path, or stdin when path is "-"
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// printJSON writes v as indented JSON to the command's stdout
func printJSON(cmd *cobra.Command, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}

// newHost builds a host from the loaded configuration
func newHost() (*host.Host, error) {
	return host.New(host.Options{Config: cfg, Logger: logger})
}
