// Package main provides the aegis CLI for validating, running and preloading widget code
// with the same gates the host applies at run time.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
