package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagCode     string
	flagData     string
	flagWidgetID string
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Run transformation code against JSON data",
	Long: `Transform runs a one-argument JavaScript function against JSON data with the
host's rate limit, size, validation and sandbox gates, then prints the result.

Example:
  aegis transform --code double.js --data rows.json
  echo '[1,2,3]' | aegis transform --code double.js --data -`,
	Args: cobra.NoArgs,
	RunE: runTransform,
}

func init() {
	transformCmd.Flags().StringVar(&flagCode, "code", "", "file containing the transformation function (required)")
	transformCmd.Flags().StringVar(&flagData, "data", "", "JSON input file, - for stdin (default: null)")
	transformCmd.Flags().StringVar(&flagWidgetID, "widget", "cli", "widget id the call is accounted to")
	_ = transformCmd.MarkFlagRequired("code")
}

func runTransform(cmd *cobra.Command, args []string) error {
	code, err := readInput(cmd, flagCode)
	if err != nil {
		return err
	}

	var data any
	if flagData != "" {
		raw, err := readInput(cmd, flagData)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse data: %w", err)
		}
	}

	h, err := newHost()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	defer func() { _ = h.Close(ctx) }()

	out, err := h.Transform(ctx, flagWidgetID, string(code), data)
	if err != nil {
		info := h.SafeError(ctx, flagWidgetID, err)
		logger.Debug("Transformation failed", zap.String("widget_id", flagWidgetID), zap.Error(err))
		return fmt.Errorf("%s (%s)", info.Message, info.Type)
	}
	return printJSON(cmd, out)
}
