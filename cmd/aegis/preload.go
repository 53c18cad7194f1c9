package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagManifests string
	flagHigh      []string
	flagWait      time.Duration
)

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Register manifests and preload their widgets",
	Long: `Preload registers every manifest in a JSON file and loads the widgets through
the priority scheduler. Widgets named with --high are loaded first. The final
state of each widget is printed as JSON.

Example:
  aegis preload --manifests widgets.json --high chart,kpi`,
	Args: cobra.NoArgs,
	RunE: runPreload,
}

func init() {
	preloadCmd.Flags().StringVar(&flagManifests, "manifests", "", "JSON manifest file (required)")
	preloadCmd.Flags().StringSliceVar(&flagHigh, "high", nil, "widget ids to preload with high priority")
	preloadCmd.Flags().DurationVar(&flagWait, "wait", time.Minute, "maximum time to wait for preloading")
	_ = preloadCmd.MarkFlagRequired("manifests")
}

type preloadResult struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	State   string `json:"state"`
}

func runPreload(cmd *cobra.Command, args []string) error {
	h, err := newHost()
	if err != nil {
		return err
	}
	defer func() { _ = h.Close(context.Background()) }()

	manifests, err := h.RegisterFile(flagManifests)
	if err != nil {
		return err
	}

	high := make(map[string]bool, len(flagHigh))
	for _, id := range flagHigh {
		high[id] = true
		h.Scheduler().AddHighPriority(id)
	}
	for _, m := range manifests {
		if !high[m.ID] {
			h.Scheduler().AddLowPriority(m.ID)
		}
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), flagWait)
	defer cancel()
	if err := h.Scheduler().Wait(ctx); err != nil {
		logger.Warn("Preloading did not finish", zap.Error(err))
	}

	results := make([]preloadResult, 0, len(manifests))
	for _, m := range manifests {
		results = append(results, preloadResult{
			ID:      m.ID,
			Version: m.Version,
			State:   h.Loader().State(m.ID).String(),
		})
	}
	return printJSON(cmd, results)
}
