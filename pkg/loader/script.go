package loader

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wehubfusion/Aegis/pkg/bundle"
	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
	"github.com/wehubfusion/Aegis/pkg/manifest"
	"github.com/wehubfusion/Aegis/pkg/sandbox"
)

// ScriptImporter imports CommonJS-style JavaScript bundles into the sandbox
type ScriptImporter struct {
	fetcher  bundle.Fetcher
	executor *sandbox.Executor
	logger   *zap.Logger
}

// ScriptOption configures a ScriptImporter
type ScriptOption func(*ScriptImporter)

// WithScriptLogger sets the importer's logger
func WithScriptLogger(logger *zap.Logger) ScriptOption {
	return func(s *ScriptImporter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScriptImporter creates an importer fetching bundles through fetcher
func NewScriptImporter(fetcher bundle.Fetcher, executor *sandbox.Executor, opts ...ScriptOption) *ScriptImporter {
	s := &ScriptImporter{
		fetcher:  fetcher,
		executor: executor,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Import implements Importer. Every function export becomes a *ScriptComponent.
func (s *ScriptImporter) Import(ctx context.Context, m manifest.Manifest) (Exports, error) {
	source, err := s.fetcher.Fetch(ctx, m.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bundle %s: %w", m.Location, err)
	}
	if m.DeclaredSizeBytes != nil && int64(len(source)) > *m.DeclaredSizeBytes {
		return nil, aegiserrors.SizeLimitExceeded(m.ID, len(source), int(*m.DeclaredSizeBytes))
	}

	program, err := sandbox.CompileModule(m.ID+"@"+m.Version, string(source))
	if err != nil {
		return nil, err
	}

	names, err := s.executor.ModuleExports(sandbox.WithWidgetID(ctx, m.ID), program)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate bundle: %w", err)
	}

	exports := make(Exports, len(names))
	for _, name := range names {
		exports[name] = &ScriptComponent{
			WidgetID: m.ID,
			Export:   name,
			program:  program,
			executor: s.executor,
		}
	}

	s.logger.Debug("Imported script bundle",
		zap.String("widget_id", m.ID),
		zap.Int("size_bytes", len(source)),
		zap.Strings("exports", names))
	return exports, nil
}

// ScriptComponent is one exported function of a script bundle
type ScriptComponent struct {
	WidgetID string
	Export   string

	program  *goja.Program
	executor *sandbox.Executor
}

// Render calls the export with a copy of props in a fresh sandbox context
func (c *ScriptComponent) Render(ctx context.Context, props any) (any, error) {
	return c.executor.ExecuteModule(sandbox.WithWidgetID(ctx, c.WidgetID), c.program, c.Export, props)
}
