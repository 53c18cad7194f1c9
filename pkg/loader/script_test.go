package loader

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Aegis/pkg/bundle"
	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
	"github.com/wehubfusion/Aegis/pkg/manifest"
	"github.com/wehubfusion/Aegis/pkg/sandbox"
)

func memoryFetcher(files map[string]string) bundle.Fetcher {
	return bundle.FetcherFunc(func(_ context.Context, location string) ([]byte, error) {
		src, ok := files[location]
		if !ok {
			return nil, fmt.Errorf("no bundle at %s", location)
		}
		return []byte(src), nil
	})
}

func newScriptLoader(t *testing.T, files map[string]string, manifests ...manifest.Manifest) *Loader {
	t.Helper()
	executor, err := sandbox.NewExecutor(sandbox.Config{MaxConcurrent: 2})
	require.NoError(t, err)
	importer := NewScriptImporter(memoryFetcher(files), executor)
	return New(newRegistry(t, manifests...), importer)
}

func TestScriptImporterDefaultExport(t *testing.T) {
	l := newScriptLoader(t, map[string]string{
		"bundles/kpi.js": `module.exports = function (props) {
			return { text: props.label + ": " + props.value };
		};`,
	}, widget("kpi"))

	c, err := l.Load(context.Background(), "kpi")
	require.NoError(t, err)
	assert.Equal(t, DefaultExport, c.Export)

	script, ok := c.Value.(*ScriptComponent)
	require.True(t, ok)

	out, err := script.Render(context.Background(), map[string]any{"label": "Revenue", "value": 42})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "Revenue: 42"}, out)
}

func TestScriptImporterNamedExport(t *testing.T) {
	m := widget("chart")
	m.Name = "Chart"
	l := newScriptLoader(t, map[string]string{
		"bundles/chart.js": `
			exports.Chart = function (props) { return { bars: props.values.length }; };
			exports.helper = function () { return null; };
		`,
	}, m)

	c, err := l.Load(context.Background(), "chart")
	require.NoError(t, err)
	assert.Equal(t, "Chart", c.Export)

	out, err := c.Value.(*ScriptComponent).Render(context.Background(), map[string]any{"values": []int{3, 1, 4}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bars": float64(3)}, out)
}

func TestScriptImporterComponentNotFound(t *testing.T) {
	l := newScriptLoader(t, map[string]string{
		"bundles/table.js": `exports.Other = function () {};`,
	}, widget("table"))

	_, err := l.Load(context.Background(), "table")
	require.Error(t, err)
	assert.True(t, errors.Is(err, aegiserrors.ErrComponentNotFound))
}

func TestScriptImporterDeclaredSize(t *testing.T) {
	m := widget("kpi")
	m.DeclaredSizeBytes = manifest.Size(10)
	l := newScriptLoader(t, map[string]string{
		"bundles/kpi.js": `module.exports = function (p) { return p; };`,
	}, m)

	_, err := l.Load(context.Background(), "kpi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, aegiserrors.ErrLoadFailed))
	assert.True(t, errors.Is(err, aegiserrors.ErrSizeLimitExceeded))
}

func TestScriptImporterFailures(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{name: "missing bundle", files: map[string]string{}},
		{name: "syntax error", files: map[string]string{"bundles/kpi.js": "module.exports = function ("}},
		{name: "throws on evaluation", files: map[string]string{"bundles/kpi.js": "throw new Error('init failed');"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newScriptLoader(t, tt.files, widget("kpi"))
			_, err := l.Load(context.Background(), "kpi")
			require.Error(t, err)
			assert.True(t, errors.Is(err, aegiserrors.ErrLoadFailed))
			assert.False(t, l.IsLoaded("kpi"))
		})
	}
}

func TestScriptComponentRenderFailureIsGeneric(t *testing.T) {
	l := newScriptLoader(t, map[string]string{
		"bundles/kpi.js": `module.exports = function (p) { throw new Error('internal detail'); };`,
	}, widget("kpi"))

	c, err := l.Load(context.Background(), "kpi")
	require.NoError(t, err)

	_, err = c.Value.(*ScriptComponent).Render(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, aegiserrors.ErrWidgetTransform))
	assert.NotContains(t, err.Error(), "internal detail")
}
