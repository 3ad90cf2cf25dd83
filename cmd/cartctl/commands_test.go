package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arpitray/commerce/internal/catalog"
	"github.com/Arpitray/commerce/internal/di"
	"github.com/Arpitray/commerce/internal/platform/config"
	"github.com/Arpitray/commerce/internal/services"
)

func newTestApp(t *testing.T) (*cliApp, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/products/1":
			_, _ = w.Write([]byte(`{"id":1,"title":"Chair","price":12.5,"category":"furniture","stock":4}`))
		case "/products/category/furniture":
			_, _ = w.Write([]byte(`{"products":[{"id":1,"title":"Chair","price":12.5},{"id":2,"title":"Desk","price":80}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.Config{
		Catalog: config.CatalogConfig{BaseURL: srv.URL, Timeout: 2 * time.Second, HydrationConcurrency: 2, CategoryConcurrency: 2},
		Cart:    config.CartConfig{Backend: config.CartBackendMemory},
	}
	container, err := di.NewContainer(context.Background(), cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	app := &cliApp{out: out, container: container}
	t.Cleanup(app.close)
	return app, out
}

func execute(t *testing.T, app *cliApp, args ...string) error {
	t.Helper()
	root := newRootCommand(app)
	root.SetArgs(args)
	root.SetOut(app.out)
	root.SetErr(app.out)
	return root.ExecuteContext(context.Background())
}

func TestProductCommand(t *testing.T) {
	app, out := newTestApp(t)

	require.NoError(t, execute(t, app, "product", "1"))
	assert.Contains(t, out.String(), "Chair")
	assert.Contains(t, out.String(), "12.50")

	out.Reset()
	err := execute(t, app, "product", "99")
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestCategoryCommand(t *testing.T) {
	app, out := newTestApp(t)

	require.NoError(t, execute(t, app, "category"))
	assert.Contains(t, out.String(), "furniture")

	out.Reset()
	require.NoError(t, execute(t, app, "category", "furniture"))
	assert.Contains(t, out.String(), "Desk")

	err := execute(t, app, "category", "garden")
	require.ErrorIs(t, err, catalog.ErrUnknownCategory)
}

func TestCartCommands(t *testing.T) {
	app, out := newTestApp(t)

	require.NoError(t, execute(t, app, "cart", "add", "1", "--user", "u1", "-q", "2"))
	assert.Contains(t, out.String(), "items: 2  total: 25.00")

	out.Reset()
	require.NoError(t, execute(t, app, "--json", "cart", "show", "--user", "u1"))
	var snapshot services.CartSnapshot
	require.NoError(t, json.Unmarshal(out.Bytes(), &snapshot))
	assert.Equal(t, services.SessionReady, snapshot.State)
	assert.Equal(t, "u1", snapshot.UserID)
	require.Len(t, snapshot.Lines, 1)
	assert.Equal(t, 2, snapshot.Lines[0].Quantity)
	assert.Equal(t, "Chair", snapshot.Lines[0].Name)

	out.Reset()
	require.NoError(t, execute(t, app, "cart", "clear", "--user", "u1"))
	assert.Contains(t, out.String(), "items: 0  total: 0.00")

	lines, err := app.container.Repositories.Carts().ListLines(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCartCommandRequiresUser(t *testing.T) {
	app, _ := newTestApp(t)

	require.Error(t, execute(t, app, "cart", "show"))
	require.ErrorIs(t, execute(t, app, "cart", "show", "--user", "  "), services.ErrAuthRequired)
}
