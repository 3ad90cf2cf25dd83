package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Arpitray/commerce/internal/di"
	domain "github.com/Arpitray/commerce/internal/domain"
	"github.com/Arpitray/commerce/internal/platform/auth"
	"github.com/Arpitray/commerce/internal/platform/observability"
	"github.com/Arpitray/commerce/internal/services"
)

const sessionReadyTimeout = 30 * time.Second

// cliApp carries the lazily opened container shared by every subcommand.
type cliApp struct {
	out       io.Writer
	open      func(ctx context.Context) (*di.Container, error)
	container *di.Container

	jsonOutput bool
	verbose    bool
}

func (a *cliApp) deps(ctx context.Context) (*di.Container, error) {
	if a.container != nil {
		return a.container, nil
	}
	if a.open == nil {
		return nil, errors.New("no container configured")
	}
	c, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	a.container = c
	return c, nil
}

func (a *cliApp) close() {
	if a.container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.container.Close(ctx)
	a.container = nil
}

func newRootCommand(app *cliApp) *cobra.Command {
	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Inspect the catalogue and persisted carts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !app.verbose {
				return nil
			}
			logger, err := observability.NewLogger(observability.WithLevel("debug"), observability.WithConsoleOutput())
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(observability.WithLogger(cmd.Context(), logger.Named("cartctl")))
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "print JSON instead of tables")
	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newProductCommand(app),
		newCategoryCommand(app),
		newCartCommand(app),
	)
	return root
}

func newProductCommand(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "product <id>",
		Short: "Fetch and normalise one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.deps(cmd.Context())
			if err != nil {
				return err
			}
			product, err := c.Catalog.Product(cmd.Context(), domain.ProductID(strings.TrimSpace(args[0])))
			if err != nil {
				return err
			}
			return app.printProducts([]domain.Product{product})
		},
	}
}

func newCategoryCommand(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "category [slug]",
		Short: "List categories, or the products of one category",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.deps(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return app.printCategories(c.Categories.Categories())
			}
			_, products, err := c.Categories.Category(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.printProducts(products)
		},
	}
}

func newCartCommand(app *cliApp) *cobra.Command {
	var userID string
	cartCmd := &cobra.Command{
		Use:   "cart",
		Short: "Operate on a shopper's persisted cart",
	}
	cartCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "shopper user id")
	_ = cartCmd.MarkPersistentFlagRequired("user")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Hydrate and print the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withSession(cmd.Context(), userID, func(session *services.CartSession) error {
				return app.printCart(session.Snapshot())
			})
		},
	}

	var quantity int
	addCmd := &cobra.Command{
		Use:   "add <productId>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.deps(cmd.Context())
			if err != nil {
				return err
			}
			product, err := c.Catalog.Product(cmd.Context(), domain.ProductID(strings.TrimSpace(args[0])))
			if err != nil {
				return err
			}
			return app.withSession(cmd.Context(), userID, func(session *services.CartSession) error {
				if err := session.Add(cmd.Context(), product, quantity); err != nil {
					return err
				}
				return app.printCart(session.Snapshot())
			})
		},
	}
	addCmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "units to add")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every line from the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withSession(cmd.Context(), userID, func(session *services.CartSession) error {
				if err := session.Clear(cmd.Context()); err != nil {
					return err
				}
				return app.printCart(session.Snapshot())
			})
		},
	}

	cartCmd.AddCommand(showCmd, addCmd, clearCmd)
	return cartCmd
}

// withSession drives a fresh cart session through an in-process identity watcher, waits for it
// to hydrate and runs fn against it.
func (a *cliApp) withSession(ctx context.Context, userID string, fn func(*services.CartSession) error) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return services.ErrAuthRequired
	}
	c, err := a.deps(ctx)
	if err != nil {
		return err
	}
	session, err := services.NewCartSession(services.CartSessionDeps{
		Repository:           c.Repositories.Carts(),
		Products:             c.Catalog,
		Divergence:           c.Divergence,
		Logger:               observability.ServiceLogger(observability.FromContext(ctx)),
		HydrationConcurrency: c.Config.Catalog.HydrationConcurrency,
	})
	if err != nil {
		return err
	}

	watcher := auth.NewWatcher(nil)
	stop := session.Watch(ctx, watcher)
	defer stop()
	watcher.SignIn(auth.NewIdentity(userID, ""))

	if err := waitReady(ctx, session, userID); err != nil {
		return err
	}
	if session.Snapshot().HydrationFailed {
		fmt.Fprintln(a.out, "warning: remote cart could not be loaded; showing an empty cart")
	}
	return fn(session)
}

func waitReady(ctx context.Context, session *services.CartSession, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, sessionReadyTimeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if session.State() == services.SessionReady && session.UserID() == userID {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cart for %s did not load: %w", userID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *cliApp) printProducts(products []domain.Product) error {
	if a.jsonOutput {
		return a.printJSON(products)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tCATEGORY\tSTOCK")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%d\n", p.ID, p.Name, p.Price, p.Category, p.Stock)
	}
	return tw.Flush()
}

func (a *cliApp) printCategories(categories []domain.Category) error {
	if a.jsonOutput {
		return a.printJSON(categories)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tNAME\tSOURCES")
	for _, category := range categories {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", category.Slug, category.DisplayName, strings.Join(category.Sources, ","))
	}
	return tw.Flush()
}

func (a *cliApp) printCart(snapshot services.CartSnapshot) error {
	if a.jsonOutput {
		return a.printJSON(snapshot)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tNAME\tQTY\tPRICE\tSUBTOTAL\tSYNC")
	for _, line := range snapshot.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%.2f\t%s\n", line.ProductID, line.Name, line.Quantity, line.Price, line.Subtotal(), line.Sync)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(a.out, "items: %d  total: %.2f\n", snapshot.Summary.TotalItems, snapshot.Summary.TotalPrice)
	return err
}

func (a *cliApp) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
