package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartkart/kart/internal/catalog"
	"github.com/smartkart/kart/internal/ledger"
)

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	Database string
	Catalog  string
	Recent   int
}

// NewLedgerCommand creates the ledger command: inspect a persisted
// session database by replaying its transactions.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect a persisted session ledger",
		Long: `Replay the transactions persisted in a session database and print
the reconstructed cart contents. Prices are re-resolved from the
catalog, since the ledger stores weights and quantities only.

Example:
  kart ledger --db ./cart.db --recent 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectLedger(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to ledger SQLite database (required)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to product catalog YAML")
	cmd.Flags().IntVar(&opts.Recent, "recent", 0, "also print the N most recent transactions")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func inspectLedger(cmd *cobra.Command, opts *LedgerOptions) error {
	store, err := ledger.OpenStore(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger database", err)
	}
	defer store.Close()

	cat := catalog.Builtin()
	if opts.Catalog != "" {
		cat, err = catalog.Load(opts.Catalog)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load catalog", err)
		}
	}

	ctx := context.Background()
	txns, err := store.ReadAll(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transactions", err)
	}

	// Replay with the catalog in hand so monetary totals come back too,
	// which a bare Rebuild cannot recover.
	led := ledger.New(nil)
	for _, txn := range txns {
		var price float64
		var name string
		if p, ok := cat.Lookup(txn.ProductID); ok {
			price = p.Price
			name = p.Name
		}
		if err := led.Apply(ctx, txn, price, name); err != nil {
			return WrapExitError(ExitCommandError, "failed to replay transaction", err)
		}
	}

	out := cmd.OutOrStdout()
	summary := led.Summarize()

	fmt.Fprintf(out, "transactions: %d\n", len(txns))
	fmt.Fprintf(out, "items:        %d\n", summary.Items)
	fmt.Fprintf(out, "weight:       %.1f g\n", summary.TotalWeight)
	fmt.Fprintf(out, "total:        $%.2f\n", summary.TotalPrice)
	if len(summary.Products) > 0 {
		fmt.Fprintf(out, "products:     %s\n", strings.Join(summary.Products, ", "))
	}

	if opts.Recent > 0 {
		fmt.Fprintln(out)
		for _, txn := range led.Recent(opts.Recent) {
			product := txn.ProductID
			if product == "" {
				product = "-"
			}
			fmt.Fprintf(out, "%s  seq=%d  %-8s %-18s %+.1fg  %s\n",
				txn.At.UTC().Format(time.RFC3339), txn.Seq, txn.Direction, txn.Quality,
				txn.ObservedDelta, product)
		}
	}

	return nil
}
