package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"time"
	_ "time/tzdata"

	"github.com/go-faster/errors"
	"github.com/olekukonko/tablewriter"

	"github.com/xenking/qpay-checkout/internal/domain/ledger"
	"github.com/xenking/qpay-checkout/internal/storage/postgres"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		databaseURL string
		from        string
		to          string
		orderID     string
		timezone    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&from, "from", "", "first day to include (YYYY-MM-DD)")
	flag.StringVar(&to, "to", "", "last day to include (YYYY-MM-DD)")
	flag.StringVar(&orderID, "order", "", "only entries for this order")
	flag.StringVar(&timezone, "timezone", "Asia/Ulaanbaatar", "business timezone for day bounds and printed dates")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		slog.Error("invalid timezone", slog.String("timezone", timezone), slog.String("error", err.Error()))
		os.Exit(1)
	}

	f, err := parseFilter(from, to, orderID, loc)
	if err != nil {
		slog.Error("invalid filter", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, f, loc); err != nil {
		slog.Error("ledger report failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// parseFilter turns inclusive day bounds in loc into the half-open range
// the repository expects.
func parseFilter(from, to, orderID string, loc *time.Location) (ledger.Filter, error) {
	f := ledger.Filter{OrderID: orderID}
	if from != "" {
		t, err := time.ParseInLocation(dateLayout, from, loc)
		if err != nil {
			return f, errors.Wrap(err, "parse from")
		}
		f.From = t
	}
	if to != "" {
		t, err := time.ParseInLocation(dateLayout, to, loc)
		if err != nil {
			return f, errors.Wrap(err, "parse to")
		}
		f.To = t.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, errors.New("from must not be after to")
	}
	return f, nil
}

func run(ctx context.Context, databaseURL string, f ledger.Filter, loc *time.Location) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	entries, err := postgres.NewLedgerRepository(pool).List(ctx, f)
	if err != nil {
		return errors.Wrap(err, "list ledger entries")
	}
	slog.Info("ledger entries loaded", slog.Int("count", len(entries)))

	return render(os.Stdout, entries, loc)
}

// render writes one row per entry, dated in loc, followed by per-type
// totals.
func render(w io.Writer, entries []ledger.Entry, loc *time.Location) error {
	table := tablewriter.NewWriter(w)
	table.Header("Date", "Order", "Type", "Status", "Amount", "Discount", "Method", "Reference")
	for _, e := range entries {
		if err := table.Append(
			e.CreatedAt.In(loc).Format(time.DateTime),
			e.OrderID,
			string(e.Type),
			string(e.Status),
			e.Amount.StringFixed(2)+" "+e.Currency,
			e.DiscountAmount.StringFixed(2),
			e.PaymentMethod,
			e.ExternalReference,
		); err != nil {
			return errors.Wrap(err, "append row")
		}
	}
	if err := table.Render(); err != nil {
		return errors.Wrap(err, "render entries")
	}

	totals := ledger.Totals(entries)
	types := make([]string, 0, len(totals))
	for t := range totals {
		types = append(types, string(t))
	}
	slices.Sort(types)

	sum := tablewriter.NewWriter(w)
	sum.Header("Type", "Total")
	for _, t := range types {
		if err := sum.Append(t, totals[ledger.Type(t)].StringFixed(2)); err != nil {
			return errors.Wrap(err, "append total")
		}
	}
	if err := sum.Render(); err != nil {
		return errors.Wrap(err, "render totals")
	}
	return nil
}
