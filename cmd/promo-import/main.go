package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/discount"
	"github.com/xenking/qpay-checkout/internal/domain/promo"
	"github.com/xenking/qpay-checkout/internal/storage/postgres"
)

func main() {
	var (
		dataDir      string
		databaseURL  string
		discountType string
		value        string
		usageLimit   int
		expires      string
		capacity     uint
		fpr          float64
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip-compressed code lists (*.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountType, "discount-type", "percent", "discount type for imported codes: percent or fixed")
	flag.StringVar(&value, "value", "10", "discount value for imported codes")
	flag.IntVar(&usageLimit, "usage-limit", 1, "redemptions allowed per code; 0 is unlimited")
	flag.StringVar(&expires, "expires", "", "expiration date (RFC 3339) for imported codes")
	flag.UintVar(&capacity, "capacity", 10_000_000, "expected number of distinct codes, sizes the dedupe filter")
	flag.Float64Var(&fpr, "fpr", 1e-6, "dedupe filter false positive rate")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	template, err := codeTemplate(discountType, value, usageLimit, expires)
	if err != nil {
		slog.Error("invalid code template", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, template, capacity, fpr); err != nil {
		slog.Error("promo import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo import completed successfully")
}

// codeTemplate builds the rule every imported code receives.
func codeTemplate(discountType, value string, usageLimit int, expires string) (promo.Code, error) {
	typ, err := discount.ParseType(discountType)
	if err != nil {
		return promo.Code{}, err
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return promo.Code{}, errors.Wrap(err, "parse value")
	}
	c := promo.Code{
		Discount:   discount.Rule{Type: typ, Value: v},
		Applicable: discount.All(),
		Active:     true,
	}
	if usageLimit > 0 {
		c.UsageLimit = &usageLimit
	}
	if expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return promo.Code{}, errors.Wrap(err, "parse expires")
		}
		c.ExpiresAt = &t
	}
	probe := c
	probe.Code = "TEMPLATE"
	if err := probe.Validate(); err != nil {
		return promo.Code{}, err
	}
	return c, nil
}

func run(ctx context.Context, dataDir, databaseURL string, template promo.Code, capacity uint, fpr float64) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list input files")
	}
	if len(files) == 0 {
		return errors.Errorf("no .gz files in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewPromoRepository(pool)
	im := newImporter(repo, template, capacity, fpr)

	slog.Info("loading existing codes")
	if err := repo.ListCodes(ctx, func(code string) error {
		im.seen(code)
		return nil
	}); err != nil {
		return errors.Wrap(err, "load existing codes")
	}

	slog.Info("importing", slog.Int("files", len(files)))
	st, err := im.Import(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("import finished",
		slog.Uint64("read", st.Read),
		slog.Uint64("invalid", st.Invalid),
		slog.Uint64("duplicates", st.Duplicates),
		slog.Uint64("created", st.Created),
	)
	return nil
}
