package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/auth"
	"github.com/xenking/qpay-checkout/internal/domain/discount"
	"github.com/xenking/qpay-checkout/internal/domain/product"
	"github.com/xenking/qpay-checkout/internal/domain/promo"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
	"github.com/xenking/qpay-checkout/internal/storage/postgres"
)

type category struct {
	ID   string
	Name string
}

var categories = []category{
	{ID: "cars", Name: "RC Cars"},
	{ID: "parts", Name: "Spare Parts"},
	{ID: "kits", Name: "Starter Kits"},
}

var products = []product.Product{
	{ID: "rc-buggy-1", Name: "Desert Buggy 1:10", Price: decimal.NewFromInt(459000), CategoryIDs: []string{"cars"}},
	{ID: "rc-drift-2", Name: "Drift Coupe 1:16", Price: decimal.NewFromInt(289000), CategoryIDs: []string{"cars"}},
	{ID: "battery-3s", Name: "LiPo Battery 3S 5000mAh", Price: decimal.NewFromInt(125000), CategoryIDs: []string{"parts"}},
	{ID: "tyres-offroad", Name: "Off-road Tyre Set", Price: decimal.NewFromInt(64000), CategoryIDs: []string{"parts"}},
	{ID: "kit-beginner", Name: "Beginner Kit", Price: decimal.NewFromInt(599000), CategoryIDs: []string{"kits", "cars"}},
}

func main() {
	var (
		databaseURL  string
		adminKey     string
		apiKeyPepper string
	)

	_ = godotenv.Load()

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or SHOP_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("SHOP_SEED_ADMIN_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, adminKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, adminKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	err = postgres.NewTransactor(pool).InTx(ctx, func(ctx context.Context) error {
		if err := seedCatalog(ctx, postgres.NewProductRepository(pool)); err != nil {
			return errors.Wrap(err, "seed catalog")
		}
		if err := seedSales(ctx, postgres.NewSaleRepository(pool)); err != nil {
			return errors.Wrap(err, "seed sales")
		}
		if err := seedPromoCodes(ctx, postgres.NewPromoRepository(pool)); err != nil {
			return errors.Wrap(err, "seed promo codes")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if adminKey == "" {
		slog.Warn("no admin key given, skipping API key seed")
		return nil
	}
	a := auth.NewAuthenticator(postgres.NewAPIKeyRepository(pool), []byte(pepper))
	k, err := a.Register(ctx, "Seeded admin key", adminKey, auth.ScopeAdmin)
	if err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("upserted API key", slog.String("id", k.ID), slog.String("name", k.Name))

	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.ProductRepository) error {
	for _, c := range categories {
		if err := repo.UpsertCategory(ctx, c.ID, c.Name); err != nil {
			return err
		}
	}
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

// seedSales only inserts when no sale is currently active, so reruns do not
// stack duplicate sales.
func seedSales(ctx context.Context, repo *postgres.SaleRepository) error {
	active, err := repo.ListActive(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(active) > 0 {
		slog.Info("active sales present, skipping", slog.Int("count", len(active)))
		return nil
	}

	sales := []sale.Sale{
		{
			Title:     "Spring parts sale",
			BadgeText: "-15%",
			Target:    discount.ForCategory("parts"),
			Discount:  discount.Rule{Type: discount.Percentage, Value: decimal.NewFromInt(15)},
			Enabled:   true,
			Priority:  10,
		},
		{
			Title:     "Buggy launch",
			BadgeText: "-50 000₮",
			Target:    discount.ForProduct("rc-buggy-1"),
			Discount:  discount.Rule{Type: discount.Fixed, Value: decimal.NewFromInt(50000)},
			Enabled:   true,
			Priority:  20,
		},
	}
	for i := range sales {
		if err := repo.Create(ctx, &sales[i]); err != nil {
			return err
		}
		slog.Info("created sale", slog.String("id", sales[i].ID), slog.String("title", sales[i].Title))
	}
	return nil
}

func seedPromoCodes(ctx context.Context, repo *postgres.PromoRepository) error {
	limit := 100
	codes := []promo.Code{
		{
			Code:        "WELCOME10",
			Description: "10% off your first order",
			Discount:    discount.Rule{Type: discount.Percentage, Value: decimal.NewFromInt(10)},
			Applicable:  discount.All(),
			UsageLimit:  &limit,
			Active:      true,
		},
		{
			Code:        "KITS20K",
			Description: "20 000₮ off starter kits over 500 000₮",
			Discount:    discount.Rule{Type: discount.Fixed, Value: decimal.NewFromInt(20000)},
			Applicable:  discount.ForCategory("kits"),
			MinPurchase: decimal.NewNullDecimal(decimal.NewFromInt(500000)),
			Active:      true,
		},
	}
	for i := range codes {
		err := repo.Create(ctx, &codes[i])
		switch {
		case errors.Is(err, promo.ErrDuplicateCode):
			slog.Info("promo code exists", slog.String("code", codes[i].Code))
		case err != nil:
			return err
		default:
			slog.Info("created promo code", slog.String("code", codes[i].Code))
		}
	}
	return nil
}
