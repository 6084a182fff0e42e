package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

type seedFile struct {
	Products   []productJSON `json:"products"`
	PromoCodes []promoJSON   `json:"promo_codes"`
}

type productJSON struct {
	SellerID string          `json:"seller_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Category string          `json:"category"`
	Status   product.Status  `json:"status"`
}

type promoJSON struct {
	Code           string             `json:"code"`
	DiscountType   promo.DiscountType `json:"discount_type"`
	Value          decimal.Decimal    `json:"value"`
	MinOrderAmount decimal.Decimal    `json:"min_order_amount"`
	MaxUses        int                `json:"max_uses"`
	ValidFrom      time.Time          `json:"valid_from"`
	ValidUntil     time.Time          `json:"valid_until"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "file", "db/seed/marketplace.json", "path to the seed JSON file")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	store := postgres.New(pool)

	if err := seedProducts(ctx, lg, store, seed.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPromos(ctx, lg, promo.NewService(store), seed.PromoCodes); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}
	return nil
}

// seedProducts inserts the catalog unless it already has products.
func seedProducts(ctx context.Context, lg *zap.Logger, store *postgres.Store, products []productJSON) error {
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		lg.Info("Catalog is not empty, skipping products", zap.Int("existing", len(existing)))
		return nil
	}

	for _, p := range products {
		if !p.Status.Valid() {
			return errors.Errorf("product %q: unknown status %q", p.Name, p.Status)
		}
		added, err := store.AddProduct(ctx, product.Product{
			SellerID: p.SellerID,
			Name:     p.Name,
			Price:    p.Price,
			Stock:    p.Stock,
			Category: p.Category,
			Status:   p.Status,
		})
		if err != nil {
			return err
		}
		lg.Info("Added product", zap.Int64("id", added.ID), zap.String("name", added.Name))
	}
	return nil
}

// seedPromos creates promo codes, leaving existing codes untouched.
func seedPromos(ctx context.Context, lg *zap.Logger, svc *promo.Service, codes []promoJSON) error {
	admin := auth.Identity{UserID: "seed-db", Role: auth.RoleAdmin}
	for _, c := range codes {
		rule, err := svc.Create(ctx, admin, promo.CreateRequest{
			Code:           c.Code,
			DiscountType:   c.DiscountType,
			Value:          c.Value,
			MinOrderAmount: c.MinOrderAmount,
			MaxUses:        c.MaxUses,
			ValidFrom:      c.ValidFrom,
			ValidUntil:     c.ValidUntil,
		})
		switch {
		case errors.Is(err, promo.ErrConflict):
			lg.Info("Promo code exists, skipping", zap.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "promo code %q", c.Code)
		default:
			lg.Info("Added promo code", zap.String("code", rule.Code), zap.String("type", string(rule.DiscountType)))
		}
	}
	return nil
}
