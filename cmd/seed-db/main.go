package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		adminKey     string
		apiKeyPepper string
		couponSecret string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to a products JSON file; the demo catalog is used when empty")
	flag.StringVar(&apiKey, "api-key", "", "store API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or STOREFRONT_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.StringVar(&couponSecret, "coupon-secret", "", "coupon code secret (or STOREFRONT_COUPON_SECRET env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STOREFRONT_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STOREFRONT_SEED_API_KEY")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("STOREFRONT_SEED_ADMIN_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STOREFRONT_API_KEY_PEPPER")
	}
	if couponSecret == "" {
		couponSecret = os.Getenv("STOREFRONT_COUPON_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	keys := []auth.APIKeyInfo{{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(apiKeyPepper), apiKey),
		Name:    "Default storefront key",
		Scopes:  []string{auth.ScopeStore},
	}}
	if adminKey != "" {
		keys = append(keys, auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: auth.HashKey([]byte(apiKeyPepper), adminKey),
			Name:    "Back-office key",
			Scopes:  []string{auth.ScopeAdmin},
		})
	}

	if err := run(ctx, databaseURL, productsFile, couponSecret, keys); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, couponSecret string, keys []auth.APIKeyInfo) error {
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

	products := demoProducts()
	if productsFile != "" {
		if products, err = readProducts(productsFile); err != nil {
			return errors.Wrap(err, "read products")
		}
	}
	if err := seedProducts(ctx, postgres.NewProductRepository(pool), products); err != nil {
		return errors.Wrap(err, "seed products")
	}

	ledger := coupon.NewLedger(postgres.NewCouponRepository(pool), []byte(couponSecret))
	if err := seedCoupons(ctx, ledger); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	apikeys := postgres.NewAPIKeyRepository(pool)
	for _, k := range keys {
		if err := apikeys.Upsert(ctx, k); err != nil {
			return errors.Wrap(err, "seed api key")
		}
		slog.Info("upserted API key", slog.String("id", k.ID), slog.String("name", k.Name))
	}
	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, products []product.Product) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name), slog.Int("sizes", len(p.Sizes)))
	}
	return nil
}

func seedCoupons(ctx context.Context, ledger *coupon.Ledger) error {
	slog.Info("seeding demo coupons")

	coupons := []struct {
		code string
		rule coupon.Rule
	}{
		{
			code: "WELCOME10",
			rule: coupon.Rule{
				DiscountType:  coupon.DiscountPercentage,
				DiscountValue: decimal.NewFromInt(10),
				MaxUses:       1000,
				Description:   "10% off any order",
				Reason:        coupon.ReasonManual,
			},
		},
		{
			code: "FLAT200",
			rule: coupon.Rule{
				DiscountType:  coupon.DiscountFixed,
				DiscountValue: decimal.NewFromInt(200),
				MinOrderValue: decimal.NewFromInt(1500),
				MaxUses:       100,
				Description:   "200 off orders of 1500 or more",
				Reason:        coupon.ReasonManual,
			},
		},
	}

	for _, c := range coupons {
		stored, created, err := ledger.IssueIfAbsent(ctx, c.code, c.rule)
		if err != nil {
			return errors.Wrapf(err, "issue coupon %s", c.code)
		}
		slog.Info("seeded coupon",
			slog.String("code", stored.Code),
			slog.Bool("created", created),
			slog.Int("uses", stored.Uses),
		)
	}
	return nil
}

func money(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

func demoProducts() []product.Product {
	return []product.Product{
		{
			ID: "tee-basic", Name: "Basic Tee", Category: "tops", Price: money(450),
			Sizes: []product.Size{{ID: "s", Label: "S"}, {ID: "m", Label: "M"}, {ID: "xxl", Label: "XXL", Price: money(500)}},
		},
		{
			ID: "hoodie", Name: "Zip Hoodie", Category: "tops", Price: money(1200),
			Sizes: []product.Size{{ID: "m", Label: "M"}, {ID: "l", Label: "L"}},
		},
		{ID: "sneakers", Name: "Court Sneakers", Category: "shoes", Price: money(2100)},
		{ID: "socks", Name: "Crew Socks (3 pack)", Category: "accessories", Price: money(150)},
		{ID: "preorder-jacket", Name: "Rain Jacket (pre-order)", Category: "outerwear"},
	}
}

// readProducts parses a JSON array of products:
// [{"id","name","category","price","sizes":[{"id","label","price"}]}].
// Prices may be numbers or strings; a missing price leaves the product
// unpriced.
func readProducts(path string) ([]product.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var products []product.Product
	err = jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p product.Product
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "category":
				p.Category, err = d.Str()
			case "price":
				p.Price, err = readPrice(d)
			case "sizes":
				err = d.Arr(func(d *jx.Decoder) error {
					var s product.Size
					err := d.Obj(func(d *jx.Decoder, key string) error {
						var err error
						switch key {
						case "id":
							s.ID, err = d.Str()
						case "label":
							s.Label, err = d.Str()
						case "price":
							s.Price, err = readPrice(d)
						default:
							err = d.Skip()
						}
						return err
					})
					p.Sizes = append(p.Sizes, s)
					return err
				})
			default:
				err = d.Skip()
			}
			return err
		})
		if err == nil && p.ID == "" {
			err = errors.New("product without id")
		}
		products = append(products, p)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return products, nil
}

func readPrice(d *jx.Decoder) (decimal.NullDecimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return decimal.NullDecimal{}, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = string(n)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}
