// Command coupon-issue bulk-issues deterministic coupons to the recipients
// listed in gzip newline-delimited files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		couponSecret string
		outFile      string
		opts         options
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&couponSecret, "coupon-secret", "", "coupon code secret (or STOREFRONT_COUPON_SECRET env)")
	flag.StringVar(&opts.campaign, "campaign", "", "issue admin_bulk coupons owned by each recipient for this campaign instead of newsletter coupons")
	flag.StringVar(&outFile, "out", "", "write recipient<TAB>code pairs to this gzip file")
	flag.IntVar(&opts.concurrency, "concurrency", 8, "maximum concurrent issuances")
	flag.UintVar(&opts.capacity, "capacity", 10_000_000, "expected number of recipients, used to size the dedupe filter")
	flag.Float64Var(&opts.fpr, "fpr", 0.001, "dedupe filter false positive rate")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] list.gz [list.gz ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if couponSecret == "" {
		couponSecret = os.Getenv("STOREFRONT_COUPON_SECRET")
	}
	if couponSecret == "" {
		slog.Error("coupon secret is required: set --coupon-secret or STOREFRONT_COUPON_SECRET")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, []byte(couponSecret), outFile, flag.Args(), opts); err != nil {
		slog.Error("coupon issue failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, secret []byte, outFile string, files []string, opts options) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	ledger := coupon.NewLedger(postgres.NewCouponRepository(pool), secret)

	emit := func(string, string) error { return nil }
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return errors.Wrapf(err, "create %s", outFile)
		}
		defer func() { _ = f.Close() }()

		gz := pgzip.NewWriter(f)
		var mu sync.Mutex
		emit = func(recipient, code string) error {
			mu.Lock()
			defer mu.Unlock()
			_, err := fmt.Fprintf(gz, "%s\t%s\n", recipient, code)
			return err
		}
		defer func() {
			if err := gz.Close(); err != nil {
				slog.Error("close output", slog.String("error", err.Error()))
			}
		}()
	}

	st, err := issueAll(ctx, ledger, files, opts, emit)
	slog.Info("coupon issue finished",
		slog.Int64("issued", st.Issued),
		slog.Int64("duplicates", st.Duplicates),
		slog.Int64("invalid", st.Invalid),
	)
	return err
}
