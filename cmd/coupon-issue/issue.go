package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const progressEvery = 100_000

type options struct {
	// campaign switches issuance to admin_bulk coupons owned by the
	// recipient. Empty means newsletter coupons with no owner.
	campaign    string
	concurrency int
	capacity    uint
	fpr         float64
}

// issuer is the part of the coupon ledger the tool needs.
type issuer interface {
	Issue(ctx context.Context, reason coupon.Reason, subject, owner string) (*coupon.Coupon, bool, error)
	Issued(ctx context.Context, reason coupon.Reason, subject string) (bool, error)
}

type stats struct {
	Issued     int64
	Duplicates int64
	Invalid    int64
}

// issueAll streams every list and issues one coupon per recipient. Only
// coupons created by this run are counted as issued and passed to emit;
// recipients whose coupon already exists count as duplicates. emit must be
// safe for concurrent use.
//
// The bloom filter only decides which recipients need a lookup: a filter hit
// is confirmed against the ledger before being counted as a duplicate, so a
// false positive never drops a recipient.
func issueAll(ctx context.Context, ledger issuer, files []string, opts options, emit func(recipient, code string) error) (stats, error) {
	var issued, duplicates, invalid atomic.Int64
	seen := bloom.NewWithEstimates(max(opts.capacity, 1), opts.fpr)

	reason := coupon.ReasonNewsletter
	if opts.campaign != "" {
		reason = coupon.ReasonAdminBulk
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.concurrency, 1))

	issue := func(recipient string, maybeSeen bool) error {
		subject, owner := recipient, ""
		if opts.campaign != "" {
			subject, owner = coupon.CampaignSubject(opts.campaign, recipient), recipient
		}

		if maybeSeen {
			ok, err := ledger.Issued(gctx, reason, subject)
			if err != nil {
				return errors.Wrapf(err, "check %s", recipient)
			}
			if ok {
				duplicates.Add(1)
				return nil
			}
		}

		c, created, err := ledger.Issue(gctx, reason, subject, owner)
		if err != nil {
			return errors.Wrapf(err, "issue coupon for %s", recipient)
		}
		if !created {
			duplicates.Add(1)
			return nil
		}
		if n := issued.Add(1); n%progressEvery == 0 {
			slog.Info("issue progress", slog.Int64("issued", n))
		}
		return emit(recipient, c.Code)
	}

	var streamErr error
	for _, path := range files {
		streamErr = streamGzFile(gctx, path, func(line string) {
			recipient, ok := normalizeRecipient(line, opts.campaign != "")
			if !ok {
				if recipient != "" {
					invalid.Add(1)
				}
				return
			}
			maybeSeen := seen.TestAndAddString(recipient)
			g.Go(func() error { return issue(recipient, maybeSeen) })
		})
		if streamErr != nil {
			break
		}
		slog.Info("list processed", slog.String("file", path))
	}

	err := g.Wait()
	st := stats{Issued: issued.Load(), Duplicates: duplicates.Load(), Invalid: invalid.Load()}
	if err != nil {
		return st, err
	}
	return st, streamErr
}

// normalizeRecipient trims and lowercases a list line. Blank lines and
// '#' comments yield ("", false). Newsletter recipients must look like an
// email address; campaign recipients are account IDs and are taken verbatim
// apart from trimming.
func normalizeRecipient(line string, campaign bool) (string, bool) {
	r := strings.TrimSpace(line)
	if r == "" || strings.HasPrefix(r, "#") {
		return "", false
	}
	if campaign {
		return r, !strings.ContainsAny(r, " \t/")
	}
	r = strings.ToLower(r)
	at := strings.IndexByte(r, '@')
	if at <= 0 || at == len(r)-1 || strings.ContainsAny(r, " \t") {
		return r, false
	}
	return r, true
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
