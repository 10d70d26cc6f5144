package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/memory"
)

var testSecret = []byte("issue-secret")

func writeList(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

type collector struct {
	mu    sync.Mutex
	codes map[string]string
	lines int
}

func newCollector() *collector { return &collector{codes: map[string]string{}} }

func (c *collector) emit(recipient, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[recipient] = code
	c.lines++
	return nil
}

func TestIssueAll_Newsletter(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCouponRepository()
	ledger := coupon.NewLedger(repo, testSecret)

	a := writeList(t, "a.gz", "Ann@Example.com", "bob@example.com", "", "# header", "not-an-email")
	b := writeList(t, "b.gz", "  ann@example.com ", "carol@example.com")
	opts := options{concurrency: 1, capacity: 100, fpr: 0.01}

	out := newCollector()
	st, err := issueAll(ctx, ledger, []string{a, b}, opts, out.emit)
	require.NoError(t, err)
	assert.Equal(t, stats{Issued: 3, Duplicates: 1, Invalid: 1}, st)
	assert.Equal(t, 3, out.lines)

	for _, r := range []string{"ann@example.com", "bob@example.com", "carol@example.com"} {
		want := coupon.DeterministicCode(testSecret, coupon.ReasonNewsletter, r)
		assert.Equal(t, want, out.codes[r], r)

		c, err := repo.FindByCode(ctx, want)
		require.NoError(t, err)
		assert.Equal(t, coupon.ReasonNewsletter, c.Reason)
		assert.Empty(t, c.OwnerUserID)
	}

	t.Run("RerunIsIdempotent", func(t *testing.T) {
		again := newCollector()
		st, err := issueAll(ctx, ledger, []string{a, b}, opts, again.emit)
		require.NoError(t, err)
		assert.Equal(t, stats{Issued: 0, Duplicates: 4, Invalid: 1}, st)
		assert.Zero(t, again.lines)

		for r, code := range out.codes {
			ok, err := ledger.Issued(ctx, coupon.ReasonNewsletter, r)
			require.NoError(t, err)
			assert.True(t, ok, code)
		}
	})
}

func TestIssueAll_Campaign(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCouponRepository()
	ledger := coupon.NewLedger(repo, testSecret)

	list := writeList(t, "users.gz", "user-1", "user-2", "user-1", "bad/id")
	out := newCollector()
	st, err := issueAll(ctx, ledger, []string{list}, options{campaign: "spring", concurrency: 1, capacity: 10, fpr: 0.01}, out.emit)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Issued)
	assert.Equal(t, int64(1), st.Invalid)

	code := coupon.DeterministicCode(testSecret, coupon.ReasonAdminBulk, coupon.CampaignSubject("spring", "user-1"))
	assert.Equal(t, code, out.codes["user-1"])
	c, err := repo.FindByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.OwnerUserID)
	assert.Equal(t, coupon.ReasonAdminBulk, c.Reason)
}

func TestIssueAll_Concurrent(t *testing.T) {
	ctx := context.Background()
	ledger := coupon.NewLedger(memory.NewCouponRepository(), testSecret)

	lines := make([]string, 200)
	for i := range lines {
		lines[i] = fmt.Sprintf("user%03d@example.com", i)
	}
	list := writeList(t, "big.gz", lines...)

	out := newCollector()
	st, err := issueAll(ctx, ledger, []string{list}, options{concurrency: 8, capacity: 1000, fpr: 0.001}, out.emit)
	require.NoError(t, err)
	assert.Equal(t, int64(200), st.Issued)
	assert.Len(t, out.codes, 200)
}

func TestIssueAll_RepeatedRecipientConcurrent(t *testing.T) {
	ctx := context.Background()
	ledger := coupon.NewLedger(memory.NewCouponRepository(), testSecret)

	lines := make([]string, 50)
	for i := range lines {
		lines[i] = "same@example.com"
	}
	list := writeList(t, "repeat.gz", lines...)

	out := newCollector()
	st, err := issueAll(ctx, ledger, []string{list}, options{concurrency: 8, capacity: 100, fpr: 0.01}, out.emit)
	require.NoError(t, err)
	assert.Equal(t, stats{Issued: 1, Duplicates: 49}, st)
	assert.Equal(t, 1, out.lines)
}

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, coupon.Reason, string, string) (*coupon.Coupon, bool, error) {
	return nil, false, assert.AnError
}

func (failingIssuer) Issued(context.Context, coupon.Reason, string) (bool, error) {
	return false, nil
}

func TestIssueAll_Errors(t *testing.T) {
	ctx := context.Background()
	opts := options{concurrency: 1, capacity: 10, fpr: 0.01}

	_, err := issueAll(ctx, failingIssuer{}, []string{writeList(t, "a.gz", "ann@example.com")}, opts, newCollector().emit)
	require.ErrorIs(t, err, assert.AnError)

	ledger := coupon.NewLedger(memory.NewCouponRepository(), testSecret)
	_, err = issueAll(ctx, ledger, []string{filepath.Join(t.TempDir(), "missing.gz")}, opts, newCollector().emit)
	require.Error(t, err)
}

func TestNormalizeRecipient(t *testing.T) {
	tests := []struct {
		line     string
		campaign bool
		want     string
		ok       bool
	}{
		{line: " Ann@Example.COM ", want: "ann@example.com", ok: true},
		{line: "", want: "", ok: false},
		{line: "# comment", want: "", ok: false},
		{line: "@example.com", want: "@example.com", ok: false},
		{line: "ann@", want: "ann@", ok: false},
		{line: "ann smith@example.com", want: "ann smith@example.com", ok: false},
		{line: "User-7", campaign: true, want: "User-7", ok: true},
		{line: "a/b", campaign: true, want: "a/b", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := normalizeRecipient(tt.line, tt.campaign)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
