package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-cart/internal/domain/product"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

func tokens(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Token
	}
	return out
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantOK    bool
		wantErr   bool
		wantToken string
		wantCat   product.Category
		wantPct   string
	}{
		{name: "valid", line: "HAPPYHRS,pastry,20", wantOK: true, wantToken: "HAPPYHRS", wantCat: "PASTRY", wantPct: "20"},
		{name: "spaces", line: "  FIFTYOFF , panna-cotta , 50.5 ", wantOK: true, wantToken: "FIFTYOFF", wantCat: "PANNA_COTTA", wantPct: "50.5"},
		{name: "blank", line: "   "},
		{name: "comment", line: "# token,category,percent"},
		{name: "missing field", line: "HAPPYHRS,pastry", wantErr: true},
		{name: "empty token", line: ",pastry,10", wantErr: true},
		{name: "bad category", line: "X,pa$try,10", wantErr: true},
		{name: "bad percent", line: "X,pastry,ten", wantErr: true},
		{name: "percent out of range", line: "X,pastry,120", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, c, ok, err := ParseLine(tt.line)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantCat, c.Category)
			assert.True(t, decimal.RequireFromString(tt.wantPct).Equal(c.Percent))
		})
	}
}

func TestRun_Quorum(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "couponbase1.gz",
			"# header",
			"HAPPYHRS,pastry,20",
			"ONLYONE1,cake,10",
			"CONFLICT,cake,10",
			"TRIPLE01,waffle,5",
		),
		writeGz(t, dir, "couponbase2.gz",
			"HAPPYHRS,PASTRY,20.00",
			"CONFLICT,cake,15",
			"TRIPLE01,waffle,5",
			"not,a,coupon,line",
		),
		writeGz(t, dir, "couponbase3.gz",
			"TRIPLE01,waffle,5",
			"ONLYTHREE,pie,10",
		),
	}

	entries, stats, err := Run(context.Background(), files, Config{Capacity: 1000, Version: "7"})
	require.NoError(t, err)

	assert.Equal(t, []string{"HAPPYHRS", "TRIPLE01"}, tokens(entries))
	assert.Equal(t, product.Category("PASTRY"), entries[0].Coupon.Category)
	assert.True(t, decimal.NewFromInt(20).Equal(entries[0].Coupon.Percent))
	assert.Equal(t, "7", entries[0].Coupon.Version)

	assert.Equal(t, uint64(9), stats.Lines)
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 2, stats.Accepted)
}

func TestRun_QuorumOfThree(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "AAA,cake,10", "BBB,cake,10"),
		writeGz(t, dir, "b.gz", "AAA,cake,10", "BBB,cake,10"),
		writeGz(t, dir, "c.gz", "AAA,cake,10"),
	}
	entries, _, err := Run(context.Background(), files, Config{Quorum: 3, Capacity: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, tokens(entries))
	assert.Equal(t, "1", entries[0].Coupon.Version)
}

func TestRun_RepeatsInOneFileDoNotCount(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "AAA,cake,10", "AAA,cake,10", "AAA,cake,10"),
		writeGz(t, dir, "b.gz", "BBB,cake,10"),
	}
	entries, _, err := Run(context.Background(), files, Config{Capacity: 100})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	good := writeGz(t, dir, "a.gz", "AAA,cake,10")
	notGzip := filepath.Join(dir, "plain.gz")
	require.NoError(t, os.WriteFile(notGzip, []byte("AAA,cake,10\n"), 0o600))

	tests := []struct {
		name  string
		files []string
		cfg   Config
	}{
		{name: "no files"},
		{name: "quorum above files", files: []string{good}, cfg: Config{Quorum: 2}},
		{name: "missing file", files: []string{good, filepath.Join(dir, "missing.gz")}},
		{name: "not gzip", files: []string{good, notGzip}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Run(context.Background(), tt.files, tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "AAA,cake,10"),
		writeGz(t, dir, "b.gz", "AAA,cake,10"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Run(ctx, files, Config{Capacity: 100})
	require.ErrorIs(t, err, context.Canceled)
}
