// Package ingest builds the coupon catalog from published token files.
//
// Each file is a gzip stream of "token,category,percent" lines. A token is
// accepted when at least Quorum files publish it with the same definition.
// Files are scanned twice: pass 1 builds a bloom filter per file, pass 2
// keeps only tokens that other filters may contain and confirms them
// against the real per-file occurrences.
package ingest

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-cart/internal/domain/coupon"
	"github.com/xenking/oolio-cart/internal/domain/product"
)

const maxFiles = 64

// ErrMalformed is returned by ParseLine for lines that are not coupons.
var ErrMalformed = errors.New("malformed coupon line")

// Config controls an ingest run.
type Config struct {
	// Quorum is the number of files that must publish a token.
	Quorum int
	// Capacity is the expected number of tokens per file.
	Capacity uint
	// FalsePositiveRate of each bloom filter.
	FalsePositiveRate float64
	// Version is stamped on every accepted coupon.
	Version string
	// ProgressEvery logs scan progress every N lines. Zero disables it.
	ProgressEvery uint64
	Logger        *zap.Logger
}

func (c *Config) setDefaults() {
	if c.Quorum <= 0 {
		c.Quorum = 2
	}
	if c.Capacity == 0 {
		c.Capacity = 1_000_000
	}
	if c.FalsePositiveRate <= 0 {
		c.FalsePositiveRate = 0.001
	}
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Entry is an accepted catalog coupon.
type Entry struct {
	Token  string
	Coupon coupon.Coupon
}

// Stats summarizes a run.
type Stats struct {
	Lines      uint64
	Malformed  uint64
	Candidates int
	Accepted   int
	Conflicts  int
}

// ParseLine parses "token,category,percent". Blank lines and lines starting
// with '#' are reported as ok=false without an error.
func ParseLine(line string) (token string, c coupon.Coupon, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", coupon.Coupon{}, false, nil
	}
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return "", coupon.Coupon{}, false, errors.Wrapf(ErrMalformed, "%d fields", len(parts))
	}
	token = strings.TrimSpace(parts[0])
	if token == "" {
		return "", coupon.Coupon{}, false, errors.Wrap(ErrMalformed, "empty token")
	}
	if c.Category, err = product.ParseCategory(parts[1]); err != nil {
		return "", coupon.Coupon{}, false, errors.Wrap(ErrMalformed, err.Error())
	}
	if c.Percent, err = decimal.NewFromString(strings.TrimSpace(parts[2])); err != nil {
		return "", coupon.Coupon{}, false, errors.Wrap(ErrMalformed, "percent")
	}
	if err := c.Validate(); err != nil {
		return "", coupon.Coupon{}, false, errors.Wrap(ErrMalformed, err.Error())
	}
	return token, c, true, nil
}

// candidate is a token seen by pass 2 in one or more files.
type candidate struct {
	coupon   coupon.Coupon
	files    uint64
	conflict bool
}

func (c *candidate) merge(other candidate) {
	c.files |= other.files
	if c.conflict || other.conflict || !sameDefinition(c.coupon, other.coupon) {
		c.conflict = true
	}
}

func sameDefinition(a, b coupon.Coupon) bool {
	return a.Category == b.Category && a.Percent.Equal(b.Percent)
}

// Run scans files and returns the accepted entries sorted by token.
func Run(ctx context.Context, files []string, cfg Config) ([]Entry, Stats, error) {
	cfg.setDefaults()
	var stats Stats
	switch {
	case len(files) == 0:
		return nil, stats, errors.New("no input files")
	case len(files) > maxFiles:
		return nil, stats, errors.Errorf("at most %d files are supported, got %d", maxFiles, len(files))
	case cfg.Quorum > len(files):
		return nil, stats, errors.Errorf("quorum %d exceeds %d files", cfg.Quorum, len(files))
	}

	cfg.Logger.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildFilters(ctx, files, cfg)
	if err != nil {
		return nil, stats, errors.Wrap(err, "build bloom filters")
	}

	cfg.Logger.Info("Pass 2: finding candidates", zap.Int("quorum", cfg.Quorum))
	perFile := make([]map[string]candidate, len(files))
	fileStats := make([]Stats, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found, st, err := scanCandidates(gctx, i, path, filters, cfg)
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			perFile[i], fileStats[i] = found, st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	merged := make(map[string]candidate)
	for i, found := range perFile {
		stats.Lines += fileStats[i].Lines
		stats.Malformed += fileStats[i].Malformed
		for token, c := range found {
			if prev, ok := merged[token]; ok {
				prev.merge(c)
				merged[token] = prev
				continue
			}
			merged[token] = c
		}
	}
	stats.Candidates = len(merged)

	var entries []Entry
	for token, c := range merged {
		if bits.OnesCount64(c.files) < cfg.Quorum {
			continue
		}
		if c.conflict {
			stats.Conflicts++
			cfg.Logger.Warn("Conflicting coupon definitions", zap.String("token", token))
			continue
		}
		c.coupon.Version = cfg.Version
		entries = append(entries, Entry{Token: token, Coupon: c.coupon})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Token, b.Token) })
	stats.Accepted = len(entries)

	cfg.Logger.Info("Ingest complete",
		zap.Uint64("lines", stats.Lines),
		zap.Uint64("malformed", stats.Malformed),
		zap.Int("candidates", stats.Candidates),
		zap.Int("accepted", stats.Accepted),
		zap.Int("conflicts", stats.Conflicts),
	)
	return entries, stats, nil
}

func buildFilters(ctx context.Context, files []string, cfg Config) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(cfg.Capacity, cfg.FalsePositiveRate)
			var count uint64
			err := streamFile(ctx, path, func(line string) {
				token, _, ok, err := ParseLine(line)
				if err != nil || !ok {
					return
				}
				filter.AddString(token)
				count++
				if cfg.ProgressEvery > 0 && count%cfg.ProgressEvery == 0 {
					cfg.Logger.Info("Pass 1 progress", zap.Int("file", i+1), zap.Uint64("tokens", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}
			cfg.Logger.Info("Pass 1 file done", zap.Int("file", i+1), zap.Uint64("tokens", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// scanCandidates keeps tokens of file idx that at least quorum-1 other
// filters may contain.
func scanCandidates(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	cfg Config,
) (map[string]candidate, Stats, error) {
	var (
		found = make(map[string]candidate)
		st    Stats
		bit   = uint64(1) << uint(idx)
	)
	err := streamFile(ctx, path, func(line string) {
		token, c, ok, err := ParseLine(line)
		if err != nil {
			st.Malformed++
			return
		}
		if !ok {
			return
		}
		st.Lines++
		if cfg.ProgressEvery > 0 && st.Lines%cfg.ProgressEvery == 0 {
			cfg.Logger.Info("Pass 2 progress", zap.Int("file", idx+1), zap.Uint64("tokens", st.Lines))
		}

		hits := 1
		for j, f := range filters {
			if j != idx && f.TestString(token) {
				hits++
			}
		}
		if hits < cfg.Quorum {
			return
		}
		next := candidate{coupon: c, files: bit}
		if prev, ok := found[token]; ok {
			prev.merge(next)
			found[token] = prev
			return
		}
		found[token] = next
	})
	if err != nil {
		return nil, st, err
	}
	return found, st, nil
}

// streamFile calls fn for each line of a gzip-compressed file.
func streamFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
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
		return errors.Wrap(err, "scan")
	}
	return nil
}
