// Command promo-import bulk-loads promo codes from gzip-compressed CSV batches.
//
// Every *.csv.gz file in the data directory holds lines of
//
//	code,discount_type,value,min_order_amount,max_uses,valid_from,valid_until
//
// A code defined more than once across the batch is ambiguous and is not
// imported. Codes that already exist in the database are left untouched.
package main

import (
	"bufio"
	"context"
	"flag"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	_ "github.com/joho/godotenv/autoload"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/apperr"
	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/promo"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

const (
	maxFiles      = bits.UintSize
	progressEvery = 1_000_000
	recordFields  = 7
)

var importer = auth.Identity{UserID: "promo-import", Role: auth.RoleAdmin}

type options struct {
	capacity uint
	fpr      float64
}

func main() {
	var (
		dataDir     string
		databaseURL string
		opts        options
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz promo batches")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.capacity, "bloom-capacity", 10_000_000, "expected number of codes per file")
	flag.Float64Var(&opts.fpr, "bloom-fpr", 0.001, "bloom filter false positive rate")
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

	if err := run(ctx, lg, dataDir, databaseURL, opts); err != nil {
		lg.Fatal("Promo import failed", zap.Error(err))
	}
	lg.Info("Promo import completed")
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, opts options) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list batches")
	}
	if len(files) == 0 {
		lg.Info("No batches found", zap.String("dir", dataDir))
		return nil
	}
	sort.Strings(files)

	ambiguous, err := findAmbiguous(ctx, lg, files, opts)
	if err != nil {
		return errors.Wrap(err, "find ambiguous codes")
	}
	lg.Info("Ambiguous codes found", zap.Int("count", len(ambiguous)))

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	stats, err := importCodes(ctx, lg, promo.NewService(postgres.New(pool)), files, ambiguous)
	if err != nil {
		return errors.Wrap(err, "import codes")
	}
	lg.Info("Import summary",
		zap.Int("created", stats.created),
		zap.Int("existing", stats.existing),
		zap.Int("ambiguous", stats.ambiguous),
		zap.Int("invalid", stats.invalid),
	)
	return nil
}

// findAmbiguous returns the codes defined more than once across files.
//
// Pass 1 builds a bloom filter per file and notes codes the filter has
// possibly seen before in the same file. Pass 2 re-streams every file and
// confirms candidates exactly, so bloom false positives never reject a code.
func findAmbiguous(ctx context.Context, lg *zap.Logger, files []string, opts options) (map[string]struct{}, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("too many batches: %d (max %d)", len(files), maxFiles)
	}

	filters := make([]*bloom.BloomFilter, len(files))
	repeats := make([]map[string]struct{}, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.capacity, opts.fpr)
			seen := make(map[string]struct{})
			var count uint64
			if err := streamGzFile(gctx, path, func(line string) {
				code, ok := codeOf(line)
				if !ok {
					return
				}
				if filter.TestAndAddString(code) {
					seen[code] = struct{}{}
				}
				if count++; count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.String("file", path), zap.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			lg.Info("Pass 1 complete", zap.String("file", path), zap.Uint64("codes", count))
			filters[i], repeats[i] = filter, seen
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type candidates struct {
		files  map[string]uint
		counts map[string]int
	}
	results := make([]candidates, len(files))

	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			res := candidates{files: make(map[string]uint), counts: make(map[string]int)}
			fileBit := uint(1) << uint(i)
			if err := streamGzFile(gctx, path, func(line string) {
				code, ok := codeOf(line)
				if !ok {
					return
				}
				if _, ok := repeats[i][code]; ok {
					res.counts[code]++
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						res.files[code] |= fileBit
						break
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}
			lg.Info("Pass 2 complete", zap.String("file", path), zap.Int("candidates", len(res.files)))
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	ambiguous := make(map[string]struct{})
	for _, r := range results {
		for code, mask := range r.files {
			merged[code] |= mask
		}
		for code, n := range r.counts {
			if n > 1 {
				ambiguous[code] = struct{}{}
			}
		}
	}
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			ambiguous[code] = struct{}{}
		}
	}
	return ambiguous, nil
}

type importStats struct {
	created   int
	existing  int
	ambiguous int
	invalid   int
}

// importCodes creates every unambiguous, valid code through the promo service.
func importCodes(
	ctx context.Context,
	lg *zap.Logger,
	svc *promo.Service,
	files []string,
	ambiguous map[string]struct{},
) (importStats, error) {
	var stats importStats
	for _, path := range files {
		var lineNo int
		var failure error
		err := streamGzFile(ctx, path, func(line string) {
			lineNo++
			if failure != nil {
				return
			}
			if _, ok := codeOf(line); !ok {
				return
			}
			req, err := parseRecord(line)
			if err != nil {
				stats.invalid++
				lg.Warn("Invalid record", zap.String("file", path), zap.Int("line", lineNo), zap.Error(err))
				return
			}
			if _, ok := ambiguous[promo.NormalizeCode(req.Code)]; ok {
				stats.ambiguous++
				return
			}
			_, err = svc.Create(ctx, importer, req)
			switch {
			case err == nil:
				stats.created++
			case errors.Is(err, promo.ErrConflict):
				stats.existing++
			case apperr.CodeOf(err) == apperr.Validation:
				stats.invalid++
				lg.Warn("Invalid promo code", zap.String("file", path), zap.Int("line", lineNo), zap.Error(err))
			default:
				failure = errors.Wrapf(err, "%s:%d", path, lineNo)
			}
		})
		if err != nil {
			return stats, err
		}
		if failure != nil {
			return stats, failure
		}
		lg.Info("Batch imported", zap.String("file", path), zap.Int("created", stats.created))
	}
	return stats, nil
}

// codeOf extracts the normalized code from a data line. Blank lines and the
// header row are skipped.
func codeOf(line string) (string, bool) {
	field, _, _ := strings.Cut(line, ",")
	code := promo.NormalizeCode(field)
	if code == "" || code == "CODE" {
		return "", false
	}
	return code, true
}

func parseRecord(line string) (promo.CreateRequest, error) {
	fields := strings.Split(line, ",")
	if len(fields) != recordFields {
		return promo.CreateRequest{}, errors.Errorf("expected %d fields, got %d", recordFields, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	value, err := decimal.NewFromString(fields[2])
	if err != nil {
		return promo.CreateRequest{}, errors.Wrap(err, "value")
	}
	minOrder := decimal.Zero
	if fields[3] != "" {
		if minOrder, err = decimal.NewFromString(fields[3]); err != nil {
			return promo.CreateRequest{}, errors.Wrap(err, "min_order_amount")
		}
	}
	maxUses, err := strconv.Atoi(fields[4])
	if err != nil {
		return promo.CreateRequest{}, errors.Wrap(err, "max_uses")
	}
	validFrom, err := time.Parse(time.RFC3339, fields[5])
	if err != nil {
		return promo.CreateRequest{}, errors.Wrap(err, "valid_from")
	}
	validUntil, err := time.Parse(time.RFC3339, fields[6])
	if err != nil {
		return promo.CreateRequest{}, errors.Wrap(err, "valid_until")
	}

	return promo.CreateRequest{
		Code:           fields[0],
		DiscountType:   promo.DiscountType(strings.ToUpper(fields[1])),
		Value:          value,
		MinOrderAmount: minOrder,
		MaxUses:        maxUses,
		ValidFrom:      validFrom,
		ValidUntil:     validUntil,
	}, nil
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
