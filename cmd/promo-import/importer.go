package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/qpay-checkout/internal/domain/promo"
)

const (
	minCodeLen    = 4
	maxCodeLen    = 32
	progressEvery = 100_000
)

// creator stores one promo code. ErrDuplicateCode marks an existing code.
type creator interface {
	Create(ctx context.Context, c *promo.Code) error
}

type stats struct {
	Read       uint64
	Invalid    uint64
	Duplicates uint64
	Created    uint64
}

// importer streams codes from gzip files into the store. A bloom filter
// holds every code already stored or imported, so repeats across files and
// reruns are skipped without a database round trip. A false positive drops
// a fresh code; the rate is set by fpr.
type importer struct {
	store    creator
	template promo.Code
	filter   *bloom.BloomFilter
}

func newImporter(store creator, template promo.Code, capacity uint, fpr float64) *importer {
	return &importer{
		store:    store,
		template: template,
		filter:   bloom.NewWithEstimates(capacity, fpr),
	}
}

// seen marks a code as already present.
func (im *importer) seen(code string) {
	im.filter.AddString(promo.Normalize(code))
}

// Import reads all files concurrently and writes codes from a single
// goroutine, which owns the filter.
func (im *importer) Import(ctx context.Context, files []string) (stats, error) {
	var st stats
	lines := make(chan string, 1024)

	g, ctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(func() error {
			return streamGzFile(rctx, f, lines)
		})
	}
	g.Go(func() error {
		defer close(lines)
		return readers.Wait()
	})
	g.Go(func() error {
		for raw := range lines {
			if err := im.add(ctx, raw, &st); err != nil {
				return err
			}
			if st.Read%progressEvery == 0 {
				slog.Info("import progress", slog.Uint64("read", st.Read), slog.Uint64("created", st.Created))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return st, errors.Wrap(err, "import")
	}
	return st, nil
}

func (im *importer) add(ctx context.Context, raw string, st *stats) error {
	st.Read++
	code := promo.Normalize(raw)
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		st.Invalid++
		return nil
	}
	if im.filter.TestOrAddString(code) {
		st.Duplicates++
		return nil
	}

	c := im.template
	c.Code = code
	switch err := im.store.Create(ctx, &c); {
	case errors.Is(err, promo.ErrDuplicateCode):
		st.Duplicates++
	case err != nil:
		return errors.Wrapf(err, "create %s", code)
	default:
		st.Created++
	}
	return nil
}

// streamGzFile sends each line of a gzip-compressed file to out.
func streamGzFile(ctx context.Context, path string, out chan<- string) error {
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
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
