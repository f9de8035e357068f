package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-gutex/v1/gutex"
	"github.com/mirkobrombin/go-gutex/v1/metrics"
	"github.com/mirkobrombin/go-gutex/v1/presets"
)

var (
	concurrency = flag.Int("c", 8, "Number of concurrent goroutines")
	operations  = flag.Int("n", 10000, "Operations per goroutine")
	fieldCount  = flag.Int("fields", 4, "Fields per group")
	writeRatio  = flag.Float64("writes", 0.2, "Fraction of operations that write (0..1)")
	nested      = flag.Int("nested", 2, "Nested read borrows per operation")
	metricsAddr = flag.String("metrics", "", "Serve /metrics on this address and keep running")
	tracing     = flag.Bool("trace", false, "Export contended acquisition spans to stdout")
	slow        = flag.Duration("slow", presets.DefaultSlowThreshold, "Slow acquisition warning threshold")
)

type config struct {
	concurrency int
	operations  int
	fields      int
	writeRatio  float64
	nested      int
}

type result struct {
	elapsed   time.Duration
	ops       int
	writes    int
	sum       int
	contended float64
}

func main() {
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := config{
		concurrency: *concurrency,
		operations:  *operations,
		fields:      *fieldCount,
		writeRatio:  *writeRatio,
		nested:      *nested,
	}
	if err := cfg.validate(); err != nil {
		logger.Error("invalid flags", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	if *tracing {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			logger.Error("stdout exporter", "error", err)
			os.Exit(1)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(ctx) }()
		otel.SetTracerProvider(tp)
	}

	reg := metrics.NewRegistry()
	group := presets.NewInstrumented("bench", presets.InstrumentedOptions{
		Registerer:    reg,
		Logger:        logger,
		SlowThreshold: *slow,
	})

	logger.Info("starting benchmark",
		"goroutines", cfg.concurrency, "ops", cfg.operations, "fields", cfg.fields,
		"writes", cfg.writeRatio, "nested", cfg.nested)

	res, err := run(ctx, group, cfg)
	if err != nil {
		logger.Error("benchmark failed", "error", err)
		os.Exit(1)
	}

	throughput := float64(res.ops) / res.elapsed.Seconds()
	logger.Info("finished",
		"elapsed", res.elapsed,
		"throughput", fmt.Sprintf("%.2f op/s", throughput),
		"avg_latency", time.Duration(float64(res.elapsed)/float64(res.ops)),
		"writes", res.writes,
		"contended", res.contended)

	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("serving metrics", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logger.Error("metrics server", "error", err)
			os.Exit(1)
		}
	}
}

func (c config) validate() error {
	switch {
	case c.concurrency <= 0:
		return errors.New("-c must be positive")
	case c.operations <= 0:
		return errors.New("-n must be positive")
	case c.fields <= 0:
		return errors.New("-fields must be positive")
	case c.writeRatio < 0 || c.writeRatio > 1:
		return errors.New("-writes must be within 0..1")
	case c.nested < 0:
		return errors.New("-nested must not be negative")
	}
	return nil
}

// run hammers the fields of group from cfg.concurrency goroutines. Every
// write increments one field, so the final sum of all fields must equal the
// number of writes performed.
func run(ctx context.Context, group *gutex.Group, cfg config) (result, error) {
	fields := make([]*gutex.Field[int], cfg.fields)
	for i := range fields {
		fields[i] = gutex.Spawn(group, 0, gutex.WithFieldName(fmt.Sprintf("counter-%d", i)))
	}
	writes := make([]int, cfg.concurrency)
	contendedBefore := testutil.ToFloat64(metrics.ContentionCounter)

	start := time.Now()
	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.concurrency; w++ {
		w := w
		eg.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(w) + 1))
			for i := 0; i < cfg.operations; i++ {
				if i%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if rnd.Float64() < cfg.writeRatio {
					writeOp(fields, rnd, cfg.nested)
					writes[w]++
				} else {
					readOp(fields, rnd, cfg.nested)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return result{}, err
	}
	elapsed := time.Since(start)

	res := result{
		elapsed:   elapsed,
		ops:       cfg.concurrency * cfg.operations,
		contended: testutil.ToFloat64(metrics.ContentionCounter) - contendedBefore,
	}
	for _, n := range writes {
		res.writes += n
	}
	for _, f := range fields {
		res.sum += f.Get()
	}
	if res.sum != res.writes {
		return res, fmt.Errorf("lost updates: fields sum to %d, expected %d", res.sum, res.writes)
	}
	return res, nil
}

// readOp takes up to nested read borrows on random fields at once.
func readOp(fields []*gutex.Field[int], rnd *rand.Rand, nested int) {
	guards := make([]*gutex.ReadGuard[int], 0, nested+1)
	defer func() {
		for i := len(guards) - 1; i >= 0; i-- {
			guards[i].Release()
		}
	}()
	for i := 0; i <= nested; i++ {
		guards = append(guards, fields[rnd.Intn(len(fields))].Read())
	}
}

// writeOp increments one field while holding read borrows on the others.
func writeOp(fields []*gutex.Field[int], rnd *rand.Rand, nested int) {
	target := rnd.Intn(len(fields))
	w := fields[target].Write()
	defer w.Release()
	for i := 0; i < nested && len(fields) > 1; i++ {
		j := rnd.Intn(len(fields))
		if j == target {
			continue
		}
		r := fields[j].Read()
		_ = r.Value()
		r.Release()
	}
	*w.Ptr()++
}
