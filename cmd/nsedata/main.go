package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantbolt/nsedata/internal/config"
	"github.com/quantbolt/nsedata/internal/pipeline"
	"github.com/quantbolt/nsedata/internal/platform/sqlite"
	manifestrepo "github.com/quantbolt/nsedata/internal/repository/manifest"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	year := flag.Int("year", 0, "year to download; prompted for when omitted")
	yearsStr := flag.String("years", "", "comma-separated years to download (overrides -year)")
	symbol := flag.String("symbol", "NIFTY", "underlying symbol")
	instrument := flag.String("instrument", "FUTIDX", "instrument type")
	single := flag.Bool("single", false, "process only the first expiry (test mode)")
	resume := flag.Bool("resume", false, "skip expiries whose output file already exists")
	headless := flag.Bool("headless", cfg.Headless, "run the browser headless")
	outDir := flag.String("out", cfg.DataDir, "base directory for downloaded files")
	manifestPath := flag.String("manifest", cfg.ManifestDB, "fetch manifest database path; empty disables the manifest")
	flag.Parse()

	cfg.Headless = *headless
	cfg.DataDir = *outDir

	// Root context: cancelled on SIGINT/SIGTERM so an in-flight year run winds
	// down and the browser is released.
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	years, testSingle, err := selectYears(*year, *yearsStr, *single)
	if err != nil {
		slog.Error("invalid year selection", "error", err)
		os.Exit(1)
	}

	var runnerOpts []pipeline.Option
	if *manifestPath != "" {
		db, err := sqlite.Open(*manifestPath)
		if err != nil {
			slog.Error("failed to open manifest database", "path", *manifestPath, "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		runnerOpts = append(runnerOpts, pipeline.WithRecorder(manifestrepo.NewRepository(db.DB)))
	}

	runner := pipeline.NewRunner(cfg, runnerOpts...)
	opts := pipeline.Options{
		Symbol:     *symbol,
		Instrument: *instrument,
		TestSingle: testSingle,
		Resume:     *resume,
	}

	slog.Info("starting download", "years", years, "symbol", opts.Symbol,
		"instrument", opts.Instrument, "out", cfg.DataDir, "headless", cfg.Headless)

	if !runner.ProcessYears(rootCtx, years, opts) {
		slog.Error("no expiries downloaded")
		os.Exit(1)
	}
	slog.Info("download complete", "years", years)
}

// selectYears resolves which years to process. Flags win; with neither -year
// nor -years set, the user is prompted interactively, including the original
// "test with a single expiry first?" question.
func selectYears(year int, yearsCSV string, single bool) ([]int, bool, error) {
	if yearsCSV != "" {
		var years []int
		for _, part := range strings.Split(yearsCSV, ",") {
			y, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, false, fmt.Errorf("bad year %q: %w", part, err)
			}
			if err := validateYear(y); err != nil {
				return nil, false, err
			}
			years = append(years, y)
		}
		return years, single, nil
	}

	if year != 0 {
		if err := validateYear(year); err != nil {
			return nil, false, err
		}
		return []int{year}, single, nil
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Enter the year (e.g. 2015): ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, false, fmt.Errorf("read year: %w", err)
		}
		y, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || validateYear(y) != nil {
			fmt.Printf("Please enter a valid year between 2000 and %d\n", time.Now().Year())
			continue
		}

		fmt.Print("Test with single expiry first? (y/n): ")
		answer, err := reader.ReadString('\n')
		if err != nil {
			return nil, false, fmt.Errorf("read test mode: %w", err)
		}
		testSingle := strings.EqualFold(strings.TrimSpace(answer), "y")
		return []int{y}, testSingle, nil
	}
}

func validateYear(y int) error {
	if y < 2000 || y > time.Now().Year() {
		return fmt.Errorf("year %d out of range 2000..%d", y, time.Now().Year())
	}
	return nil
}
