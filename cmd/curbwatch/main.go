package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/stadsdata/curbwatch/pkg/arcgis"
	"github.com/stadsdata/curbwatch/pkg/bench"
	"github.com/stadsdata/curbwatch/pkg/checksum"
	"github.com/stadsdata/curbwatch/pkg/correlate"
	"github.com/stadsdata/curbwatch/pkg/logger"
	"github.com/stadsdata/curbwatch/pkg/materialize"
	"github.com/stadsdata/curbwatch/pkg/metrics"
	"github.com/stadsdata/curbwatch/pkg/pipeline"
	"github.com/stadsdata/curbwatch/pkg/restrict"
	"github.com/stadsdata/curbwatch/pkg/server"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes per subcommand contract.
const (
	exitOK           = 0
	exitError        = 1
	exitCancelled    = 2
	exitViolation    = 3
	exitSourcesDirty = 10
)

const (
	defaultAddressService = "https://services3.arcgis.com/GVgbJbqm8hXASVYi/ArcGIS/rest/services/Malmo_Sweden_Addresses/FeatureServer"
	defaultLineService    = "https://gis.malmo.se/arcgis/rest/services/FGK_Parkster_Map/FeatureServer"
	defaultEnvLayerID     = 1
	defaultFeeLayerID     = 2

	defaultChecksumPath = "checksums.json"
	defaultArtifactName = "restrictions.columnar"
	defaultListenAddr   = "127.0.0.1:3040"

	outputDirEnvVar = "CURBWATCH_OUTPUT_DIR"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return exitError
	}
	cmd, args := os.Args[1], os.Args[2:]

	// godotenv does not override existing env vars, so process env and
	// explicit exports take precedence.
	_ = godotenv.Load()

	switch cmd {
	case "correlate":
		return runCorrelate(args)
	case "test":
		return runTest(args)
	case "benchmark":
		return runBenchmark(args)
	case "check-updates":
		return runCheckUpdates(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		return exitError
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: curbwatch <command> [flags]

commands:
  correlate      run the full pipeline and write the artifact
  test           serve the visual verification page
  benchmark      time the algorithm variants and cross-check them
  check-updates  compare upstream checksums against the previous run`)
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	verbose   *bool
	outputDir *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		verbose:   fs.Bool("verbose", false, "enable verbose (debug) logging"),
		outputDir: fs.String("output-dir", "output", "artifact output directory (or set CURBWATCH_OUTPUT_DIR)"),
	}
}

func (c commonFlags) resolve() (log *slog.Logger, outputDir string) {
	outputDir = *c.outputDir
	if env := os.Getenv(outputDirEnvVar); env != "" && outputDir == "output" {
		outputDir = env
	}
	return logger.New(*c.verbose), outputDir
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext(log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal", "signal", sig.String())
		cancel()
	}()
	return ctx, cancel
}

func newFetcher(log *slog.Logger) (*arcgis.Client, []checksum.Source) {
	addressService := defaultAddressService
	if env := os.Getenv("CURBWATCH_ADDRESS_SERVICE"); env != "" {
		addressService = env
	}
	lineService := defaultLineService
	if env := os.Getenv("CURBWATCH_LINE_SERVICE"); env != "" {
		lineService = env
	}

	client, err := arcgis.New(arcgis.Config{
		Logger:         log,
		AddressService: addressService,
		EnvironmentalLayer: arcgis.Layer{
			ServiceURL: lineService, LayerID: defaultEnvLayerID, Kind: arcgis.LayerEnvironmental,
		},
		FeeLayer: arcgis.Layer{
			ServiceURL: lineService, LayerID: defaultFeeLayerID, Kind: arcgis.LayerFee,
		},
	})
	if err != nil {
		// Config is static here; a failure is a programming error.
		panic(err)
	}

	queryURL := func(service string, layer int) string {
		return fmt.Sprintf("%s/%d/query?where=1%%3D1&outFields=*&returnGeometry=true&f=geojson&resultOffset=0&resultRecordCount=1000", service, layer)
	}
	sources := []checksum.Source{
		{Name: "addresses", URL: queryURL(addressService, 0)},
		{Name: "environmental", URL: queryURL(lineService, defaultEnvLayerID)},
		{Name: "fees", URL: queryURL(lineService, defaultFeeLayerID)},
	}
	return client, sources
}

func runCorrelate(args []string) int {
	fs := flag.NewFlagSet("correlate", flag.ExitOnError)
	common := addCommonFlags(fs)
	algoFlag := fs.String("algo", "rtree", fmt.Sprintf("correlation algorithm, one of %v", correlate.Names))
	timezoneFlag := fs.String("timezone", restrict.DefaultTimezone, "civil timezone for restriction instants")
	cutoffFlag := fs.Float64("cutoff", correlate.DefaultCutoffMeters, "match cutoff in meters")
	forceFlag := fs.Bool("force", false, "rebuild even when upstream checksums are unchanged")
	timeoutFlag := fs.Duration("correlate-timeout", 10*time.Minute, "deadline per correlation pass (0 disables)")
	_ = fs.Parse(args)

	log, outputDir := common.resolve()
	log.Info("curbwatch starting", "version", version, "commit", commit, "date", date, "command", "correlate")

	ctx, cancel := signalContext(log)
	defer cancel()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	fetcher, sources := newFetcher(log)
	gate, err := checksum.New(checksum.Config{Logger: log, Path: defaultChecksumPath})
	if err != nil {
		return fail(err)
	}
	writer, err := materialize.New(materialize.Config{
		Logger: log,
		Path:   filepath.Join(outputDir, defaultArtifactName),
	})
	if err != nil {
		return fail(err)
	}

	p, err := pipeline.New(pipeline.Config{
		Logger:           log,
		Clock:            clockwork.NewRealClock(),
		Fetcher:          fetcher,
		Writer:           writer,
		Gate:             gate,
		Sources:          sources,
		Force:            *forceFlag,
		Algorithm:        *algoFlag,
		CutoffMeters:     *cutoffFlag,
		Timezone:         *timezoneFlag,
		CorrelateTimeout: *timeoutFlag,
	})
	if err != nil {
		return fail(err)
	}

	report, err := p.Run(ctx)
	if err != nil {
		if errors.Is(err, correlate.ErrCancelled) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "cancelled")
			return exitCancelled
		}
		return fail(err)
	}

	for _, rej := range report.Rejections {
		fmt.Fprintf(os.Stderr, "rejected address %d: %s: %s\n", rej.AddressIndex, rej.Reason, rej.Detail)
	}
	if report.UpToDate {
		log.Info("up to date, nothing to do", "run_id", report.RunID)
		return exitOK
	}
	log.Info("pipeline complete",
		"run_id", report.RunID, "records", report.Records,
		"rejections", len(report.Rejections), "elapsed", report.Duration)
	return exitOK
}

func runTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	common := addCommonFlags(fs)
	listenFlag := fs.String("listen-addr", defaultListenAddr, "verification server listen address")
	_ = fs.Parse(args)

	log, outputDir := common.resolve()
	ctx, cancel := signalContext(log)
	defer cancel()

	srv, err := server.New(server.Config{
		Logger:       log,
		ListenAddr:   *listenFlag,
		ArtifactPath: filepath.Join(outputDir, defaultArtifactName),
	})
	if err != nil {
		return fail(err)
	}
	log.Info("open the verification page in a browser", "url", "http://"+*listenFlag+"/")
	if err := srv.Run(ctx); err != nil {
		return fail(err)
	}
	return exitOK
}

func runBenchmark(args []string) int {
	fs := flag.NewFlagSet("benchmark", flag.ExitOnError)
	common := addCommonFlags(fs)
	sampleFlag := fs.Int("sample", 1000, "number of addresses to sample")
	cutoffFlag := fs.Float64("cutoff", correlate.DefaultCutoffMeters, "match cutoff in meters")
	_ = fs.Parse(args)

	log, _ := common.resolve()
	if *sampleFlag <= 0 {
		return fail(errors.New("sample must be a positive integer"))
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	fetcher, _ := newFetcher(log)
	addrs, err := fetcher.FetchAddresses(ctx)
	if err != nil {
		return fail(err)
	}
	lines, err := fetcher.FetchEnvironmentalLines(ctx)
	if err != nil {
		return fail(err)
	}

	h, err := bench.New(bench.Config{
		Logger:       log,
		SampleSize:   *sampleFlag,
		CutoffMeters: *cutoffFlag,
	})
	if err != nil {
		return fail(err)
	}
	results, err := h.Run(ctx, addrs, lines)
	if err != nil {
		if errors.Is(err, bench.ErrCorrectnessViolation) {
			fmt.Fprintf(os.Stderr, "correctness violation: %v\n", err)
			return exitViolation
		}
		return fail(err)
	}
	fmt.Print(bench.FormatTable(results))
	return exitOK
}

func runCheckUpdates(args []string) int {
	fs := flag.NewFlagSet("check-updates", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)

	log, _ := common.resolve()
	ctx, cancel := signalContext(log)
	defer cancel()

	_, sources := newFetcher(log)
	gate, err := checksum.New(checksum.Config{Logger: log, Path: defaultChecksumPath})
	if err != nil {
		return fail(err)
	}
	changed, err := gate.Check(ctx, sources)
	if err != nil {
		return fail(err)
	}
	if changed {
		fmt.Println("changed")
		return exitSourcesDirty
	}
	fmt.Println("unchanged")
	return exitOK
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitError
}
