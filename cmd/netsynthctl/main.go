package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"netsynth/internal/storage"
	api "netsynth/pkg/netsynth"
)

const (
	defaultOutDir = "corpus"
	exportsDir    = "exports"
	defaultDBPath = "netsynth.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "corpus":
		return runCorpus(ctx, args[1:])
	case "aggregate":
		return runAggregate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "models":
		return runModels(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are the flags every store-backed subcommand shares.
type clientFlags struct {
	storeKind *string
	dbPath    *string
	outDir    *string
	verbose   *bool
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", defaultDBPath, "sqlite database path"),
		outDir:    fs.String("out-dir", defaultOutDir, "corpus output directory"),
		verbose:   fs.Bool("verbose", false, "log progress to stderr"),
	}
}

func (f clientFlags) open() (*api.Client, error) {
	return api.New(api.Options{
		StoreKind:  *f.storeKind,
		DBPath:     *f.dbPath,
		OutDir:     *f.outDir,
		ExportsDir: exportsDir,
		Logger:     newLogger(*f.verbose),
	})
}

func newLogger(verbose bool) *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "netsynth: ", log.LstdFlags)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *cf.storeKind)
	return nil
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional generate config JSON path")
	paramsPath := fs.String("params", "", "optional generation parameters JSON path")
	layers := fs.Int("layers", 5, "primary layer count")
	seed := fs.Int64("seed", 1, "rng seed")
	name := fs.String("name", "", "model name (default model_<id>)")
	maxAttempts := fs.Int("max-attempts", 0, "shape-failure restarts before giving up (0 uses default)")
	outPath := fs.String("out", "", "write the serialized graph to this path instead of stdout")
	verbose := fs.Bool("verbose", false, "log progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req := api.GenerateRequest{Layers: *layers, Seed: *seed, Name: *name, MaxAttempts: *maxAttempts}
	if *configPath != "" {
		loaded, err := loadGenerateRequestFromConfig(*configPath, req)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		req = overrideGenerateRequest(loaded, req, setFlags)
	}
	if setFlags["params"] {
		req.Params.Path = *paramsPath
	}

	client, err := api.New(api.Options{Logger: newLogger(*verbose)})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Generate(ctx, req)
	if err != nil {
		return err
	}
	if *outPath == "" {
		fmt.Println(summary.JSON)
		return nil
	}
	if err := os.WriteFile(*outPath, []byte(summary.JSON+"\n"), 0o644); err != nil {
		return err
	}
	fmt.Printf("generated name=%s layers=%d attempts=%d quantized=%t input=%v output=%v size=%s path=%s\n",
		summary.Name, summary.Layers, summary.Attempts, summary.Quantized, summary.InputShape, summary.OutputShape,
		humanize.Bytes(uint64(len(summary.JSON))), *outPath)
	return nil
}

func runCorpus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("corpus", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "optional corpus config JSON path")
	paramsPath := fs.String("params", "", "optional generation parameters JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	batches := fs.Int("batches", 1, "batch count")
	batchSize := fs.Int("batch-size", 8, "models per batch")
	minLayers := fs.Int("min-layers", 3, "minimum primary layer count")
	maxLayers := fs.Int("max-layers", 10, "maximum primary layer count")
	seed := fs.Int64("seed", 1, "rng seed")
	prefix := fs.String("prefix", "conv2d", "batch file prefix")
	workers := fs.Int("workers", 0, "worker count (0 uses CPU count)")
	maxRetries := fs.Int("max-retries", 10, "task retries before a model is dropped")
	maxAttempts := fs.Int("max-attempts", 0, "shape-failure restarts per model (0 uses default)")
	corpusFile := fs.Bool("corpus-file", false, "also write runs/<run-id>/<prefix>_corpus.json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req := api.CorpusRequest{
		RunID:       *runID,
		Batches:     *batches,
		BatchSize:   *batchSize,
		MinLayers:   *minLayers,
		MaxLayers:   *maxLayers,
		Seed:        *seed,
		Prefix:      *prefix,
		OutDir:      *cf.outDir,
		Workers:     *workers,
		MaxRetries:  retriesFlag(*maxRetries),
		MaxAttempts: *maxAttempts,
		CorpusFile:  *corpusFile,
	}
	if *configPath != "" {
		loaded, err := loadCorpusRequestFromConfig(*configPath, req)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		req = overrideCorpusRequest(loaded, req, setFlags)
	}
	if setFlags["params"] {
		req.Params.Path = *paramsPath
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Corpus(ctx, req)
	if err != nil {
		return err
	}
	for _, b := range summary.Batches {
		fmt.Printf("batch=%d models=%d/%d failed=%d shape_retries=%d size=%s path=%s\n",
			b.Index, b.Succeeded, b.Requested, b.Failed, b.ShapeRetries, humanize.Bytes(uint64(b.Bytes)), b.Path)
	}
	fmt.Printf("run_id=%s succeeded=%s failed=%s runs_dir=%s\n",
		summary.RunID, humanize.Comma(int64(summary.Succeeded)), humanize.Comma(int64(summary.Failed)), summary.RunsDir)
	if summary.CorpusFile != "" {
		fmt.Printf("corpus_file=%s\n", summary.CorpusFile)
	}
	return nil
}

// retriesFlag maps the CLI's "0 means no retries" onto the API, where 0
// selects the default.
func retriesFlag(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func runAggregate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	cf := addClientFlags(fs)
	in := fs.String("in", "", "corpus file, batch file, or directory of them")
	out := fs.String("out", "", "optional layer metadata output path")
	id := fs.String("id", "", "stats record id (optional)")
	jsonOut := fs.Bool("json", false, "emit buckets as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("aggregate requires --in")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Aggregate(ctx, api.AggregateRequest{In: *in, Out: *out, ID: *id})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary.Buckets)
	}

	counts := make([]int, 0, len(summary.Buckets))
	for k := range summary.Buckets {
		counts = append(counts, k)
	}
	sort.Ints(counts)
	for _, k := range counts {
		b := summary.Buckets[k]
		fmt.Printf("layers=%d models=%d conv=%d conv1d=%d conv2d=%d dense=%d activation=%d pooling=%d only_dense=%d\n",
			k, b.ModelCount, b.Conv, b.Conv1D, b.Conv2D, b.Dense, b.Activation, b.Pooling, b.OnlyDense)
	}
	fmt.Printf("aggregated id=%s models=%s", summary.ID, humanize.Comma(int64(summary.Models)))
	if summary.Out != "" {
		fmt.Printf(" out=%s", summary.Out)
	}
	fmt.Println()
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	outDir := fs.String("out-dir", defaultOutDir, "corpus output directory")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := api.New(api.Options{OutDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		type runsItem struct {
			RunID        string `json:"run_id"`
			CreatedAtUTC string `json:"created_at_utc"`
			Prefix       string `json:"prefix"`
			Seed         int64  `json:"seed"`
			Batches      int    `json:"batches"`
			BatchSize    int    `json:"batch_size"`
			Succeeded    int    `json:"succeeded"`
			Failed       int    `json:"failed"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem(item))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s prefix=%s seed=%d batches=%d batch_size=%d succeeded=%s failed=%s\n",
			item.RunID, item.CreatedAtUTC, item.Prefix, item.Seed, item.Batches, item.BatchSize,
			humanize.Comma(int64(item.Succeeded)), humanize.Comma(int64(item.Failed)))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	outDir := fs.String("out-dir", defaultOutDir, "corpus output directory")
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run")
	dest := fs.String("dest", exportsDir, "export destination directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{OutDir: *outDir, ExportsDir: *dest})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

func runModels(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id whose models to list")
	id := fs.String("id", "", "print the serialized graph of one model")
	limit := fs.Int("limit", 0, "max models to list (0 lists all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *id != "" {
		text, err := client.Model(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}

	items, err := client.Models(ctx, api.ModelsRequest{RunID: *runID, Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no models found")
		return nil
	}
	for _, m := range items {
		fmt.Printf("id=%s name=%s batch=%d index=%d layers=%d quantized=%t start=%s attempts=%d output=%v\n",
			m.ID, m.Name, m.Batch, m.Index, m.Layers, m.Quantized, m.StartLayer, m.Attempts, m.OutputShape)
	}
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: netsynthctl <init|generate|corpus|aggregate|runs|export|models> [flags]", msg)
}
