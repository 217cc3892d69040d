package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/transgeo"
	"github.com/airbusgeo/transgeo/archive"
	"github.com/airbusgeo/transgeo/raster"
	tgstorage "github.com/airbusgeo/transgeo/storage"
	"github.com/alessio/shellescape"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var stcl *storage.Client
var logger = zap.NewNop()

var cfg = transgeo.DefaultConfig()
var configFile string
var verbose bool
var blocksize string
var numCachedBlocks int
var manifestOutput string
var splitDir string
var progress bool
var startTime time.Time

var rootCmd = &cobra.Command{
	Use:   "transgeo",
	Short: "cross-view aerial/ground dataset builder",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		startTime = time.Now()
		var err error
		if verbose {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		if err := loadConfig(cmd.Flags()); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		raster.Register()
		ctx := cmd.Context()
		names := append([]string{cfg.Output, manifestOutput, splitDir}, args...)
		if needsGCS(names...) {
			if stcl, err = storage.NewClient(ctx); err != nil {
				return fmt.Errorf("storage.newclient: %w", err)
			}
			if err := raster.RegisterGCS(ctx, stcl, blocksize, numCachedBlocks); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		logger.Sugar().Debugf("command %s took %.1fs",
			cmd.Name(), time.Since(startTime).Seconds())
	},
}

// loadConfig replaces the flag defaults with the configuration file, then
// applies again the flags given on the command line.
func loadConfig(fs *pflag.FlagSet) error {
	if configFile == "" {
		return nil
	}
	changed := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	fileCfg, err := transgeo.LoadConfig(configFile)
	if err != nil {
		return err
	}
	cfg = fileCfg
	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}

func needsGCS(names ...string) bool {
	for _, n := range names {
		if tgstorage.IsGCS(n) {
			return true
		}
	}
	return false
}

func buildFlags(fs *pflag.FlagSet) {
	fs.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism, "number of concurrent workers for read-only phases")
	fs.StringVar(&cfg.GDALConfig, "gdal-config", cfg.GDALConfig, "gdal configuration options, e.g. \"GDAL_CACHEMAX=512 CPL_DEBUG=ON\"")
}

func curationFlags(fs *pflag.FlagSet) {
	fs.Float64Var(&cfg.PanoramaAspectRatio, "panorama-aspect-ratio", cfg.PanoramaAspectRatio, "minimum width/height ratio of a ground image to be a panorama")
	fs.IntVar(&cfg.MaxPositivePanoramas, "max-positive-panoramas", cfg.MaxPositivePanoramas, "maximum number of positive panoramas per aerial image (0: no limit)")
	fs.Float64Var(&cfg.DistractionKeepProportion, "distraction-keep-proportion", cfg.DistractionKeepProportion, "proportion of distractions (aerial images covering no panorama) to keep")
	fs.Float64Var(&cfg.TrainProportion, "train-proportion", cfg.TrainProportion, "proportion of images (random) or episodes (episode) in the train split")
	fs.Var(&cfg.SplitStrategy, "split-strategy", "train/test split strategy: random|episode")
	fs.Var(&cfg.SemiPositivePolicy, "semi-positive-policy", "ground images with fewer than 3 semi-positives: prune|filter|keep")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "yaml or json configuration file")
	rootCmd.PersistentFlags().StringVar(&blocksize, "blocksize", "512k", "gs cache blocksize")
	rootCmd.PersistentFlags().IntVar(&numCachedBlocks, "numblocks", 1000, "number of gs cached blocks")
	rootCmd.AddCommand(manifestCmd, prepareCmd, splitCmd)

	buildFlags(manifestCmd.Flags())
	manifestCmd.Flags().BoolVar(&cfg.SpatialIndex, "spatial-index", cfg.SpatialIndex, "use an r-tree to find candidate aerial images")
	manifestCmd.Flags().StringVarP(&manifestOutput, "output", "o", "./image-manifest.json", "output manifest file")

	buildFlags(prepareCmd.Flags())
	curationFlags(prepareCmd.Flags())
	prepareCmd.Flags().StringVarP(&cfg.ArchivePrefix, "zip-prefix", "z", cfg.ArchivePrefix, "prefix of all archive entries")
	prepareCmd.Flags().StringVar(&cfg.Area, "area", cfg.Area, "area name used in archive paths")
	prepareCmd.Flags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "output archive")
	prepareCmd.Flags().BoolVar(&progress, "progress", true, "show progress bars")

	buildFlags(splitCmd.Flags())
	curationFlags(splitCmd.Flags())
	splitCmd.Flags().StringVar(&splitDir, "split-dir", ".", "directory receiving the split files")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var manifestCmd = &cobra.Command{
	Use:   "manifest aerial-directory ground-directory",
	Short: "create the image manifest from labelled aerial and ground images",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := transgeo.RequirePaths(map[string]string{"aerial-directory": args[0], "ground-directory": args[1]}); err != nil {
			return err
		}
		if needsGCS(args...) {
			return fmt.Errorf("image directories must be local")
		}
		gopts, err := cfg.GDALOptions()
		if err != nil {
			return err
		}
		scanOpts := []transgeo.ScanOption{
			transgeo.ScanProber(raster.NewProber(raster.ConfigOptions(gopts...))),
			transgeo.ScanParallelism(cfg.Parallelism),
			transgeo.ScanLogger(logger),
		}
		tiles, err := transgeo.ScanAerial(args[0], scanOpts...)
		if err != nil {
			return err
		}
		images, err := transgeo.ScanGround(args[1], scanOpts...)
		if err != nil {
			return err
		}
		buildOpts := []transgeo.BuildOption{
			transgeo.BuildParallelism(cfg.Parallelism),
			transgeo.BuildLogger(logger),
		}
		if cfg.SpatialIndex {
			buildOpts = append(buildOpts, transgeo.SpatialIndex())
		}
		m, err := transgeo.Build(tiles, images, buildOpts...)
		if err != nil {
			return fmt.Errorf("build manifest: %w", err)
		}

		out, err := tgstorage.Create(ctx, manifestOutput, stcl)
		if err != nil {
			return err
		}
		if err := m.WriteJSON(out); err != nil {
			out.Abort()
			return fmt.Errorf("write %s: %w", manifestOutput, err)
		}
		if err := out.Commit(); err != nil {
			return err
		}
		logger.Info("wrote manifest", zap.String("output", manifestOutput))
		return nil
	},
}

func loadManifest(ctx context.Context, name string) (*transgeo.Manifest, error) {
	if !tgstorage.IsGCS(name) {
		return transgeo.LoadManifest(name)
	}
	b, o, err := tgstorage.Parse(name)
	if err != nil {
		return nil, err
	}
	bkt, err := tgstorage.NewBucket("gs://"+b, stcl)
	if err != nil {
		return nil, err
	}
	r, err := bkt.Open(ctx, o)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	m, err := transgeo.ReadManifest(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}
	return m, nil
}

// curated loads and curates the manifest, and opens the reference raster.
func curated(ctx context.Context, manifestName, geotiff string) (*transgeo.Manifest, *raster.Reference, transgeo.CurationReport, *rand.Rand, error) {
	var report transgeo.CurationReport
	gopts, err := cfg.GDALOptions()
	if err != nil {
		return nil, nil, report, nil, err
	}
	m, err := loadManifest(ctx, manifestName)
	if err != nil {
		return nil, nil, report, nil, err
	}
	ref, err := raster.Open(geotiff, raster.ConfigOptions(gopts...))
	if err != nil {
		return nil, nil, report, nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	report, err = transgeo.Curate(m, cfg, rng, transgeo.CurateLogger(logger))
	if err != nil {
		ref.Close()
		return nil, nil, report, nil, fmt.Errorf("curate: %w", err)
	}
	return m, ref, report, rng, nil
}

func splitRecords(m *transgeo.Manifest, keys []string, ref *raster.Reference, rng *rand.Rand) (transgeo.SplitResult, []transgeo.Record, []transgeo.Record, error) {
	split, err := transgeo.Split(keys, cfg.SplitStrategy, cfg.TrainProportion, rng)
	if err != nil {
		return split, nil, nil, err
	}
	for _, k := range split.Skipped {
		logger.Warn("ground image has no episode, left out of the splits", zap.String("key", k))
	}
	trn := ref.PixelTransform()
	train, err := transgeo.Records(m, split.Train, trn, cfg.SemiPositivePolicy, transgeo.RecordLogger(logger))
	if err != nil {
		return split, nil, nil, fmt.Errorf("train records: %w", err)
	}
	test, err := transgeo.Records(m, split.Test, trn, cfg.SemiPositivePolicy, transgeo.RecordLogger(logger))
	if err != nil {
		return split, nil, nil, fmt.Errorf("test records: %w", err)
	}
	logger.Info("split ground images",
		zap.String("strategy", string(cfg.SplitStrategy)),
		zap.Int("train", len(split.Train)), zap.Int("test", len(split.Test)),
		zap.Int("skipped", len(split.Skipped)),
		zap.Int("train-records", len(train)), zap.Int("test-records", len(test)))
	return split, train, test, nil
}

var prepareCmd = &cobra.Command{
	Use:   "prepare manifest.json aerial-root ground-root reference.tif",
	Short: "curate the manifest, split it and package the dataset archive",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manifestName, aerialRoot, groundRoot, geotiff := args[0], args[1], args[2], args[3]
		if err := transgeo.RequirePaths(map[string]string{
			"manifest": manifestName, "aerial-root": aerialRoot,
			"ground-root": groundRoot, "geotiff": geotiff,
		}); err != nil {
			return err
		}
		runID := uuid.New().String()
		logger = logger.With(zap.String("run", runID))

		m, ref, report, rng, err := curated(ctx, manifestName, geotiff)
		if err != nil {
			return err
		}
		defer ref.Close()

		aerialBucket, err := tgstorage.NewBucket(aerialRoot, stcl)
		if err != nil {
			return err
		}
		groundBucket, err := tgstorage.NewBucket(groundRoot, stcl)
		if err != nil {
			return err
		}
		src := archive.Source{Aerial: aerialBucket, Ground: groundBucket}
		aopts := []archive.Option{archive.Parallelism(cfg.Parallelism), archive.Logger(logger)}
		resolved, err := archive.Resolve(ctx, m, src, aopts...)
		if err != nil {
			return err
		}

		split, train, test, err := splitRecords(m, resolved.Ground, ref, rng)
		if err != nil {
			return err
		}

		info := archive.BuildInfo{
			RunID:    runID,
			Created:  time.Now().UTC(),
			Command:  shellescape.QuoteCommand(os.Args),
			Config:   cfg,
			Curation: report,
			Aerial:   len(resolved.Aerial),
			Ground:   len(resolved.Ground),
			Train:    len(split.Train),
			Test:     len(split.Test),
			Skipped:  len(split.Skipped),
		}
		info.Records.Train = len(train)
		info.Records.Test = len(test)

		if progress {
			aopts = append(aopts, archive.Progress(os.Stderr))
		}
		out, err := tgstorage.Create(ctx, cfg.Output, stcl)
		if err != nil {
			return err
		}
		err = archive.Write(ctx, out, src, archive.Layout{Prefix: cfg.ArchivePrefix, Area: cfg.Area},
			archive.Contents{Manifest: m, Resolved: resolved, Train: train, Test: test, Build: info},
			aopts...)
		if err != nil {
			out.Abort()
			return err
		}
		if err := out.Commit(); err != nil {
			return err
		}
		logger.Info("wrote dataset", zap.String("output", cfg.Output))
		return nil
	},
}

func outputName(dir, name string) string {
	if tgstorage.IsGCS(dir) {
		return strings.TrimSuffix(dir, "/") + "/" + name
	}
	return filepath.Join(dir, name)
}

func writeOutput(ctx context.Context, name string, write func(io.Writer) error) error {
	out, err := tgstorage.Create(ctx, name, stcl)
	if err != nil {
		return err
	}
	if err := write(out); err != nil {
		out.Abort()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return out.Commit()
}

var splitCmd = &cobra.Command{
	Use:   "split manifest.json reference.tif",
	Short: "curate the manifest and write the split files without packaging",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := transgeo.RequirePaths(map[string]string{"manifest": args[0], "geotiff": args[1], "split-dir": splitDir}); err != nil {
			return err
		}
		m, ref, _, rng, err := curated(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		defer ref.Close()
		_, train, test, err := splitRecords(m, m.GroundKeys(), ref, rng)
		if err != nil {
			return err
		}
		layout := archive.Layout{}
		if err := writeOutput(ctx, outputName(splitDir, path.Base(layout.TrainSplit())), func(w io.Writer) error {
			return transgeo.WriteRecords(w, train)
		}); err != nil {
			return err
		}
		if err := writeOutput(ctx, outputName(splitDir, path.Base(layout.TestSplit())), func(w io.Writer) error {
			return transgeo.WriteRecords(w, test)
		}); err != nil {
			return err
		}
		logger.Info("wrote split files", zap.String("dir", splitDir))
		return nil
	},
}
