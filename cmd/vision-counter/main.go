// Package main is the vision-counter command line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	visioncounter "github.com/tamnguyenvan/vision-counter"
	"github.com/tamnguyenvan/vision-counter/internal/config"
	"github.com/tamnguyenvan/vision-counter/internal/utils"
	"github.com/tamnguyenvan/vision-counter/pkg/client"
	"github.com/tamnguyenvan/vision-counter/pkg/density"
	"github.com/tamnguyenvan/vision-counter/pkg/detection"
	"github.com/tamnguyenvan/vision-counter/pkg/hub"
	"github.com/tamnguyenvan/vision-counter/pkg/llamacpp"
	"github.com/tamnguyenvan/vision-counter/pkg/ollama"
	"github.com/tamnguyenvan/vision-counter/pkg/processing"
	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

const (
	// Flags.
	flagConfig      = "config"
	flagDebug       = "debug"
	flagImage       = "image"
	flagBox         = "box"
	flagModel       = "model"
	flagCacheDir    = "cache-dir"
	flagLibrary     = "library"
	flagCUDA        = "cuda"
	flagPoolSize    = "pool-size"
	flagHeatmap     = "heatmap"
	flagPropose     = "propose"
	flagBackend     = "backend"
	flagURL         = "url"
	flagVisionModel = "vision-model"
	flagJSON        = "json"
	flagPath        = "path"
	flagForce       = "force"
)

func main() {
	var (
		logger *zap.Logger
		cfg    *config.Config
	)

	app := &cli.App{
		Name:    "vision-counter",
		Usage:   "count objects in an image from a few example boxes",
		Version: visioncounter.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = loadConfig(c.String(flagConfig))
			if err != nil {
				return err
			}
			logger, err = newLogger(cfg.Log.Level, c.Bool(flagDebug))
			return err
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "count",
				Usage:     "count objects matching the exemplar boxes",
				UsageText: "vision-counter count --image apples.jpg --box 10,20,60,70 [--box ...] [--heatmap out.png]",
				Flags: append(modelFlags(),
					&cli.StringFlag{
						Name:     flagImage,
						Aliases:  []string{"i"},
						Required: true,
						Usage:    "input image `PATH` or URL; a directory counts every image in it (requires --propose)",
					},
					&cli.StringSliceFlag{
						Name:    flagBox,
						Aliases: []string{"b"},
						Usage:   "exemplar box `x1,y1,x2,y2` in image pixels, repeatable; single images only",
					},
					&cli.StringFlag{
						Name:  flagHeatmap,
						Usage: "write a density heatmap to `FILE` (a directory when --image is one)",
					},
					&cli.StringFlag{
						Name:  flagPropose,
						Usage: "ask a vision model to find one `LABEL` instance and use it as an exemplar",
					},
					&cli.StringFlag{
						Name:  flagBackend,
						Usage: "vision backend for --propose: ollama or llamacpp",
					},
					&cli.StringFlag{
						Name:  flagURL,
						Usage: "vision backend server URL",
					},
					&cli.StringFlag{
						Name:  flagVisionModel,
						Usage: "vision model name for --propose",
					},
					&cli.BoolFlag{
						Name:  flagJSON,
						Usage: "print results as JSON",
					},
				),
				Action: func(c *cli.Context) error {
					return countAction(c, cfg, logger)
				},
			},
			{
				Name:  "fetch",
				Usage: "download the model weights into the cache",
				Flags: modelFlags(),
				Action: func(c *cli.Context) error {
					applyModelFlags(c, cfg)
					path, err := hub.NewFetcher(cfg.Model.CacheDir, logger).Resolve(c.Context, cfg.Model.Location)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, path)
					return nil
				},
			},
			{
				Name:  "config",
				Usage: "manage the configuration file",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "write the default configuration",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  flagPath,
								Value: config.GetConfigPath(),
								Usage: "destination `FILE`",
							},
							&cli.BoolFlag{
								Name:  flagForce,
								Usage: "overwrite an existing file",
							},
						},
						Action: func(c *cli.Context) error {
							path := c.String(flagPath)
							if utils.FileExists(path) && !c.Bool(flagForce) {
								return errors.Errorf("%s already exists, use --force to overwrite", path)
							}
							if err := config.Default().SaveToFile(path); err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
							return nil
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagModel,
			Aliases: []string{"m"},
			Usage:   "model weights `PATH` or URL",
		},
		&cli.StringFlag{
			Name:  flagCacheDir,
			Usage: "directory for downloaded weights",
		},
		&cli.StringFlag{
			Name:  flagLibrary,
			Usage: "onnxruntime shared library `PATH`",
		},
		&cli.BoolFlag{
			Name:  flagCUDA,
			Usage: "run on the GPU with the CUDA execution provider",
		},
		&cli.IntFlag{
			Name:  flagPoolSize,
			Usage: "number of model copies that may run concurrently",
		},
	}
}

// applyModelFlags lets explicitly set flags win over the config file
func applyModelFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet(flagModel) {
		cfg.Model.Location = c.String(flagModel)
	}
	if c.IsSet(flagCacheDir) {
		cfg.Model.CacheDir = c.String(flagCacheDir)
	}
	if c.IsSet(flagLibrary) {
		cfg.Model.LibraryPath = c.String(flagLibrary)
	}
	if c.IsSet(flagCUDA) {
		cfg.Model.UseCUDA = c.Bool(flagCUDA)
	}
	if c.IsSet(flagPoolSize) {
		cfg.Model.PoolSize = c.Int(flagPoolSize)
	}
}

func applyProposerFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet(flagBackend) {
		cfg.Proposer.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagURL) {
		cfg.Proposer.URL = c.String(flagURL)
	}
	if c.IsSet(flagVisionModel) {
		cfg.Proposer.Model = c.String(flagVisionModel)
	}
}

func countAction(c *cli.Context, cfg *config.Config, logger *zap.Logger) error {
	applyModelFlags(c, cfg)
	applyProposerFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	boxes, err := parseBoxes(c.StringSlice(flagBox))
	if err != nil {
		return err
	}

	source := c.String(flagImage)
	label := c.String(flagPropose)

	sources, batch, err := planSources(source, label, len(boxes))
	if err != nil {
		return err
	}

	var detector *detection.Detector
	if label != "" {
		vc, err := newVisionClient(cfg.Proposer)
		if err != nil {
			return err
		}
		detector = detection.NewDetector(vc)
	}

	counter, err := visioncounter.New(c.Context, visioncounter.Options{
		ModelLocation:  cfg.Model.Location,
		CacheDir:       cfg.Model.CacheDir,
		LibraryPath:    cfg.Model.LibraryPath,
		UseCUDA:        cfg.Model.UseCUDA,
		CUDADeviceID:   cfg.Model.CUDADeviceID,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		PoolSize:       cfg.Model.PoolSize,
		OutputName:     cfg.Model.OutputName,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer counter.Close()

	job := &countJob{
		counter:   counter,
		detector:  detector,
		processor: processing.NewProcessor(),
		cfg:       cfg,
		logger:    logger.Sugar(),
		label:     label,
		boxes:     boxes,
	}

	var results []types.CountResult
	for _, src := range sources {
		heatmap := c.String(flagHeatmap)
		if batch && heatmap != "" {
			heatmap = utils.GenerateOutputFilename(src, heatmap, "", "_density", cfg.Output.DefaultFormat)
		}

		res, err := job.run(c.Context, src, heatmap)
		if err != nil {
			if !batch {
				return err
			}
			job.logger.Warnw("skipping image", "image", src, "error", err)
			continue
		}
		results = append(results, *res)
	}

	if c.Bool(flagJSON) {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		if batch {
			return enc.Encode(results)
		}
		return enc.Encode(results[0])
	}
	for _, r := range results {
		if batch {
			fmt.Fprintf(c.App.Writer, "%s\t%d\n", r.Image, r.Count)
		} else {
			fmt.Fprintln(c.App.Writer, r.Count)
		}
	}
	return nil
}

type countJob struct {
	counter   *visioncounter.Counter
	detector  *detection.Detector
	processor *processing.Processor
	cfg       *config.Config
	logger    *zap.SugaredLogger
	label     string
	boxes     []types.ExemplarBox
}

func (j *countJob) run(ctx context.Context, source, heatmap string) (*types.CountResult, error) {
	img, err := j.processor.LoadImageSmart(ctx, source)
	if err != nil {
		return nil, err
	}

	boxes := append([]types.ExemplarBox(nil), j.boxes...)
	if j.detector != nil {
		box, err := j.propose(ctx, img)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
	}

	res, err := j.counter.Estimate(ctx, img, boxes)
	if err != nil {
		return nil, err
	}

	if heatmap != "" {
		if err := j.saveHeatmap(img, res.Density, res.Rects, heatmap); err != nil {
			return nil, err
		}
	}

	return &types.CountResult{
		Image:      source,
		Count:      res.Count,
		RawCount:   res.RawCount,
		Correction: res.Correction,
		Corrected:  res.Corrected,
		Exemplars:  boxes,
		Windows:    len(res.Windows),
	}, nil
}

func (j *countJob) propose(ctx context.Context, img image.Image) (types.ExemplarBox, error) {
	p := j.cfg.Proposer
	imgB64, err := j.processor.PrepareImageForModel(img, "jpg", p.MaxDim, p.Quality)
	if err != nil {
		return types.ExemplarBox{}, err
	}

	b := img.Bounds()
	box, err := j.detector.ProposeExemplar(ctx, p.Model, imgB64, j.label, b.Dx(), b.Dy())
	if err != nil {
		return types.ExemplarBox{}, errors.Wrapf(err, "proposing %q exemplar", j.label)
	}
	j.logger.Infow("proposed exemplar", "label", j.label, "box", box.String())
	return box, nil
}

func (j *countJob) saveHeatmap(img image.Image, dm *density.Map, rects []types.Rect, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := utils.EnsureDir(dir); err != nil {
			return err
		}
	}

	format := utils.GetFileExtension(path)
	if format == "" {
		format = j.cfg.Output.DefaultFormat
		path += "." + format
	}

	overlay := processing.RenderDensityOverlay(img, dm, rects)
	if err := j.processor.SaveImage(overlay, path, format, j.cfg.Output.Quality, j.cfg.Output.Lossless); err != nil {
		return errors.Wrapf(err, "writing heatmap %s", path)
	}
	j.logger.Infow("wrote heatmap", "path", path)
	return nil
}

// planSources expands a directory into its images. Pixel boxes belong to a
// single image, so a directory takes --propose and no --box.
func planSources(source, label string, numBoxes int) ([]string, bool, error) {
	if !utils.DirExists(source) {
		if label == "" && numBoxes == 0 {
			return nil, false, errors.New("provide at least one --box or --propose LABEL")
		}
		return []string{source}, false, nil
	}

	if label == "" {
		return nil, true, errors.New("counting a directory needs --propose: exemplar boxes are per image")
	}
	if numBoxes > 0 {
		return nil, true, errors.New("--box cannot be used with a directory: pixel boxes are per image")
	}

	sources, err := utils.ListImageFiles(source)
	if err != nil {
		return nil, true, err
	}
	if len(sources) == 0 {
		return nil, true, errors.Errorf("no images found in %s", source)
	}
	return sources, true, nil
}

func newVisionClient(p config.ProposerConfig) (client.VisionClient, error) {
	switch p.Backend {
	case "ollama":
		return ollama.NewClient(p.URL)
	case "llamacpp":
		return llamacpp.NewClient(p.URL)
	default:
		return nil, errors.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", p.Backend)
	}
}

// loadConfig reads path, or the default config file when it exists
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
		if !utils.FileExists(path) {
			return config.Default(), nil
		}
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func newLogger(level string, debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
