package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/starford/perthro/internal"
	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/archive"
	"github.com/starford/perthro/internal/artifacts"
	"github.com/starford/perthro/internal/backup"
	"github.com/starford/perthro/internal/catalog"
	"github.com/starford/perthro/internal/extract"
	"github.com/starford/perthro/internal/filter"
	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/mcpserver"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/photos"
	"github.com/starford/perthro/internal/pipeline"
	"github.com/starford/perthro/internal/reconcile"
	"github.com/starford/perthro/internal/storage"
	pkgconfig "github.com/starford/perthro/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// setup loads the configuration and installs the JSON logger.
func setup(cmd *cli.Command) (*internal.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := internal.NewLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// withLedger opens the ledger and builds a pipeline for one command.
func withLedger(cmd *cli.Command, fn func(*internal.Config, *ledger.DB, *pipeline.Service) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	db, err := internal.OpenLedger(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	p, err := internal.NewPipeline(cfg, db, logger, nil)
	if err != nil {
		return err
	}
	return fn(cfg, db, p)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArgs(cmd *cli.Command, n int, usage string) error {
	if cmd.NArg() < n {
		return fmt.Errorf("usage: %s %s", cmd.Name, usage)
	}
	return nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithLogger(logger)); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Run a full case: extract and parse artifacts, then extract and reconcile labeled photos",
		ArgsUsage: "<backup dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Scene label selecting photos (see 'photos --labels')"},
			&cli.IntFlag{Name: "min-confidence", Value: -1, Usage: "Confidence threshold, exclusive (default from config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<backup dir>"); err != nil {
				return err
			}
			return withLedger(cmd, func(_ *internal.Config, _ *ledger.DB, p *pipeline.Service) error {
				ctx, cancel := signalContext(ctx)
				defer cancel()

				req := pipeline.Request{Container: cmd.Args().First(), Label: cmd.String("label")}
				if c := int(cmd.Int("min-confidence")); c >= 0 {
					req.MinConfidence = &c
				}
				sum, err := p.Run(ctx, req)
				if sum != nil {
					if perr := printJSON(os.Stdout, sum); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

// parseIdentity accepts a 40-hex file ID or "Domain:relative/path".
func parseIdentity(s string) (models.Identity, error) {
	if address.IsFileID(s) {
		return models.FileIdentity(s, ""), nil
	}
	domain, rel, ok := strings.Cut(s, ":")
	if !ok || domain == "" || rel == "" {
		return models.Identity{}, fmt.Errorf("identity %q: want a file ID or Domain:relative/path", s)
	}
	return models.PathIdentity(domain, rel), nil
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract individual files from a backup",
		ArgsUsage: "<backup dir> <output dir> <file ID | Domain:path>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "catalog", Usage: "Extract the whole artifact catalog"},
			&cli.StringSliceFlag{Name: "strategy", Usage: "Strategies to try (standard, direct_hash, manifest_query)"},
			&cli.IntFlag{Name: "workers", Usage: "Concurrent extractions (default from config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 2, "<backup dir> <output dir> <identity>..."); err != nil {
				return err
			}
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			args := cmd.Args().Slice()

			var ids []models.Identity
			if cmd.Bool("catalog") {
				ids = catalog.Identities()
			}
			for _, a := range args[2:] {
				id, err := parseIdentity(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			names := cmd.StringSlice("strategy")
			if len(names) == 0 {
				names = cfg.Extraction.Strategies
			}
			strategies, err := extract.ParseStrategies(names)
			if err != nil {
				return err
			}
			workers := cfg.Extraction.Workers
			if w := int(cmd.Int("workers")); w > 0 {
				workers = w
			}

			c, err := backup.Open(args[0], backup.WithLogger(logger))
			if err != nil {
				return err
			}
			out, err := storage.Create(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(ctx)
			defer cancel()

			results, err := extract.New(c, out,
				extract.WithWorkers(workers),
				extract.WithStrategies(strategies...),
				extract.WithLogger(logger),
			).Run(ctx, ids)
			if perr := printJSON(os.Stdout, map[string]any{
				"results": results,
				"totals":  extract.Summary(results),
			}); perr != nil {
				return perr
			}
			return err
		},
	}
}

func photosCommand() *cli.Command {
	return &cli.Command{
		Name:      "photos",
		Usage:     "Query a Photos.sqlite for scene classifications",
		ArgsUsage: "<Photos.sqlite>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Keep records with this label only"},
			&cli.IntFlag{Name: "min-confidence", Value: filter.DefaultMinConfidence, Usage: "Confidence threshold, exclusive"},
			&cli.BoolFlag{Name: "labels", Usage: "List the labels present in the library"},
			&cli.BoolFlag{Name: "csv", Usage: "Write the classification table as CSV"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<Photos.sqlite>"); err != nil {
				return err
			}
			if _, _, err := setup(cmd); err != nil {
				return err
			}
			path := cmd.Args().First()

			if cmd.Bool("csv") {
				t, err := artifacts.Parse(ctx, models.KindPhotos, path)
				if err != nil {
					return err
				}
				return t.WriteCSV(os.Stdout)
			}

			records, err := photos.Query(ctx, path)
			if err != nil {
				return err
			}
			if cmd.Bool("labels") {
				return printJSON(os.Stdout, filter.Labels(records))
			}
			if label := cmd.String("label"); label != "" {
				records = filter.Filter(records, label, int(cmd.Int("min-confidence")))
			}
			return printJSON(os.Stdout, records)
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:      "reconcile",
		Usage:     "Re-check which requested photos of a run are present",
		ArgsUsage: "<run ID>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Keep reconciling while the photo directory changes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<run ID>"); err != nil {
				return err
			}
			id := cmd.Args().First()
			return withLedger(cmd, func(_ *internal.Config, db *ledger.DB, p *pipeline.Service) error {
				if !cmd.Bool("watch") {
					report, err := p.Reconcile(ctx, id)
					if err != nil {
						return err
					}
					fmt.Println(pipeline.Describe(report))
					return nil
				}

				run, err := db.GetRun(id)
				if err != nil {
					return err
				}
				records, err := db.Requested(id)
				if err != nil {
					return err
				}
				ctx, cancel := signalContext(ctx)
				defer cancel()
				return reconcile.Watch(ctx, p.PhotoDir(*run), records, slog.Default(), func(r *reconcile.Report) {
					if err := db.RecordRecovery(id, r.Statuses); err != nil {
						slog.Error("record recovery", slog.String("error", err.Error()))
					}
					fmt.Println(pipeline.Describe(r))
				})
			})
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Describe a backup: layout, encryption and device",
		ArgsUsage: "<backup dir>",
		Action: func(_ context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<backup dir>"); err != nil {
				return err
			}
			c, err := backup.Open(cmd.Args().First())
			if err != nil {
				return err
			}
			device, err := c.DeviceInfo()
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, map[string]any{
				"layout":     c.Layout().String(),
				"encrypted":  c.Encrypted(),
				"descriptor": c.Descriptor(),
				"device":     device,
			})
		},
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:      "runs",
		Usage:     "List recorded runs, or show one",
		ArgsUsage: "[run ID]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "Page size"},
			&cli.IntFlag{Name: "offset", Usage: "Page offset"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			return withLedger(cmd, func(_ *internal.Config, db *ledger.DB, _ *pipeline.Service) error {
				if id := cmd.Args().First(); id != "" {
					run, err := db.GetRun(id)
					if err != nil {
						return err
					}
					recovery, err := db.Recovery(id)
					if err != nil {
						return err
					}
					return printJSON(os.Stdout, map[string]any{"run": run, "recovery": recovery})
				}
				runs, total, err := db.ListRuns(int(cmd.Int("limit")), int(cmd.Int("offset")))
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, map[string]any{"runs": runs, "total": total})
			})
		},
	}
}

func catalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "List the artifact catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Usage: "Only list artifacts of this kind"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if kind := cmd.String("kind"); kind != "" {
				return printJSON(os.Stdout, catalog.ByKind(models.ArtifactKind(kind)))
			}
			return printJSON(os.Stdout, catalog.All())
		},
	}
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:      "address",
		Usage:     "Print the content address of a logical path",
		ArgsUsage: "<domain> <relative path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "photo", Usage: "Treat the single argument as a path below the camera roll Media/ directory"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			var (
				id  string
				err error
			)
			if cmd.Bool("photo") {
				if err := requireArgs(cmd, 1, "--photo <path below Media/>"); err != nil {
					return err
				}
				id, err = address.PhotoAddress(cmd.Args().First())
			} else {
				if err := requireArgs(cmd, 2, "<domain> <relative path>"); err != nil {
					return err
				}
				id, err = address.Address(cmd.Args().Get(0), cmd.Args().Get(1))
			}
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "Pack the output of a run into a zip archive",
		ArgsUsage: "<run ID>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<run ID>"); err != nil {
				return err
			}
			return withLedger(cmd, func(_ *internal.Config, _ *ledger.DB, p *pipeline.Service) error {
				path, d, err := p.Archive(ctx, cmd.Args().First())
				if errors.Is(err, apperr.ErrNotFound) {
					return fmt.Errorf("run %s not found or has no output", cmd.Args().First())
				}
				if err != nil {
					return err
				}
				entries, err := archive.List(path)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, map[string]any{"path": path, "checksum": d, "entries": entries})
			})
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the MCP tools on stdin/stdout",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol; log to stderr.
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
			slog.SetDefault(logger)

			db, err := internal.OpenLedger(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			p, err := internal.NewPipeline(cfg, db, logger, nil)
			if err != nil {
				return err
			}
			return mcpserver.New(db, p).ServeStdio()
		},
	}
}
