// Package main is the multialign command: it registers point cloud files onto the first one and
// prints one row-major 4x4 transform per input file.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/multialign/config"
	"go.viam.com/multialign/logging"
	"go.viam.com/multialign/multialign"
	"go.viam.com/multialign/pointcloud"
)

const (
	flagConfig          = "config"
	flagExtendReference = "extend-reference"
	flagDebug           = "debug"
	flagAlignedDir      = "aligned-dir"
	flagSummary         = "summary"
	flagICPOnly         = "icp-only"
	flagMaxICPIter      = "max-icp-iterations"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "multialign",
		Usage:     "align point clouds onto the first one",
		ArgsUsage: "VOXEL FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load registration parameters from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagExtendReference,
				Usage: "merge each aligned cloud into the reference before aligning the next",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagSummary,
				Usage: "print a per cloud table of registration results to stderr",
			},
			&cli.BoolFlag{
				Name:  flagICPOnly,
				Usage: "skip global registration and refine every cloud starting from the identity",
			},
			&cli.IntFlag{
				Name:  flagMaxICPIter,
				Usage: "cap local refinement at `N` iterations",
			},
			&cli.StringFlag{
				Name:  flagAlignedDir,
				Usage: "write every cloud, transformed into the reference frame, to `DIR`",
			},
		},
		Writer:    out,
		ErrWriter: os.Stderr,
		Action: func(c *cli.Context) error {
			return run(c, out)
		},
	}
}

func run(c *cli.Context, out io.Writer) error {
	if c.NArg() < 2 {
		return errors.New("usage: multialign [options] VOXEL FILE...")
	}
	voxel, err := strconv.ParseFloat(c.Args().First(), 64)
	if err != nil {
		return errors.Wrapf(err, "invalid voxel size %q", c.Args().First())
	}

	cfg := config.Default(voxel)
	if path := c.String(flagConfig); path != "" {
		fromFile, err := config.ReadWithDefaults(path, cfg)
		if err != nil {
			return err
		}
		cfg = *fromFile
		cfg.VoxelSize = voxel
	}
	if c.Bool(flagExtendReference) {
		cfg.ExtendReference = true
	}
	if c.Bool(flagICPOnly) {
		cfg.GlobalRegistration = false
	}
	if c.IsSet(flagMaxICPIter) {
		cfg.MaxICPIterations = c.Int(flagMaxICPIter)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var logger logging.Logger
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("multialign")
	} else {
		logger = logging.NewLogger("multialign")
		logger.SetLevel(cfg.Level())
	}

	files := c.Args().Slice()[1:]
	clouds := make([]*pointcloud.PointCloud, len(files))
	for i, fn := range files {
		clouds[i], err = pointcloud.NewFromFile(fn, logger)
		if err != nil {
			return errors.Wrapf(err, "reading %s", fn)
		}
	}

	orchestrator, err := multialign.NewOrchestrator(cfg.Config, cfg.Options, logger)
	if err != nil {
		return err
	}
	report, err := orchestrator.Align(c.Context, clouds)
	if err != nil {
		return err
	}
	for i, cr := range report.Clouds {
		if cr.Err != nil {
			logger.Warnw("using identity for cloud that failed to align", "file", files[i], "error", cr.Err)
		}
	}

	if c.Bool(flagSummary) {
		if _, err := fmt.Fprintln(c.App.ErrWriter, report.String()); err != nil {
			return err
		}
	}

	lines := make([]string, len(report.Transforms))
	for i, t := range report.Transforms {
		lines[i] = t.String()
	}
	if _, err := fmt.Fprintln(out, strings.Join(lines, "\n")); err != nil {
		return err
	}

	if dir := c.String(flagAlignedDir); dir != "" {
		for i, fn := range files {
			name := strings.TrimSuffix(filepath.Base(fn), filepath.Ext(fn)) + ".aligned.pcd"
			if err := pointcloud.WriteToFile(clouds[i].Transform(report.Transforms[i]), filepath.Join(dir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}
