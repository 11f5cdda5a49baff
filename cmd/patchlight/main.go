// Copyright (C) 2024 The Patchlight Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"
	"github.com/snrlab/patchlight/internal/config"
	"github.com/snrlab/patchlight/internal/ops"
	"github.com/snrlab/patchlight/internal/pairs"
	"github.com/snrlab/patchlight/internal/patch"
	"github.com/snrlab/patchlight/internal/rest"
)

const version = "0.1.2"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var conf     = flag.String("config", "patchlight.yaml", "load settings from YAML `file`; missing file uses defaults")
var out      = flag.String("out", "", "save patch set NPZ to `file`, replacing an existing file")
var logF     = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var previews = flag.String("previews", "", "save 16-bit TIFF previews of normalized pairs to `dir`")

var base     = flag.String("base", "", "base `dir` holding the source and target subdirectories")
var sources  = flag.String("sources", "", "comma-separated source subdirectories with degraded inputs, e.g. low1,low2")
var target   = flag.String("target", "", "target subdirectory with clean counterparts, matched by file name")
var axes     = flag.String("axes", "", "semantic axis string of the images, e.g. YX")

var patchSize  = flag.String("patch", "", "spatial patch size, X first, e.g. 128x128")
var perImage   = flag.Int64("n", 0, "number of patches to draw from each pair")
var threshold  = flag.Float64("threshold", -1, "relative foreground threshold in [0,1]; 0 accepts every window")
var autoSigmas = flag.Float64("autoSigmas", -1, "derive the foreground threshold from a background fit, as multiple of standard deviations; 0=off")
var attempts   = flag.Int64("attempts", 0, "draw budget per accepted patch")
var seed       = flag.Int64("seed", -1, "base seed for reproducible sampling")

var percLow  = flag.Float64("percLow", -1, "lower normalization anchor percentile")
var percHigh = flag.Float64("percHigh", -1, "upper normalization anchor percentile")
var clip     = flag.Bool("clip", false, "clamp normalized intensities to [0,1]")

var threads = flag.Int64("threads", 0, "number of pairs to process concurrently, 0=all cores")

var port   = flag.Int64("port", 8080, "port to serve the REST API on")
var chroot = flag.String("chroot", "", "serve from chroot jail `dir` (requires root)")
var setuid = flag.Int64("setuid", -1, "switch to given user id after opening the port, -1=no switch")

func main() {
	logWriter:=logTee
	start:=time.Now()
	flag.Usage=func(){
 	    fmt.Fprintf(logWriter, `Patchlight Copyright (c) 2024 The Patchlight Authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (extract|scan|serve|legal|version|help)

Commands:
  extract Sample patch pairs from matched image directories and write an NPZ training set
  scan    List the image pairs found in matched image directories
  serve   Offer a RESTful JSON API on the given port
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err:=config.LoadConfig(*conf)
	if err!=nil { logFatalf("Error loading config: %s\n", err.Error()) }
	applyFlags(cfg)

	// Initialize logging to file in addition to stdout, if selected
	if *logF=="%auto" {
		if cfg.Output.FileName!="" {
			*logF=strings.TrimSuffix(cfg.Output.FileName, filepath.Ext(cfg.Output.FileName))+".log"
		} else {
			*logF=""
		}
	}
	if *logF!="" {
		if err:=logWriter.AlsoToFile(*logF); err!=nil {
			logFatalf("Unable to open logfile '%s'\n", *logF)
		}
	}

	// Enable CPU profiling if flagged
    if *cpuprofile != "" {
        f, err := os.Create(*cpuprofile)
        if err != nil {
            logFatalf("Could not create CPU profile: %s\n", err.Error())
        }
        defer f.Close()
        if err := pprof.StartCPUProfile(f); err != nil {
            logFatalf("Could not start CPU profile: %s\n", err.Error())
        }
        defer pprof.StopCPUProfile()
    }

    args:=flag.Args()
    if len(args)<1 {
    	flag.Usage()
    	return
    }

    switch args[0] {
    case "extract":
    	err=cmdExtract(cfg)

    case "scan":
    	err=cmdScan(cfg)

    case "serve":
    	if err=rest.MakeSandbox(*chroot, int(*setuid)); err==nil {
    		rest.Serve(int(*port))
    	}

    case "legal":
    	cmdLegal()

    case "version":
    	fmt.Fprintf(logWriter, "Version %s\n", version)

    case "help", "?":
    	flag.Usage()

    default:
    	fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
    	flag.Usage()
    	return
    }

	now:=time.Now()
	elapsed:=now.Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
    if *memprofile != "" {
        f, err := os.Create(*memprofile)
        if err != nil {
            logFatalf("Could not create memory profile: %s\n", err.Error())
        }
        defer f.Close()
        runtime.GC() // get up-to-date statistics
        if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
            logFatalf("Could not write allocation profile: %s\n", err.Error())
        }
    }

    if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		logWriter.Sync()
		os.Exit(-1)
	}
    logWriter.Sync()
}

// Overrides config entries with explicitly given command line flags
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":        cfg.Output.FileName=*out
		case "previews":   cfg.Output.PreviewDir=*previews
		case "base":       cfg.Pairs.BaseDir=*base
		case "sources":    cfg.Pairs.SourceDirs=strings.Split(*sources, ",")
		case "target":     cfg.Pairs.TargetDir=*target
		case "axes":       cfg.Pairs.Axes=*axes
		case "patch":
			size, err:=parsePatchSize(*patchSize)
			if err!=nil { logFatalf("Invalid -patch value '%s': %s\n", *patchSize, err.Error()) }
			cfg.Sampling.PatchSize=size
		case "n":          cfg.Sampling.PatchesPerImage=int(*perImage)
		case "threshold":  cfg.Sampling.ForegroundThreshold=float32(*threshold)
		case "autoSigmas": cfg.Sampling.AutoSigmas=float32(*autoSigmas)
		case "attempts":   cfg.Sampling.MaxAttempts=int(*attempts)
		case "seed":       cfg.Sampling.Seed=uint32(*seed)
		case "percLow":    cfg.Normalization.PercentileLow=float32(*percLow)
		case "percHigh":   cfg.Normalization.PercentileHigh=float32(*percHigh)
		case "clip":       cfg.Normalization.Clip=*clip
		case "threads":    cfg.MaxThreads=int(*threads)
		}
	})
}

// Parses a spatial patch size given as dimensions separated by x or comma, X first
func parsePatchSize(s string) (size []int32, err error) {
	for _, part:=range strings.FieldsFunc(s, func(r rune) bool { return r=='x' || r==',' }) {
		d, err:=strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err!=nil { return nil, err }
		size=append(size, int32(d))
	}
	if len(size)==0 { return nil, fmt.Errorf("no dimensions given") }
	return size, nil
}

// Builds the extraction operator tree from the given configuration
func newOpExtract(cfg *config.Config) *ops.OpExtract {
	sampler:=patch.NewSampler(cfg.Sampling.PatchSize, cfg.Sampling.PatchesPerImage,
		cfg.Sampling.ForegroundThreshold, cfg.Sampling.MaxAttempts, cfg.Sampling.Seed)
	sampler.AutoSigmas=cfg.Sampling.AutoSigmas

	op:=ops.NewOpExtract(
		ops.NewOpScanPairs(cfg.Pairs.BaseDir, cfg.Pairs.SourceDirs, cfg.Pairs.TargetDir, cfg.Pairs.Axes),
		ops.NewOpSavePreviews(cfg.Output.PreviewDir),
		ops.NewOpSamplePatches(sampler),
		ops.NewOpWriteSet(cfg.Output.FileName),
	)
	op.Normalize=ops.NewOpNormalize(patch.NewNormalizer(
		cfg.Normalization.PercentileLow, cfg.Normalization.PercentileHigh, cfg.Normalization.Clip))
	return op
}

// Runs a full patch extraction per the given configuration
func cmdExtract(cfg *config.Config) error {
	if err:=cfg.Validate(); err!=nil { return err }

	op:=newOpExtract(cfg)
	m, err:=json.MarshalIndent(op, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logTee, "Extracting with these settings:\n%s\n\n", string(m))

	c:=ops.NewContext(logTee)
	if cfg.MaxThreads>0 { c.MaxThreads=cfg.MaxThreads }
	_, err=op.MakePromises(nil, c)
	return err
}

// Lists the image pairs the configured directories would yield
func cmdScan(cfg *config.Config) error {
	ps, err:=pairs.Scan(cfg.Pairs.BaseDir, cfg.Pairs.SourceDirs, cfg.Pairs.TargetDir, cfg.Pairs.Axes)
	if err!=nil { return err }
	for _, p:=range ps {
		fmt.Fprintf(logTee, "%d: %s -> %s\n", p.ID, p.InputFile, p.TargetFile)
	}
	fmt.Fprintf(logTee, "Found %d image pairs.\n", len(ps))
	return nil
}
