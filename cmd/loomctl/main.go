// Command loomctl drives a loom snapshot engine from the command line: it
// brings a loom live over a checkpoint directory using the watermarks given
// on the command line, then optionally relaxes the whole loom to
// read-write, saves, and copies the images to another directory. It does
// not touch any loom pages itself. It exists to
// exercise the engine end-to-end the way the teacher's cmd/server/main.go
// exercises the SQL engine over a TCP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/midlyx-hatrys/loom/internal/loom"
	"github.com/midlyx-hatrys/loom/internal/loomcfg"
	"github.com/midlyx-hatrys/loom/internal/snapshot"
)

func main() {
	var (
		cfgPath string
		north   uint
		south   uint
		doSave  bool
		doYolo  bool
		copyDir string
	)
	flag.StringVar(&cfgPath, "config", "loom.yaml", "Path to loom yaml config")
	flag.UintVar(&north, "north", 0, "North watermark in words, for this run only")
	flag.UintVar(&south, "south", 0, "South watermark in words, for this run only")
	flag.BoolVar(&doSave, "save", false, "Save after bringing the loom live")
	flag.BoolVar(&doYolo, "yolo", false, "Relax the whole loom to read-write before saving")
	flag.StringVar(&copyDir, "copy-to", "", "Copy the resulting images to this directory")
	flag.Parse()

	cfg, err := loomcfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &loom.StaticRoad{
		Orient: loom.North,
		North_: uint32(north),
		South_: uint32(south),
	}, doSave, doYolo, copyDir); err != nil {
		log.Fatalf("loomctl: %v", err)
	}
}

func run(ctx context.Context, cfg *loomcfg.LoomConfig, road loom.Road, doSave, doYolo bool, copyDir string) error {
	logger := log.New(os.Stderr, "loomctl: ", log.LstdFlags)

	bail := osBailer{logger: logger}
	eng, err := snapshot.New(cfg, road, logger, bail)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() { _ = eng.Close() }()

	logicalBoot, err := eng.Live()
	if err != nil {
		return fmt.Errorf("live: %w", err)
	}
	if logicalBoot {
		logger.Printf("logical boot: no prior snapshot under %s", cfg.Snapshot.Root)
	} else {
		logger.Printf("resumed snapshot under %s", cfg.Snapshot.Root)
	}

	select {
	case <-ctx.Done():
		return nil
	default:
	}

	if doYolo {
		if err := eng.Yolo(); err != nil {
			return fmt.Errorf("yolo: %w", err)
		}
	}

	if doSave {
		if err := eng.Save(); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		logger.Printf("save complete")
	}

	if copyDir != "" {
		if err := eng.Copy(copyDir); err != nil {
			return fmt.Errorf("copy to %s: %w", copyDir, err)
		}
		logger.Printf("copied snapshot to %s", copyDir)
	}

	return nil
}

// osBailer terminates the process on guard exhaustion, the CLI's stand-in
// for a host runtime's own crash path (spec.md §7, "guard exhaustion").
type osBailer struct {
	logger *log.Logger
}

func (b osBailer) Bail(reason string) {
	b.logger.Fatalf("guard exhausted: %s", reason)
}
