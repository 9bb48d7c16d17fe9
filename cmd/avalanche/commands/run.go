/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: run.go
Description: "run" command implementation: builds an engine.Config and
initial Input from CLI flags, wires an optional coordinator client and
agent seed source, and drives the exploration loop to completion or
SIGINT, finishing with the shutdown report and artefact cleanup.
*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kleascm/avalanche-driver/pkg/buffer"
	"github.com/kleascm/avalanche-driver/pkg/coordinator"
	"github.com/kleascm/avalanche-driver/pkg/engine"
	"github.com/kleascm/avalanche-driver/pkg/logging"
	"github.com/kleascm/avalanche-driver/pkg/model"
	"github.com/kleascm/avalanche-driver/pkg/report"
)

// RunExplore drives one exploration run end to end.
func RunExplore(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg, err := buildEngineConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	logger, err := SetupLogging()
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logManager := logging.NewLogManager(filepath.Join(cfg.WorkDir, "logs"), 10, 100*1024*1024, false)
	defer func() {
		logger.Close()
		if err := logManager.CleanupOldLogs(); err != nil {
			fmt.Fprintf(os.Stderr, "log cleanup: %v\n", err)
		}
	}()

	initial, err := buildInitialInput(fs, cfg)
	if err != nil {
		return fmt.Errorf("build initial input: %w", err)
	}

	eng := engine.New(cfg, fs, logger, initial)

	// A lost coordinator must surface as a read error on the next poll,
	// not kill the process.
	signal.Ignore(syscall.SIGPIPE)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Distributed {
		addr := fmt.Sprintf("%s:%d", cfg.DistHost, cfg.DistPort)
		client, derr := coordinator.Dial(ctx, addr, logger.GetLogger())
		if derr != nil {
			logger.Warning("avalanche: coordinator dial failed, continuing local-only",
				map[string]interface{}{"error": derr.Error()})
		} else {
			eng.SetCoordinator(client)
			defer client.Close()
			logger.Info("avalanche: joined distribution coordinator",
				map[string]interface{}{"agents": client.Agents()})
		}
	}

	if cfg.Agent {
		eng.SetSeedSource(engine.NewSignalSeedSource(fs, cfg.WorkDir, os.Getppid()))
	}

	started := time.Now()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	go func() {
		<-sigChan
		logger.Warning("avalanche: SIGINT received, finishing current iteration and shutting down", nil)
		eng.Kill()
		cancel()
	}()

	runErr := eng.Run(ctx)

	if err := eng.DumpSeed(); err != nil {
		logger.Warning("avalanche: failed to dump seed input",
			map[string]interface{}{"error": err.Error()})
	}

	elapsed := time.Since(started).Seconds()
	perSec := 0.0
	if elapsed > 0 {
		perSec = float64(eng.Iterations()) / elapsed
	}
	logger.LogStats(int64(eng.Iterations()), int64(eng.Crashes().Len()),
		int64(eng.Coverage().Len()), perSec, nil)

	reportDir := filepath.Join(cfg.WorkDir, "report")
	summaryPath, rerr := report.Write(fs, reportDir, time.Now(), eng.Iterations(), eng.Coverage().Len(), eng.Crashes())
	if rerr != nil {
		logger.Warning("avalanche: failed to write shutdown report",
			map[string]interface{}{"error": rerr.Error()})
	} else {
		logger.Info("avalanche: wrote shutdown report",
			map[string]interface{}{"path": summaryPath})
	}

	if reportLog := viper.GetString("report-log"); reportLog != "" && rerr == nil {
		if cerr := copyFile(fs, summaryPath, reportLog); cerr != nil {
			logger.Warning("avalanche: failed to write report log",
				map[string]interface{}{"error": cerr.Error()})
		}
	}

	eng.CleanupArtefacts()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("exploration run failed: %w", runErr)
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, dst, data, 0o644)
}

// buildEngineConfig translates bound viper flags into an engine.Config.
func buildEngineConfig() (engine.Config, error) {
	mode := model.ModeFiles
	switch viper.GetString("mode") {
	case "sockets":
		mode = model.ModeSockets
	case "datagrams":
		mode = model.ModeDatagrams
	case "", "files":
		mode = model.ModeFiles
	default:
		return engine.Config{}, fmt.Errorf("unknown --mode %q", viper.GetString("mode"))
	}

	cfg := engine.Config{
		TargetArgv:       append([]string{viper.GetString("target")}, viper.GetStringSlice("args")...),
		Mode:             mode,
		TracerBinary:     viper.GetString("tracer"),
		CheckerBinary:    viper.GetString("checker"),
		SolverBinary:     viper.GetString("solver"),
		InvertDepth:      uint32(viper.GetInt("invert-depth")),
		StartDepth:       uint32(viper.GetInt("start-depth")),
		CheckPrediction:  viper.GetBool("check-prediction"),
		TracerTimeout:    viper.GetDuration("tracer-timeout"),
		CheckerTimeout:   viper.GetDuration("checker-timeout"),
		SolverTimeout:    viper.GetDuration("solver-timeout"),
		StpThreads:       viper.GetInt("threads"),
		Memcheck:         viper.GetBool("memcheck"),
		Leaks:            viper.GetBool("leaks"),
		CheckDanger:      viper.GetBool("check-danger"),
		SuppressSubcalls: viper.GetBool("suppress-subcalls"),
		TraceChildren:    viper.GetBool("trace-children"),
		Host:             viper.GetString("host"),
		Port:             viper.GetInt("port"),
		FuncNames:        viper.GetStringSlice("func-name"),
		FuncFilterFile:   viper.GetString("func-filter-file"),
		MaskFile:         viper.GetString("mask-file"),
		Distributed:      viper.GetBool("distributed"),
		DistHost:         viper.GetString("dist-host"),
		DistPort:         viper.GetInt("dist-port"),
		ProtectMainAgent: viper.GetBool("protect-main-agent"),
		Agents:           viper.GetInt("agents"),
		Agent:            viper.GetBool("agent"),
		WorkDir:          viper.GetString("work-dir"),
		Debug:            viper.GetBool("debug"),
		Verbose:          viper.GetBool("verbose"),
	}
	if cfg.TargetArgv[0] == "" {
		return engine.Config{}, fmt.Errorf("--target is required")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "./avalanche_work"
	}
	return cfg, nil
}

// buildInitialInput reads the seed files named by --file (repeatable) and
// builds the root Input. File targets keep their on-disk names; network
// targets get stable message-index names instead.
func buildInitialInput(fs afero.Fs, cfg engine.Config) (*model.Input, error) {
	files := viper.GetStringSlice("file")
	if len(files) == 0 {
		return nil, fmt.Errorf("at least one --file seed is required")
	}
	blobs := make([]model.Blob, len(files))
	for i, path := range files {
		name := filepath.Base(path)
		if cfg.Mode != model.ModeFiles {
			name = buffer.SocketName(i)
		}
		fb, err := buffer.Load(fs, name, path)
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", path, err)
		}
		blobs[i] = model.Blob{Name: fb.Name, Data: fb.Data}
	}
	return model.NewRoot(blobs, cfg.Mode, cfg.StartDepth), nil
}
