package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ksco/machold/pkg/linker"
	"github.com/ksco/machold/pkg/utils"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "machold [inputs...]",
		Short:         "ingest and index Mach-O link inputs",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
	}

	cfg := newIngestConfig()
	cfg.bindFlags(rootCommand.Flags())
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		return nil
	}
	rootCommand.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.loadConfigFile(); err != nil {
			return err
		}
		opts, err := cfg.toOptions(args)
		if err != nil {
			return err
		}
		return runIngest(cmd.Context(), opts)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		// utils.Die is cmd/machold's own exit path; library code (pkg/linker,
		// pkg/utils) always returns or panics *utils.FatalError instead, so
		// callers can recover it (see ParserPool.spawnWorker).
		utils.Die(err.Error())
	}
}

func runIngest(ctx context.Context, opts linker.Options) error {
	orch, err := linker.New(ctx, opts)
	if err != nil {
		return err
	}

	var files []linker.File
	handler := linker.AtomHandlerFuncs{
		FileFunc: func(f linker.File) { files = append(files, f) },
	}
	if err := orch.ForEachInitialAtom(ctx, handler); err != nil {
		return err
	}
	if err := orch.Wait(); err != nil {
		return err
	}

	dylibs, err := orch.Dylibs()
	if err != nil {
		return err
	}

	printDependencyDump(files, dylibs, orch)
	return nil
}
