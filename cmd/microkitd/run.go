package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikemospan/linux-microkit/loader"
	"github.com/mikemospan/linux-microkit/registry"
	"github.com/mikemospan/linux-microkit/shared/logger"
	"github.com/mikemospan/linux-microkit/sysdesc"
)

type cmdRun struct {
	global *cmdGlobal
}

func newRunCommand(global *cmdGlobal) *cobra.Command {
	c := &cmdRun{global: global}

	cmd := &cobra.Command{
		Use:   "run <system.yaml>",
		Short: "Load a system description and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}

	return cmd
}

func (c *cmdRun) run(cmd *cobra.Command, args []string) error {
	descPath := args[0]

	desc, err := sysdesc.Load(descPath)
	if err != nil {
		return err
	}

	reg := registry.New()
	if err := loader.Load(reg, desc); err != nil {
		return fmt.Errorf("loading system description: %w", err)
	}

	defer func() {
		if err := reg.Teardown(); err != nil {
			logger.Warn("teardown reported errors", logger.Ctx{"error": err.Error()})
		}
	}()

	sup := loader.NewSupervisor(reg)
	if err := sup.SpawnAll(); err != nil {
		return err
	}

	logger.Info("system started", logger.Ctx{"description": descPath, "pds": len(reg.PDs()), "run_id": sup.RunID})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- sup.Wait() }()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, stopping system", logger.Ctx{"signal": sig.String()})
		sup.Signal(syscall.SIGTERM)
		<-done
	case err := <-done:
		if err != nil {
			return fmt.Errorf("system exited with error: %w", err)
		}
	}

	return nil
}
