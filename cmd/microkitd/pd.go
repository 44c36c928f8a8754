package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikemospan/linux-microkit/binder"
	"github.com/mikemospan/linux-microkit/eventloop"
	"github.com/mikemospan/linux-microkit/loader"
	"github.com/mikemospan/linux-microkit/microkit"
	"github.com/mikemospan/linux-microkit/payload"
	"github.com/mikemospan/linux-microkit/shared/logger"
	"github.com/mikemospan/linux-microkit/shared/subprocess"

	_ "github.com/mikemospan/linux-microkit/internal/testpd"
)

type cmdPD struct {
	global *cmdGlobal
}

// newPDCommand registers the hidden re-exec entry point a spawned
// protection domain's process runs as. It is never invoked directly
// by a user, only by loader.Supervisor via subprocess.Command.
func newPDCommand(global *cmdGlobal) *cobra.Command {
	c := &cmdPD{global: global}

	cmd := &cobra.Command{
		Use:    subprocess.PDSubcommand + " <name> <config-path>",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE:   c.run,
	}

	return cmd
}

func (c *cmdPD) run(cmd *cobra.Command, args []string) error {
	configPath := args[1]

	name, payloadPath, runID, res, binds, err := loader.LoadPD(configPath)
	if err != nil {
		return fmt.Errorf("pd: loading config: %w", err)
	}

	p, err := resolvePayload(payloadPath)
	if err != nil {
		return fmt.Errorf("pd %s: resolving payload %q: %w", name, payloadPath, err)
	}

	switch impl := p.(type) {
	case *payload.PluginPayload:
		if err := binder.BindPlugin(impl, binds); err != nil {
			return fmt.Errorf("pd %s: binding: %w", name, err)
		}
	default:
		if err := binder.BindInProcess(p, binds, microkit.New(res)); err != nil {
			return fmt.Errorf("pd %s: binding: %w", name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("pd starting", logger.Ctx{"pd": name, "payload": payloadPath, "run_id": runID})

	return eventloop.Run(ctx, name, p, res, nil)
}

// resolvePayload resolves a payload path to an implementation: a
// compiled-in name looked up in payload's in-process registry, or a
// path ending in .so loaded as a Go plugin.
func resolvePayload(path string) (payload.Payload, error) {
	if strings.HasSuffix(path, ".so") {
		return payload.LoadPlugin(path)
	}

	return payload.Lookup(path)
}
