package cli

import (
	"bufio"
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/travochat/internal/render"
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	store, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	term := render.NewTerminal(cmd.OutOrStdout(), noColor)
	orch, err := newOrchestrator(cfg, store, term, logger)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx := cmd.Context()
	if err := orch.Start(ctx); err != nil {
		return err
	}

	sh := &shell{widget: orch, out: term}
	sh.greet()
	return sh.run(ctx, cmd.InOrStdin())
}

// run executes input lines until /quit, end of input or ctx is done.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if s.exec(ctx, line) {
				return nil
			}
		}
	}
}
