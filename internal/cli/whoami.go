package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/travochat/internal/identity"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the stored identity",
	Long:  `Print the name, email and user id remembered from the last registration. No network calls are made.`,
	RunE:  runWhoami,
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Clear the stored identity",
	RunE:  runForget,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg.Store, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer closeStore()

	id, err := identity.Load(store)
	if err != nil {
		return fmt.Errorf("reading identity: %w", err)
	}
	if id.Email == "" && id.UserID == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "no stored identity")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "name:    %s\nemail:   %s\nuser id: %s\n", id.Name, id.Email, id.UserID)
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg.Store, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer closeStore()

	for _, key := range []string{identity.KeyName, identity.KeyEmail, identity.KeyUserID} {
		if err := store.Set(key, ""); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "stored identity cleared")
	return nil
}
