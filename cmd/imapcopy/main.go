package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pepperpark/imapcopy/internal/config"
	"github.com/pepperpark/imapcopy/internal/imaputil"
	"github.com/pepperpark/imapcopy/internal/logging"
	"github.com/pepperpark/imapcopy/internal/mboxsession"
	"github.com/pepperpark/imapcopy/internal/migrate"
	"github.com/pepperpark/imapcopy/internal/planner"
	"github.com/pepperpark/imapcopy/internal/report"
	"github.com/pepperpark/imapcopy/internal/session"
	"github.com/pepperpark/imapcopy/internal/syncer"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
	date    = ""
)

// reportedError has already been printed by the progress output.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func main() {
	rootCmd := &cobra.Command{
		Use:           "imapcopy",
		Short:         "imapcopy - copy every mailbox of one IMAP account into another",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var showVersion bool
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("imapcopy %s", version)
			if commit != "" {
				fmt.Printf(" (%s)", commit)
			}
			if date != "" {
				fmt.Printf(" built %s", date)
			}
			fmt.Println()
			os.Exit(0)
		}
	}

	copyCmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy all mailboxes and messages from the source to the destination",
	}
	copyOpts := addFlags(copyCmd)
	copyCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd, copyOpts, false)
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Connect to both accounts and print the mailbox plan without copying",
	}
	planOpts := addFlags(planCmd)
	planCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd, planOpts, true)
	}

	rootCmd.AddCommand(copyCmd, planCmd)

	if err := rootCmd.Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// cliOptions holds the flags that are not configuration keys.
type cliOptions struct {
	configPath    string
	srcPassPrompt bool
	dstPassPrompt bool
}

func addFlags(cmd *cobra.Command) *cliOptions {
	o := &cliOptions{}
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "Path to a YAML, TOML or JSON config file")

	f.String("src-host", "", "Source IMAP host")
	f.Int("src-port", 993, "Source IMAP port")
	f.String("src-user", "", "Source IMAP username")
	f.String("src-pass", "", "Source IMAP password")
	f.BoolVar(&o.srcPassPrompt, "src-pass-prompt", false, "Prompt for source IMAP password (no echo)")
	f.Bool("src-tls", true, "Use implicit TLS for the source")
	f.Bool("src-starttls", false, "Use STARTTLS for the source")
	f.Bool("src-insecure", false, "Skip TLS verification for the source")
	f.String("mbox", "", "Read from local MBOX file instead of source IMAP")
	f.String("mbox-mailbox", "INBOX", "Mailbox name the MBOX file is copied into")

	f.String("dst-host", "", "Destination IMAP host")
	f.Int("dst-port", 993, "Destination IMAP port")
	f.String("dst-user", "", "Destination IMAP username")
	f.String("dst-pass", "", "Destination IMAP password")
	f.BoolVar(&o.dstPassPrompt, "dst-pass-prompt", false, "Prompt for destination IMAP password (no echo)")
	f.Bool("dst-tls", true, "Use implicit TLS for the destination")
	f.Bool("dst-starttls", false, "Use STARTTLS for the destination")
	f.Bool("dst-insecure", false, "Skip TLS verification for the destination")

	f.Duration("timeout", 30*time.Second, "Dial, STARTTLS and login timeout")
	f.Duration("keepalive", time.Second, "Idle NOOP interval")
	f.Bool("debug", false, "Panic with a stack trace on failure")
	f.Bool("dry-run", false, "Don't actually copy, just print the plan")
	f.Bool("tui", false, "Show an interactive progress view")
	f.BoolP("yes", "y", false, "Skip the confirmation dialog")
	f.String("log-level", "warn", "Diagnostic log level (debug, info, warn, error)")
	f.String("log-format", "text", "Diagnostic log format (text, json)")
	return o
}

func run(cmd *cobra.Command, o *cliOptions, planOnly bool) error {
	cfg, err := config.Load(o.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if planOnly {
		cfg.DryRun = true
	}
	if err := promptPasswords(cfg, o); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(cfg.Log)
	src := newSession("Source", cfg.Source, cfg.KeepAlive, log)
	dst := newSession("Destination", cfg.Destination, cfg.KeepAlive, log)
	printer := report.NewPrinter(os.Stdout)
	interactive := cfg.TUI && !cfg.DryRun

	if interactive && !cfg.Yes {
		summary := fmt.Sprintf("Source:      %s\nDestination: %s\n\nEvery mailbox and message of the source is appended to the destination.\nMessages already present are copied again.",
			cfg.Source, cfg.Destination)
		ok, err := runConfirmTUI("imapcopy", summary)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	migrateOpts := migrate.Options{DryRun: cfg.DryRun, Logger: log}
	var plan planner.Plan
	if interactive {
		plan, err = runTUI(ctx, func(ctx context.Context, observe syncer.Observer) (planner.Plan, error) {
			migrateOpts.Observer = observe
			return migrate.New(src, dst, migrateOpts).Run(ctx)
		})
		if err != nil {
			printer.Error(err)
		}
	} else {
		printer.Log("Connecting to servers:")
		migrateOpts.Observer = printer.Observe
		plan, err = migrate.New(src, dst, migrateOpts).Run(ctx)
	}
	if err != nil {
		if cfg.Debug {
			panic(err)
		}
		return reportedError{err}
	}

	if cfg.DryRun {
		fmt.Println()
		printer.PrintPlan(plan)
	}
	return nil
}

func newSession(name string, acct config.Account, keepalive time.Duration, log *slog.Logger) session.Session {
	if acct.Mbox != "" {
		return mboxsession.New(name, acct.Mbox, acct.Mailbox, log)
	}
	return imaputil.NewSession(name, acct, keepalive, log)
}

func promptPasswords(cfg *config.Config, o *cliOptions) error {
	if o.srcPassPrompt && cfg.Source.Password == "" && cfg.Source.Mbox == "" {
		p, err := readPassword("Source password: ")
		if err != nil {
			return fmt.Errorf("read source password: %w", err)
		}
		cfg.Source.Password = p
	}
	if o.dstPassPrompt && cfg.Destination.Password == "" {
		p, err := readPassword("Destination password: ")
		if err != nil {
			return fmt.Errorf("read destination password: %w", err)
		}
		cfg.Destination.Password = p
	}
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
