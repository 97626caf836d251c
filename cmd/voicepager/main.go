package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voicepager/internal/app"
)

const stopTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "voicepager",
		Short:         "Triage voice notification mail into pager alerts",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./voicepager.yaml", "path to config (.json, .yaml)")

	// open builds an App for one-shot commands. Only push needs Telegram.
	open := func(online bool) (*app.App, error) {
		return app.New(cfgPath, app.Options{Offline: !online})
	}

	root.AddCommand(
		serveCmd(&cfgPath),
		checkCmd(open),
		ingestCmd(open),
		markReadCmd(open),
		pushCmd(open),
	)
	return root
}

type opener func(online bool) (*app.App, error)

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll endpoint and push relay until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(*cfgPath, app.Options{})
			if err != nil {
				return err
			}
			return a.Run(cmd.Context(), stopTimeout)
		},
	}
}

func checkCmd(open opener) *cobra.Command {
	var lastHash string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the pipeline once and print the poll response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), open, false, func(a *app.App) error {
				resp, err := a.Check(cmd.Context(), lastHash)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&lastHash, "last-hash", "", "fingerprint from the previous poll")
	return cmd
}

func ingestCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Store .eml messages as unread",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), open, false, func(a *app.App) error {
				msgs, err := a.Ingest(cmd.Context(), args)
				if err != nil {
					return err
				}
				for _, m := range msgs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", m.ID, m.Subject)
				}
				return nil
			})
		},
	}
}

func markReadCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read ID...",
		Short: "Mark stored messages as read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), open, false, func(a *app.App) error {
				n, err := a.Store().MarkRead(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "marked %d of %d\n", n, len(args))
				return nil
			})
		},
	}
}

func pushCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Run one relay pass and send the digest if it changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), open, true, func(a *app.App) error {
				out, err := a.Push(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tstate=%s\tsent=%t\tfingerprint=%s\n",
					out.RunID, out.State, out.Sent, out.Fingerprint)
				return nil
			})
		},
	}
}

func withApp(ctx context.Context, open opener, online bool, fn func(*app.App) error) error {
	a, err := open(online)
	if err != nil {
		return err
	}
	err = fn(a)
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if serr := a.Stop(sctx); err == nil {
		err = serr
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
