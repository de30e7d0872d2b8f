package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/tv-watchlist/services/watchlist/internal/watchlist"
)

type rootOptions struct {
	logLevel string
	timeout  time.Duration
	open     opener
}

func newRootCmd(open opener) *cobra.Command {
	opts := &rootOptions{open: open}
	root := &cobra.Command{
		Use:          "watchlistctl",
		Short:        "Inspect and edit the stored watchlist",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout, 0 for none")

	root.AddCommand(
		newListCmd(opts),
		newAddCmd(opts),
		newRemoveCmd(opts),
		newResetCmd(opts),
		newInspectCmd(opts),
	)
	return root
}

// withStorage opens the storage, runs fn and closes it.
func (o *rootOptions) withStorage(cmd *cobra.Command, fn func(s *watchlist.Storage) error) error {
	ctx, cancel := withTimeout(o.timeout)
	defer cancel()
	cmd.SetContext(ctx)

	s, closeFn, err := o.open(ctx, newLogger(o.logLevel))
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(s)
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every item in insertion order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStorage(cmd, func(s *watchlist.Storage) error {
				items, err := s.GetWatchlist(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				for _, it := range items {
					printf(cmd.OutOrStdout(), "%s\t%s\t%s\n", it.ID, it.Title, time.UnixMilli(it.AddedAt).UTC().Format(time.RFC3339))
				}
				printf(cmd.OutOrStdout(), "%d item(s)\n", len(items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var (
		in       watchlist.ItemInput
		rawID    string
		stringID bool
		duration float64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an item (no-op when the id is already present)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.ID = parseID(rawID, stringID)
			if cmd.Flags().Changed("duration") {
				d := duration
				in.Duration = &d
			}
			return opts.withStorage(cmd, func(s *watchlist.Storage) error {
				items, err := s.AddItem(cmd.Context(), in)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%d item(s)\n", len(items))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&rawID, "id", "", "item id")
	f.BoolVar(&stringID, "string-id", false, "store a numeric-looking id as a string")
	f.StringVar(&in.Title, "title", "", "title")
	f.StringVar(&in.Description, "description", "", "description")
	f.StringVar(&in.HeaderImage, "header-image", "", "header image URL")
	f.StringVar(&in.Movie, "movie", "", "playback URI")
	f.Float64Var(&duration, "duration", 0, "duration")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	var stringID bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an item (no-op when absent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := parseID(args[0], stringID)
			return opts.withStorage(cmd, func(s *watchlist.Storage) error {
				items, err := s.RemoveItem(cmd.Context(), id)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%d item(s)\n", len(items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&stringID, "string-id", false, "treat a numeric-looking id as a string")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete the watchlist without --yes")
			}
			return opts.withStorage(cmd, func(s *watchlist.Storage) error {
				if err := s.ResetWatchlist(cmd.Context()); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "deleted %s\n", s.Key())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

type inspectOutput struct {
	Key           string `json:"key"`
	Version       int    `json:"version"`
	SourceVersion int    `json:"source_version"`
	Legacy        bool   `json:"legacy"`
	Future        bool   `json:"future"`
	Total         int    `json:"total"`
	Dropped       int    `json:"dropped"`
	Valid         int    `json:"valid"`
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Decode the stored document and report what loading would migrate or drop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStorage(cmd, func(s *watchlist.Storage) error {
				doc, rep, err := s.Inspect(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd, inspectOutput{
					Key:           s.Key(),
					Version:       doc.Version,
					SourceVersion: rep.SourceVersion,
					Legacy:        rep.Legacy,
					Future:        rep.Future,
					Total:         rep.Total,
					Dropped:       rep.Dropped,
					Valid:         len(doc.Items),
				})
			})
		},
	}
}

func parseID(raw string, asString bool) watchlist.ItemID {
	if asString {
		return watchlist.StringID(raw)
	}
	return watchlist.ParseID(raw)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
