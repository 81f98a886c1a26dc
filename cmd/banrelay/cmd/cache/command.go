// Package cache provides commands to inspect and pre-populate the
// persisted enrichment caches.
package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/banrelay/internal/appcontext"
	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/pkg/errors"
)

// NewCommand creates the cache command and its subcommands.
func NewCommand(app appcontext.Interface) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persisted enrichment caches",
		Long: `The relay persists each successful identity and alias fetch so a restart
can serve enrichment before the providers answer again.

  warm  fetch both providers now and persist the results
  show  print a summary of the persisted state as JSON`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newWarmCommand(app))
	cmd.AddCommand(newShowCommand(app))
	return cmd
}

func newWarmCommand(app appcontext.Interface) *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Fetch both providers once and persist them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.Enrichment()
			if err != nil {
				return err
			}
			return warm(cmd.Context(), e.Enricher, cmd.OutOrStdout())
		},
	}
}

func newShowCommand(app appcontext.Interface) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the persisted cache state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.Enrichment()
			if err != nil {
				return err
			}
			summaries, err := show(cmd.Context(), e)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		},
	}
}

// warm refreshes every cache unconditionally. Each cache persists its new
// generation as part of the refresh. All failures are reported together.
func warm(ctx context.Context, enricher *enrich.Enricher, out io.Writer) error {
	var errs []error

	if err := enricher.Identities().Refresh(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := enricher.Aliases().Refresh(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, s := range enricher.Stats() {
		if s.LastError != "" {
			fmt.Fprintf(out, "%-10s failed: %s\n", s.Provider, s.LastError)
			continue
		}
		fmt.Fprintf(out, "%-10s %d entries\n", s.Provider, s.Entries)
	}
	return stderrors.Join(errs...)
}

// Summary describes one persisted snapshot.
type Summary struct {
	Name      string    `json:"name"`
	Provider  string    `json:"provider,omitempty"`
	Persisted bool      `json:"persisted"`
	Entries   int       `json:"entries"`
	FetchedAt time.Time `json:"fetched_at,omitzero"`
	Age       string    `json:"age,omitempty"`
}

// show loads both snapshots straight from their stores, without touching
// the providers.
func show(ctx context.Context, e *appcontext.Enrichment) ([]Summary, error) {
	identity, err := summarize(ctx, "identity", e.Identities)
	if err != nil {
		return nil, err
	}
	alias, err := summarize(ctx, "alias", e.Aliases)
	if err != nil {
		return nil, err
	}
	return []Summary{identity, alias}, nil
}

func summarize[V any](ctx context.Context, name string, store enrich.Store[V]) (Summary, error) {
	s := Summary{Name: name}
	if store == nil {
		return s, nil
	}

	snap, err := store.Load(ctx)
	if err != nil {
		if errors.IsNotFound(err) {
			return s, nil
		}
		return s, fmt.Errorf("loading %s snapshot: %w", name, err)
	}

	s.Provider = snap.Provider
	s.Persisted = true
	s.Entries = len(snap.Entries)
	s.FetchedAt = snap.FetchedAt
	if !snap.FetchedAt.IsZero() {
		s.Age = time.Since(snap.FetchedAt).Round(time.Second).String()
	}
	return s, nil
}
