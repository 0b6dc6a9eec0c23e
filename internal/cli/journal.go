package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/talves-forked/toast/internal/store"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	Session  string
	Query    string // query id, requires Session
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID                 string    `json:"id"`
	StartedAt          time.Time `json:"started_at"`
	Label              string    `json:"label,omitempty"`
	EngineVersion      string    `json:"engine_version"`
	FingerprintVersion string    `json:"fingerprint_version"`
}

// SessionDetail is the journal of one session.
type SessionDetail struct {
	Session  SessionSummary `json:"session"`
	Writes   []WriteEntry   `json:"writes"`
	Queries  []QueryEntry   `json:"queries"`
	Outcomes map[string]int `json:"outcomes"`
}

// WriteEntry is one journaled input write.
type WriteEntry struct {
	Seq         int64  `json:"seq"`
	Key         string `json:"key"`
	Revision    int64  `json:"revision"`
	ContentHash string `json:"content_hash"`
	Size        int    `json:"size"`
}

// QueryEntry is one journaled query resolution.
type QueryEntry struct {
	Seq        int64  `json:"seq"`
	Rule       string `json:"rule"`
	QueryID    string `json:"query_id"`
	Label      string `json:"label"`
	Revision   int64  `json:"revision"`
	Outcome    string `json:"outcome"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationUs int64  `json:"duration_us"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded engine sessions",
		Long: `Inspect the SQLite journal written by "toast compile --journal".

Without --session, lists every recorded session. With --session, shows the
session's input writes, query resolutions and outcome counts. With --query,
shows only the resolutions of one query id within the session.

Examples:
  toast journal --db toast.db
  toast journal --db toast.db --session 0192f6c0-...
  toast journal --db toast.db --session 0192f6c0-... --query 9f2c... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (defaults to config journal)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id to show")
	cmd.Flags().StringVar(&opts.Query, "query", "", "query id to show (requires --session)")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	db := opts.Database
	if db == "" {
		db = opts.Config.Journal
	}
	if db == "" {
		return outputCommandError(formatter, ErrCodeConfig, errors.New("--db is required (or set journal in config)"))
	}
	if opts.Query != "" && opts.Session == "" {
		return outputCommandError(formatter, ErrCodeConfig, errors.New("--query requires --session"))
	}

	if _, err := os.Stat(db); err != nil {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Errorf("journal database: %w", err))
	}
	st, err := store.Open(db)
	if err != nil {
		return outputCommandError(formatter, ErrCodeJournal, err)
	}
	defer st.Close()

	if opts.Session == "" {
		return listSessions(ctx, st, formatter)
	}
	return showSession(ctx, st, formatter, opts.Session, opts.Query)
}

func listSessions(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	sessions, err := st.ReadSessions(ctx)
	if err != nil {
		return outputCommandError(formatter, ErrCodeJournal, err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, summarize(s))
	}

	if formatter.Format == "json" {
		return formatter.Success(summaries)
	}

	w := formatter.Writer
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %s  %s\n", s.ID, s.StartedAt.Format(time.RFC3339), s.Label)
	}
	return nil
}

func showSession(ctx context.Context, st *store.Store, formatter *OutputFormatter, id, queryID string) error {
	sess, err := st.ReadSession(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Errorf("session %s not found", id))
	}
	if err != nil {
		return outputCommandError(formatter, ErrCodeJournal, err)
	}

	detail := SessionDetail{
		Session:  summarize(sess),
		Writes:   []WriteEntry{},
		Queries:  []QueryEntry{},
		Outcomes: map[string]int{},
	}

	var records []store.QueryRecord
	if queryID != "" {
		records, err = st.ReadQueryHistory(ctx, id, queryID)
	} else {
		records, err = st.ReadQueryRecords(ctx, id)
	}
	if err != nil {
		return outputCommandError(formatter, ErrCodeJournal, err)
	}
	for _, r := range records {
		detail.Queries = append(detail.Queries, QueryEntry{
			Seq:        r.Seq,
			Rule:       r.Rule,
			QueryID:    r.QueryID,
			Label:      r.Label,
			Revision:   r.Revision,
			Outcome:    r.Outcome,
			ErrorCode:  r.ErrorCode,
			Error:      r.Error,
			DurationUs: r.Duration.Microseconds(),
		})
	}

	if queryID == "" {
		writes, err := st.ReadInputWrites(ctx, id)
		if err != nil {
			return outputCommandError(formatter, ErrCodeJournal, err)
		}
		for _, w := range writes {
			detail.Writes = append(detail.Writes, WriteEntry{
				Seq:         w.Seq,
				Key:         w.Key,
				Revision:    w.Revision,
				ContentHash: w.ContentHash,
				Size:        w.Size,
			})
		}

		counts, err := st.ReadOutcomeCounts(ctx, id)
		if err != nil {
			return outputCommandError(formatter, ErrCodeJournal, err)
		}
		for _, c := range counts {
			detail.Outcomes[c.Outcome] = c.Count
		}
	} else {
		for _, q := range detail.Queries {
			detail.Outcomes[q.Outcome]++
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(detail)
	}
	outputSessionText(formatter, detail)
	return nil
}

func summarize(s store.Session) SessionSummary {
	return SessionSummary{
		ID:                 s.ID,
		StartedAt:          s.StartedAt,
		Label:              s.Label,
		EngineVersion:      s.EngineVersion,
		FingerprintVersion: s.FingerprintVersion,
	}
}

func outputSessionText(formatter *OutputFormatter, d SessionDetail) {
	w := formatter.Writer
	fmt.Fprintf(w, "Session %s (%s)\n", d.Session.ID, d.Session.StartedAt.Format(time.RFC3339))
	if d.Session.Label != "" {
		fmt.Fprintf(w, "  %s\n", d.Session.Label)
	}
	fmt.Fprintln(w)

	if len(d.Writes) > 0 {
		fmt.Fprintln(w, "Writes:")
		for _, wr := range d.Writes {
			fmt.Fprintf(w, "  [%d] %s @%d %d bytes %s\n", wr.Seq, wr.Key, wr.Revision, wr.Size, shortHash(wr.ContentHash))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Queries:")
	for _, q := range d.Queries {
		fmt.Fprintf(w, "  [%d] %-9s %s @%d", q.Seq, q.Outcome, q.Label, q.Revision)
		if q.ErrorCode != "" {
			fmt.Fprintf(w, " %s", q.ErrorCode)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "Outcomes:")
	for _, o := range []string{"hit", "validated", "executed", "unchanged", "failed", "cancelled"} {
		if n := d.Outcomes[o]; n > 0 {
			fmt.Fprintf(w, " %s=%d", o, n)
		}
	}
	fmt.Fprintln(w)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
