package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/compactor"
	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/syncer"
)

// oneShot builds a command that opens the replica, runs fn once and prints
// its result.
func oneShot(rootOpts *RootOptions, use, short, long string, fn func(ctx context.Context, a *app, f *OutputFormatter) error) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          long,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(rootOpts, cmd)
			a, err := openApp(rootOpts, cmd)
			if err != nil {
				return fail(f, "failed to open replica", err)
			}
			defer a.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return fn(ctx, a, f)
		},
	}
}

// InitResult is the output of the init command.
type InitResult struct {
	DocID string `json:"doc_id"`
	Seq   int64  `json:"seq"`
}

func (r InitResult) String() string {
	return fmt.Sprintf("Initialized document %q (watermark %d)", r.DocID, r.Seq)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return oneShot(rootOpts, "init", "Reset the document to its seed state",
		`Reset the document to {"root": {"count": 1, "message": "hello"}, "items": []}.
The update log and snapshot are replaced atomically.`,
		func(ctx context.Context, a *app, f *OutputFormatter) error {
			seq, err := a.replica.Init(ctx)
			if err != nil {
				return fail(f, "init failed", err)
			}
			return f.Success(InitResult{DocID: a.replica.DocID(), Seq: seq})
		})
}

// SnapshotResult is the output of the snapshot command. Document holds the
// canonical JSON rendering, or is null when the document does not exist.
type SnapshotResult struct {
	DocID    string          `json:"doc_id"`
	Document json.RawMessage `json:"document"`
}

func (r SnapshotResult) String() string {
	if r.Document == nil {
		return fmt.Sprintf("Document %q not found", r.DocID)
	}
	return string(r.Document)
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return oneShot(rootOpts, "snapshot", "Print the durable document",
		"Print the durable document (snapshot plus un-compacted log) as canonical JSON.",
		func(ctx context.Context, a *app, f *OutputFormatter) error {
			view, found, err := a.replica.View(ctx)
			if err != nil {
				return fail(f, "snapshot failed", err)
			}
			res := SnapshotResult{DocID: a.replica.DocID()}
			if found {
				b, err := crdt.MarshalCanonical(view)
				if err != nil {
					return fail(f, "snapshot failed", err)
				}
				res.Document = b
			}
			return f.Success(res)
		})
}

// AddCountResult is the output of the add-count command.
type AddCountResult struct {
	Count int64 `json:"count"`
}

func (r AddCountResult) String() string {
	return fmt.Sprintf("count = %d", r.Count)
}

// NewAddCountCommand creates the add-count command.
func NewAddCountCommand(rootOpts *RootOptions) *cobra.Command {
	return oneShot(rootOpts, "add-count", "Increment root.count",
		"Increment root.count and append the edit to the update log.",
		func(ctx context.Context, a *app, f *OutputFormatter) error {
			count, err := a.replica.AddCount(ctx)
			if err != nil {
				return fail(f, "add-count failed", err)
			}
			return f.Success(AddCountResult{Count: count})
		})
}

// CompactResult is the output of the compact command.
type CompactResult struct {
	compactor.Result
}

func (r CompactResult) String() string {
	if r.Noop() {
		return "Nothing to compact"
	}
	return fmt.Sprintf("Folded %d update(s) into the snapshot: watermark %d -> %d, %d bytes",
		r.Applied, r.BeforeLastSeq, r.AfterLastSeq, r.SnapshotBytes)
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	return oneShot(rootOpts, "compact", "Fold the update log into the snapshot",
		"Fold every pending update into the snapshot and truncate the log.",
		func(ctx context.Context, a *app, f *OutputFormatter) error {
			res, err := a.replica.Compact(ctx)
			if err != nil {
				return fail(f, "compaction failed", err)
			}
			return f.Success(CompactResult{res})
		})
}

// SyncResult is the output of the sync command.
type SyncResult struct {
	syncer.Report
}

func (r SyncResult) String() string {
	return fmt.Sprintf("Pulled %d byte(s), pushed %d byte(s), peer compacted: %t",
		r.PulledBytes, r.PushedBytes, r.PeerCompacted)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return oneShot(rootOpts, "sync", "Run one sync round with the peer",
		`Run one pull-then-push round against the configured peer.

Example:
  docsync sync --db ./a.db --peer http://localhost:8001`,
		func(ctx context.Context, a *app, f *OutputFormatter) error {
			rep, err := a.replica.Sync(ctx)
			if err != nil {
				return fail(f, "sync failed", err)
			}
			return f.Success(SyncResult{rep})
		})
}

// StatsResult is the output of the stats command.
type StatsResult struct {
	DocID          string `json:"doc_id"`
	Watermark      int64  `json:"watermark"`
	MaxSeq         int64  `json:"max_seq"`
	PendingUpdates int    `json:"pending_updates"`
	PendingBytes   int64  `json:"pending_bytes"`
	SnapshotBytes  int    `json:"snapshot_bytes"`
}

func (r StatsResult) String() string {
	return fmt.Sprintf("%s: watermark %d, max seq %d, %d pending update(s) (%d bytes), snapshot %d bytes",
		r.DocID, r.Watermark, r.MaxSeq, r.PendingUpdates, r.PendingBytes, r.SnapshotBytes)
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return oneShot(rootOpts, "stats", "Show log and snapshot sizes",
		"Show the document's watermark, pending log entries and snapshot size.",
		func(ctx context.Context, a *app, f *OutputFormatter) error {
			st, err := a.replica.Stats(ctx)
			if err != nil {
				return fail(f, "stats failed", err)
			}
			return f.Success(StatsResult{
				DocID:          a.replica.DocID(),
				Watermark:      st.Watermark,
				MaxSeq:         st.MaxSeq,
				PendingUpdates: st.PendingUpdates,
				PendingBytes:   st.PendingBytes,
				SnapshotBytes:  st.SnapshotBytes,
			})
		})
}
