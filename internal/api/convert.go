package api

import (
	"time"

	"mio/internal/backend"
	"mio/internal/backup"
	"mio/internal/imageutil"
	"mio/internal/optimizer"
	"mio/internal/stats"
	"mio/internal/store"
)

// FromRecord converts a stored record to its API representation. A nil
// record reads as pending.
func FromRecord(item *store.Item, rec *store.Record) RecordView {
	view := RecordView{Status: "pending"}
	if item != nil {
		view.ItemID = item.ID
		view.Path = item.Path
		view.OriginalSize = item.Size
		view.OptimizedSize = item.Size
	}
	if rec == nil {
		return view
	}
	view.ItemID = rec.ItemID
	view.Optimized = rec.Optimized
	view.Method = string(rec.Method)
	view.OriginalSize = rec.OriginalSize
	view.OptimizedSize = rec.OptimizedSize
	view.Savings = rec.Savings
	view.Error = rec.Error
	view.UpdatedAt = formatTime(rec.UpdatedAt)
	switch {
	case rec.Optimized:
		view.Status = string(store.LogSuccess)
		view.SavingsPercent = imageutil.SavingsPercent(rec.OriginalSize, rec.OptimizedSize)
	case rec.Error != "":
		view.Status = string(store.LogFailed)
	}
	return view
}

// FromOutcome converts an engine outcome.
func FromOutcome(item *store.Item, out optimizer.Outcome) RecordView {
	rec := out.Record
	view := FromRecord(item, &rec)
	view.Status = string(out.Status)
	view.Message = out.Message
	if view.Error == "" && out.Err != nil {
		view.Error = out.Err.Error()
	}
	return view
}

// FromItemSummary converts a listing row.
func FromItemSummary(summary store.ItemSummary) ItemView {
	item := summary.Item
	view := ItemView{
		ID:        item.ID,
		Path:      item.Path,
		Format:    item.Format,
		Size:      item.Size,
		Width:     item.Width,
		Height:    item.Height,
		Variants:  len(item.Variants),
		CreatedAt: formatTime(item.CreatedAt),
	}
	if summary.Record != nil {
		rec := FromRecord(&item, summary.Record)
		view.Record = &rec
	}
	return view
}

// FromSnapshot converts a cached statistics snapshot.
func FromSnapshot(snap stats.Snapshot) StatsView {
	return StatsView{
		TotalItems:     snap.Library.TotalItems,
		OptimizedItems: snap.Library.OptimizedItems,
		FailedItems:    snap.Library.FailedItems,
		TotalSavings:   snap.Library.TotalSavings,
		SavingsPercent: round2(snap.SavingsPercent()),
		OriginalBytes:  snap.Library.OriginalBytes,
		OptimizedBytes: snap.Library.OptimizedBytes,
		LogTotal:       snap.Log.Total,
		LogSkipped:     snap.Log.Skipped,
		AverageSavings: round2(snap.Log.AverageSavings),
		QueuePending:   snap.Queue.Pending,
		QueueFailed:    snap.Queue.Failed,
		GeneratedAt:    formatTime(snap.GeneratedAt),
	}
}

// FromBackendStatuses converts selector diagnostics, keeping priority order.
func FromBackendStatuses(statuses []backend.Status) []BackendView {
	views := make([]BackendView, 0, len(statuses))
	for _, st := range statuses {
		views = append(views, BackendView{
			Kind:      st.Kind.String(),
			Name:      st.Name,
			Available: st.Available,
			Primary:   st.Primary,
			Detail:    st.Detail,
		})
	}
	return views
}

// FromQueueEntry converts a queue row.
func FromQueueEntry(entry store.QueueEntry) QueueEntryView {
	return QueueEntryView{
		ID:          entry.ID,
		ItemID:      entry.ItemID,
		Status:      string(entry.Status),
		Priority:    entry.Priority,
		Retries:     entry.Retries,
		MaxRetries:  entry.MaxRetries,
		Error:       entry.Error,
		AddedAt:     formatTime(entry.AddedAt),
		StartedAt:   formatTimePtr(entry.StartedAt),
		CompletedAt: formatTimePtr(entry.CompletedAt),
	}
}

// FromQueueEntries converts a slice of queue rows.
func FromQueueEntries(entries []store.QueueEntry) []QueueEntryView {
	views := make([]QueueEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, FromQueueEntry(e))
	}
	return views
}

// FromLogEntries converts optimisation history rows.
func FromLogEntries(entries []store.LogEntry) []LogView {
	views := make([]LogView, 0, len(entries))
	for _, e := range entries {
		views = append(views, LogView{
			ID:        e.ID,
			ItemID:    e.ItemID,
			Status:    string(e.Status),
			Method:    string(e.Method),
			Savings:   e.Savings,
			Error:     e.Error,
			RunID:     e.RunID,
			CreatedAt: formatTime(e.CreatedAt),
		})
	}
	return views
}

// FromBackupStats converts backup tree statistics.
func FromBackupStats(enabled bool, dir string, st backup.Stats) BackupStatsView {
	return BackupStatsView{
		Enabled:   enabled,
		Directory: dir,
		Files:     st.Files,
		SizeBytes: st.SizeBytes,
		Oldest:    formatTime(st.Oldest),
		Newest:    formatTime(st.Newest),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
