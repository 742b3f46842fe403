package optimizer

import (
	"fmt"
	"path/filepath"

	"mio/internal/imageutil"
	"mio/internal/store"
)

// Outcome is the result of processing one item.
type Outcome struct {
	ItemID  int64
	Status  store.LogStatus
	Record  store.Record
	Message string
	Err     error
}

// Succeeded reports whether the item was optimised.
func (o Outcome) Succeeded() bool { return o.Status == store.LogSuccess }

func skipped(item *store.Item, message string, err error) Outcome {
	return Outcome{
		ItemID:  item.ID,
		Status:  store.LogSkipped,
		Record:  store.Record{ItemID: item.ID, OriginalSize: item.Size, OptimizedSize: item.Size},
		Message: fmt.Sprintf("%s: skipped (%s)", filepath.Base(item.Path), message),
		Err:     err,
	}
}

func successMessage(path string, rec store.Record) string {
	return fmt.Sprintf("%s: saved %s (%.2f%%) via %s",
		filepath.Base(path),
		imageutil.FormatFileSize(rec.Savings),
		imageutil.SavingsPercent(rec.OriginalSize, rec.OptimizedSize),
		rec.Method,
	)
}
