package export

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sidekick2020/meeting-scraper-sub002/pkg/meetingstore"
	"github.com/sidekick2020/meeting-scraper-sub002/pkg/scrape"
)

// Sink receives finished archive objects. *S3Sink satisfies it; tests
// substitute in-memory sinks.
type Sink interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Archiver writes a JSONL snapshot of the store after each scrape run.
//
// Archiving is best effort: a failed upload is logged and never affects
// the run that triggered it.
type Archiver struct {
	db     *sql.DB
	sink   Sink
	logger *zap.Logger
}

func NewArchiver(db *sql.DB, sink Sink, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{db: db, sink: sink, logger: logger}
}

// Hook adapts the archiver to the orchestrator's completion hook.
func (a *Archiver) Hook() func(ctx context.Context, sum scrape.Summary) {
	return func(ctx context.Context, sum scrape.Summary) {
		if err := a.ArchiveRun(ctx, sum); err != nil {
			a.logger.Warn("run archive failed",
				zap.String("run_id", sum.RunID), zap.Error(err))
		}
	}
}

// ArchiveRun snapshots the full meeting set plus the run summary as one
// JSONL object keyed by run date and ID.
func (a *Archiver) ArchiveRun(ctx context.Context, sum scrape.Summary) error {
	meetings, err := meetingstore.ListMeetings(ctx, a.db)
	if err != nil {
		return fmt.Errorf("list meetings: %w", err)
	}

	var buf bytes.Buffer
	for _, rec := range meetings {
		line, err := marshalRecord(TypeMeeting, sum.RunID, meetingPayload(rec))
		if err != nil {
			return err
		}
		buf.Write(line)
	}

	line, err := marshalRecord(TypeSummary, sum.RunID, &SummaryPayload{
		Status:          string(sum.Status),
		StartedAt:       sum.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:         sum.EndedAt.UTC().Format(time.RFC3339),
		FeedsTotal:      sum.FeedsTotal,
		TotalFound:      sum.TotalFound,
		TotalSaved:      sum.TotalSaved,
		TotalDuplicates: sum.TotalDuplicates,
		TotalFailed:     sum.TotalFailed,
		MeetingsInStore: len(meetings),
	})
	if err != nil {
		return err
	}
	buf.Write(line)

	key := fmt.Sprintf("runs/%s/%s.jsonl", sum.StartedAt.UTC().Format("2006-01-02"), sum.RunID)
	if err := a.sink.Put(ctx, key, buf.Bytes()); err != nil {
		return err
	}

	a.logger.Info("run archived",
		zap.String("run_id", sum.RunID),
		zap.String("key", key),
		zap.Int("meetings", len(meetings)))
	return nil
}
