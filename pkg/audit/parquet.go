package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/cognidex/crystal/pkg/types"
)

// ParquetExporter snapshots audit records to Parquet files for offline
// analysis. Each export call writes one file per record kind.
type ParquetExporter struct {
	baseDir string
}

// NewParquetExporter creates the export directories under baseDir.
func NewParquetExporter(baseDir string) (*ParquetExporter, error) {
	for _, d := range []string{"decisions", "batches"} {
		if err := os.MkdirAll(filepath.Join(baseDir, d), 0755); err != nil {
			return nil, fmt.Errorf("audit: create export directory %s: %w", d, err)
		}
	}
	return &ParquetExporter{baseDir: baseDir}, nil
}

type parquetDecision struct {
	ID             string    `parquet:"id"`
	SubjectKind    string    `parquet:"subject_kind"`
	SubjectID      string    `parquet:"subject_id"`
	SubjectName    string    `parquet:"subject_name"`
	FromTier       string    `parquet:"from_tier"`
	ToTier         string    `parquet:"to_tier"`
	Approved       bool      `parquet:"approved"`
	Demotion       bool      `parquet:"demotion"`
	Risk           string    `parquet:"risk"`
	RequiresReview bool      `parquet:"requires_review"`
	Criteria       string    `parquet:"criteria"` // JSON string
	EvaluatedAt    time.Time `parquet:"evaluated_at"`
}

type parquetBatch struct {
	BatchID      string    `parquet:"batch_id"`
	Observations int64     `parquet:"observations"`
	Created      int64     `parquet:"created"`
	Merged       int64     `parquet:"merged"`
	Facts        int64     `parquet:"facts"`
	Promoted     int64     `parquet:"promoted"`
	Demoted      int64     `parquet:"demoted"`
	Held         int64     `parquet:"held"`
	Denied       int64     `parquet:"denied"`
	Failed       int64     `parquet:"failed"`
	Watermark    int64     `parquet:"watermark"`
	StartedAt    time.Time `parquet:"started_at"`
	FinishedAt   time.Time `parquet:"finished_at"`
}

// ExportDecisions writes promotion decisions to a timestamped Parquet file
// and returns its path.
func (e *ParquetExporter) ExportDecisions(ctx context.Context, decisions []*types.PromotionDecision) (string, error) {
	if len(decisions) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rows := make([]parquetDecision, 0, len(decisions))
	for _, d := range decisions {
		criteriaJSON, err := json.Marshal(d.Criteria)
		if err != nil {
			return "", fmt.Errorf("audit: marshal criteria: %w", err)
		}
		rows = append(rows, parquetDecision{
			ID:             d.ID,
			SubjectKind:    string(d.SubjectKind),
			SubjectID:      d.SubjectID,
			SubjectName:    d.SubjectName,
			FromTier:       string(d.FromTier),
			ToTier:         string(d.ToTier),
			Approved:       d.Approved,
			Demotion:       d.Demotion,
			Risk:           string(d.Risk),
			RequiresReview: d.RequiresReview,
			Criteria:       string(criteriaJSON),
			EvaluatedAt:    d.EvaluatedAt,
		})
	}

	path := filepath.Join(e.baseDir, "decisions",
		fmt.Sprintf("decisions_%d.parquet", time.Now().UnixNano()))
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("audit: write %s: %w", path, err)
	}
	return path, nil
}

// ExportBatches writes batch summaries to a timestamped Parquet file and
// returns its path.
func (e *ParquetExporter) ExportBatches(ctx context.Context, batches []*BatchSummary) (string, error) {
	if len(batches) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rows := make([]parquetBatch, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, parquetBatch{
			BatchID:      b.BatchID,
			Observations: int64(b.Observations),
			Created:      int64(b.Created),
			Merged:       int64(b.Merged),
			Facts:        int64(b.Facts),
			Promoted:     int64(b.Promoted),
			Demoted:      int64(b.Demoted),
			Held:         int64(b.Held),
			Denied:       int64(b.Denied),
			Failed:       int64(b.Failed),
			Watermark:    int64(b.Watermark),
			StartedAt:    b.StartedAt,
			FinishedAt:   b.FinishedAt,
		})
	}

	path := filepath.Join(e.baseDir, "batches",
		fmt.Sprintf("batches_%d.parquet", time.Now().UnixNano()))
	if err := parquet.WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("audit: write %s: %w", path, err)
	}
	return path, nil
}
