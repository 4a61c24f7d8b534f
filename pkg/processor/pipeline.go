package processor

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Pipeline ingests a consumed batch and alerts profiles about its canonical records
type Pipeline struct {
	ingestor *Ingestor
	alerter  *Alerter
	logger   ectologger.Logger
}

// NewPipeline creates a pipeline. A nil alerter only ingests.
func NewPipeline(ingestor *Ingestor, alerter *Alerter, logger ectologger.Logger) *Pipeline {
	return &Pipeline{
		ingestor: ingestor,
		alerter:  alerter,
		logger:   logger,
	}
}

// Process ingests records, then alerts. rejected holds records that failed before they
// reached the pipeline, such as undecodable messages; they are reported in Rejected.
// Any returned error means the batch should be redelivered, which both steps tolerate.
func (p *Pipeline) Process(ctx context.Context, records []models.Record, rejected []models.DeadLetter) (*models.BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Pipeline.Process")
	defer span.End()

	log := p.logger.WithContext(ctx)

	result, err := p.ingestor.Ingest(ctx, records)
	if err != nil {
		return result, err
	}

	for _, dl := range rejected {
		result.Processed++
		result.Rejected = append(result.Rejected, dl)
		metrics.RecordIngestOutcome(OutcomeRejected)
		log.WithFields(map[string]any{
			"external_ref": dl.Record.ExternalRef,
			"reason":       dl.Reason,
		}).Warn("Rejected undecodable record")
	}

	if p.alerter == nil || len(result.Canonical) == 0 {
		return result, nil
	}

	alerts, err := p.alerter.Run(ctx, result.Canonical)
	delivered := 0
	for _, a := range alerts {
		delivered += a.Delivered
	}
	log.WithFields(map[string]any{
		"profiles":  len(alerts),
		"delivered": delivered,
	}).Debug("Alerted profiles")
	return result, err
}
