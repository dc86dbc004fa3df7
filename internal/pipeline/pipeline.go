// Package pipeline orchestrates document processing: dedupe, classify,
// extract, resolve, assign — explicitly and synchronously, as one
// transactional unit per document. Nothing happens as a storage side effect;
// the ordering and failure boundaries are all here.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseline/caseline/internal/assign"
	"github.com/caseline/caseline/internal/classify"
	"github.com/caseline/caseline/internal/extract"
	"github.com/caseline/caseline/internal/resolve"
	"github.com/caseline/caseline/internal/store"
)

// SegmentInput is one pre-parsed content unit of an incoming document.
// Format parsing happens upstream; the pipeline receives payloads with
// their numeric-density ratio already measured.
type SegmentInput struct {
	Payload      string
	Position     string
	Region       string
	NumericRatio float64
}

// DocumentInput is one document to process.
type DocumentInput struct {
	Filename string
	Content  []byte
	Metadata map[string]string
	Segments []SegmentInput
}

// Result reports what one processing unit did.
type Result struct {
	UnitID     string
	DocumentID int64
	Created    bool
	Duplicate  bool
	Segments   int
	Keywords   int
	Resolution resolve.Resolution
}

// Pipeline processes documents against a store.
type Pipeline struct {
	st        store.Store
	extractor *extract.Extractor
	resolver  *resolve.Resolver
	log       *zap.Logger
	workers   int
}

// New assembles a pipeline. workers < 1 falls back to serial processing.
func New(st store.Store, ex *extract.Extractor, r *resolve.Resolver, log *zap.Logger, workers int) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{st: st, extractor: ex, resolver: r, log: log, workers: workers}
}

// Process runs one document through the full pipeline as a single unit of
// work. A failure rolls the whole unit back — no orphaned segments or
// occurrences — and marks the document failed if it already existed.
//
// Re-ingesting identical content is not an error: the existing document is
// updated in place and, when already fully processed, re-extraction is
// skipped so corpus counters never double-count.
func (p *Pipeline) Process(ctx context.Context, in DocumentInput) (*Result, error) {
	unitID := uuid.NewString()
	log := p.log.With(zap.String("unit", unitID), zap.String("filename", in.Filename))

	res := &Result{UnitID: unitID}
	err := p.st.InTx(ctx, func(tx *store.Tx) error {
		return p.processUnit(ctx, tx, in, res, log)
	})
	if err != nil {
		log.Error("processing failed", zap.Error(err))
		p.markFailed(ctx, in)
		return nil, err
	}

	log.Info("document processed",
		zap.Int64("document_id", res.DocumentID),
		zap.Bool("duplicate", res.Duplicate),
		zap.Int("segments", res.Segments),
		zap.Int("keywords", res.Keywords),
		zap.String("method", res.Resolution.Method),
		zap.Float64("confidence", res.Resolution.Confidence),
		zap.Bool("auto_assigned", res.Resolution.AutoAssign),
	)
	return res, nil
}

func (p *Pipeline) processUnit(ctx context.Context, tx *store.Tx, in DocumentInput, res *Result, log *zap.Logger) error {
	doc := &store.Document{
		Filename:    in.Filename,
		Extension:   fileExtension(in.Filename),
		SizeBytes:   int64(len(in.Content)),
		ContentHash: store.HashContent(in.Content),
		Metadata:    in.Metadata,
	}

	id, created, err := tx.UpsertDocument(ctx, doc)
	if err != nil {
		return err
	}
	res.DocumentID = id
	res.Created = created

	if !created && doc.Status == store.DocStatusComplete {
		// Same bytes, already processed. The upsert refreshed filename and
		// size; re-extracting would drift the corpus counters.
		res.Duplicate = true
		return nil
	}

	if err := tx.SetDocumentStatus(ctx, id, store.DocStatusProcessing); err != nil {
		return err
	}

	segments := make([]*store.Segment, 0, len(in.Segments))
	for _, si := range in.Segments {
		seg := &store.Segment{
			DocumentID:   id,
			SegmentType:  classify.Classify(si.NumericRatio),
			Payload:      si.Payload,
			Position:     si.Position,
			Region:       si.Region,
			NumericRatio: si.NumericRatio,
		}
		if _, err := tx.AddSegment(ctx, seg); err != nil {
			return err
		}
		segments = append(segments, seg)

		weight := extract.PositionWeight(si.Region)
		for _, cand := range p.extractor.ExtractSegment(si.Payload) {
			if _, err := tx.AddOccurrence(ctx, seg, store.OccurrenceInput{
				Term:         cand.Term,
				IsPhrase:     cand.IsPhrase,
				Frequency:    cand.Frequency,
				Context:      cand.Context,
				NumericValue: cand.NumericValue,
				Weight:       weight,
			}); err != nil {
				return err
			}
		}
	}
	res.Segments = len(segments)

	ev, err := tx.DocumentEvidence(ctx, id)
	if err != nil {
		return err
	}
	res.Keywords = len(ev.KeywordIDs)

	resolution, err := p.resolver.Resolve(doc, ev)
	if err != nil {
		return err
	}
	res.Resolution = resolution

	if err := assign.Apply(ctx, tx, doc, segments, ev, resolution); err != nil {
		return err
	}

	return tx.SetDocumentStatus(ctx, id, store.DocStatusComplete)
}

// markFailed records the failed status after a rollback. Best effort: when
// the document row itself rolled back there is nothing to mark.
func (p *Pipeline) markFailed(ctx context.Context, in DocumentInput) {
	doc, err := p.st.GetDocumentByHash(ctx, store.HashContent(in.Content))
	if err != nil || doc == nil {
		return
	}
	if err := p.st.SetDocumentStatus(ctx, doc.ID, store.DocStatusFailed); err != nil {
		p.log.Warn("marking document failed", zap.Int64("document_id", doc.ID), zap.Error(err))
	}
}

// BatchResult pairs one input with its outcome.
type BatchResult struct {
	Input  DocumentInput
	Result *Result
	Err    error
}

// ProcessBatch fans the inputs out over the worker pool. Results arrive in
// completion order. Individual failures do not stop the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, inputs []DocumentInput) []BatchResult {
	jobs := make(chan DocumentInput)
	out := make(chan BatchResult, len(inputs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range jobs {
				res, err := p.Process(ctx, in)
				out <- BatchResult{Input: in, Result: res, Err: err}
			}
		}()
	}

	for _, in := range inputs {
		jobs <- in
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]BatchResult, 0, len(inputs))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// ReResolve re-runs detection and assignment for an already-processed
// document using its existing evidence. New pending rows are created when
// the outcome still falls below the auto-assign threshold; an automatic
// assignment closes the document's earlier queued rows as merged. Previously
// rejected rows stay rejected.
func (p *Pipeline) ReResolve(ctx context.Context, documentID int64) (*Result, error) {
	res := &Result{UnitID: uuid.NewString()}
	err := p.st.InTx(ctx, func(tx *store.Tx) error {
		doc, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document %d: %w", documentID, store.ErrNotFound)
		}
		res.DocumentID = doc.ID

		segments, err := tx.SegmentsByDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		res.Segments = len(segments)

		ev, err := tx.DocumentEvidence(ctx, doc.ID)
		if err != nil {
			return err
		}
		res.Keywords = len(ev.KeywordIDs)

		resolution, err := p.resolver.Resolve(doc, ev)
		if err != nil {
			return err
		}
		res.Resolution = resolution

		return assign.Apply(ctx, tx, doc, segments, ev, resolution)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func fileExtension(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		switch filename[i] {
		case '.':
			return filename[i+1:]
		case '/', '\\':
			return ""
		}
	}
	return ""
}
