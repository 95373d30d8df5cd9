package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/internal/kg/builder"
	"github.com/biokg/backend/internal/metrics"
	"github.com/biokg/backend/internal/storage/graphfile"
	"github.com/biokg/backend/internal/storage/models"
	"github.com/biokg/backend/pkg/logger"
)

// Ledger records the outcome of each processed abstract.
type Ledger interface {
	RecordRun(run *models.ProcessingRun, changes []graph.ChangeRecord) error
}

// Mirror receives the nodes and edges touched by an abstract.
type Mirror interface {
	Export(ctx context.Context, nodes []*graph.Node, edges []*graph.Edge) error
}

// Outcome is the result of processing a single abstract.
type Outcome struct {
	PMID     string               `json:"pmid"`
	RunID    string               `json:"run_id,omitempty"`
	Status   models.RunStatus     `json:"status"`
	Error    string               `json:"error,omitempty"`
	Changes  []graph.ChangeRecord `json:"changes"`
	Duration time.Duration        `json:"duration_ns"`
}

type RunSummary struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Changes     int           `json:"changes"`
	FailedPMIDs []string      `json:"failed_pmids,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// Processor owns the graph document and applies abstracts to it one at a
// time. Every abstract, successful or not, ends with the document on disk.
type Processor struct {
	mu      sync.RWMutex
	doc     *graph.Document
	store   *graphfile.Store
	aliases *graphfile.AliasStore
	builder *builder.Builder
	ledger  Ledger
	mirror  Mirror
	now     func() time.Time
}

// NewProcessor takes ownership of doc. aliases, ledger and mirror may be nil.
func NewProcessor(doc *graph.Document, store *graphfile.Store, aliases *graphfile.AliasStore, b *builder.Builder, ledger Ledger, mirror Mirror) *Processor {
	metrics.GraphNodes.Set(float64(doc.NodeCount()))
	metrics.GraphEdges.Set(float64(doc.EdgeCount()))

	return &Processor{
		doc:     doc,
		store:   store,
		aliases: aliases,
		builder: b,
		ledger:  ledger,
		mirror:  mirror,
		now:     time.Now,
	}
}

// View runs fn with read access to the document. fn must not retain doc or
// any node or edge pointer after returning.
func (p *Processor) View(fn func(doc *graph.Document)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.doc)
}

// Run processes abstracts in order. A failing abstract is logged and
// recorded; the loop moves on to the next one. Only cancellation stops it.
func (p *Processor) Run(ctx context.Context, abstracts []graph.Abstract) (RunSummary, error) {
	start := p.now()
	summary := RunSummary{Total: len(abstracts)}

	logger.Info("Processing abstracts", zap.Int("count", len(abstracts)))

	for i, a := range abstracts {
		if err := ctx.Err(); err != nil {
			summary.Duration = p.now().Sub(start)
			return summary, err
		}

		logger.Info("Processing abstract",
			zap.Int("index", i+1),
			zap.Int("total", len(abstracts)),
			zap.String("pmid", a.PMID),
		)

		out, err := p.ProcessOne(ctx, a)
		summary.Changes += len(out.Changes)
		if err != nil {
			summary.Failed++
			summary.FailedPMIDs = append(summary.FailedPMIDs, a.PMID)
			continue
		}
		summary.Succeeded++
	}

	summary.Duration = p.now().Sub(start)
	logger.Info("Processing complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("changes", summary.Changes),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// ProcessOne merges a single abstract and persists the document. The
// returned error is the merge error, if any; persistence errors are joined
// onto it.
func (p *Processor) ProcessOne(ctx context.Context, a graph.Abstract) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := p.now()
	res, mergeErr := p.builder.BuildFromAbstract(ctx, p.doc, a)

	out := Outcome{
		PMID:    a.PMID,
		Status:  models.RunOK,
		Changes: res.Changes,
	}
	if out.Changes == nil {
		out.Changes = []graph.ChangeRecord{}
	}

	err := mergeErr
	if mergeErr != nil {
		logger.Error("Failed to process abstract", zap.String("pmid", a.PMID), zap.Error(mergeErr))
	}

	if saveErr := p.persist(); saveErr != nil {
		logger.Error("Failed to persist graph", zap.String("pmid", a.PMID), zap.Error(saveErr))
		err = errors.Join(err, fmt.Errorf("persist graph: %w", saveErr))
	}

	if err != nil {
		out.Status = models.RunFailed
		out.Error = err.Error()
	}
	finished := p.now()
	out.Duration = finished.Sub(started)

	if p.ledger != nil {
		run := &models.ProcessingRun{
			PMID:       a.PMID,
			Status:     out.Status,
			Error:      out.Error,
			StartedAt:  started,
			FinishedAt: finished,
		}
		if lerr := p.ledger.RecordRun(run, res.Changes); lerr != nil {
			logger.Warn("Failed to record processing run", zap.String("pmid", a.PMID), zap.Error(lerr))
		} else {
			out.RunID = run.ID
		}
	}

	p.export(ctx, res)

	metrics.AbstractsProcessed.WithLabelValues(string(out.Status)).Inc()
	metrics.AbstractDuration.Observe(out.Duration.Seconds())
	metrics.GraphNodes.Set(float64(p.doc.NodeCount()))
	metrics.GraphEdges.Set(float64(p.doc.EdgeCount()))

	return out, err
}

func (p *Processor) persist() error {
	if err := p.store.Save(p.doc); err != nil {
		return err
	}
	if p.aliases != nil {
		if err := p.aliases.Save(p.doc); err != nil {
			return err
		}
	}
	return nil
}

// export mirrors touched nodes and changed edges. Failures are logged only.
func (p *Processor) export(ctx context.Context, res builder.Result) {
	if p.mirror == nil || (len(res.NodeIDs) == 0 && len(res.Changes) == 0) {
		return
	}

	nodes := make([]*graph.Node, 0, len(res.NodeIDs))
	for _, id := range res.NodeIDs {
		if n, ok := p.doc.Node(id); ok {
			nodes = append(nodes, n)
		}
	}

	seen := make(map[string]bool, len(res.Changes))
	edges := make([]*graph.Edge, 0, len(res.Changes))
	for _, ch := range res.Changes {
		if seen[ch.EdgeID] {
			continue
		}
		seen[ch.EdgeID] = true
		if e, ok := p.doc.Edge(ch.EdgeID); ok {
			edges = append(edges, e)
		}
	}

	if err := p.mirror.Export(ctx, nodes, edges); err != nil {
		logger.Warn("Failed to mirror graph changes", zap.Error(err))
	}
}
