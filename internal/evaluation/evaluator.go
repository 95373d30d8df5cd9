package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/pkg/logger"
)

// Extractor is the collaborator under evaluation.
type Extractor interface {
	ExtractAbstract(ctx context.Context, a graph.Abstract) (graph.Extraction, error)
}

type Evaluator struct {
	extractor Extractor
}

type EvaluationDataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem pairs an abstract with the hand-annotated extraction it
// should produce.
type DatasetItem struct {
	Abstract graph.Abstract   `json:"abstract"`
	Expected graph.Extraction `json:"expected"`
}

// Score holds match counts for one kind of extracted item.
type Score struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
}

func (s *Score) add(o Score) {
	s.TruePositives += o.TruePositives
	s.FalsePositives += o.FalsePositives
	s.FalseNegatives += o.FalseNegatives
}

func (s Score) Precision() float64 {
	if d := s.TruePositives + s.FalsePositives; d > 0 {
		return float64(s.TruePositives) / float64(d)
	}
	return 0
}

func (s Score) Recall() float64 {
	if d := s.TruePositives + s.FalseNegatives; d > 0 {
		return float64(s.TruePositives) / float64(d)
	}
	return 0
}

func (s Score) F1() float64 {
	p, r := s.Precision(), s.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

type ItemResult struct {
	PMID      string `json:"pmid"`
	Entities  Score  `json:"entities"`
	Relations Score  `json:"relations"`
	Error     string `json:"error,omitempty"`
}

type EvaluationReport struct {
	TotalItems  int          `json:"total_items"`
	FailedItems int          `json:"failed_items"`
	Entities    Score        `json:"entities"`
	Relations   Score        `json:"relations"`
	Items       []ItemResult `json:"items"`
}

func NewEvaluator(extractor Extractor) *Evaluator {
	return &Evaluator{
		extractor: extractor,
	}
}

// EvaluateItem extracts from one abstract and scores the output against
// the expected extraction.
func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem) (ItemResult, error) {
	result := ItemResult{PMID: item.Abstract.PMID}

	got, err := e.extractor.ExtractAbstract(ctx, item.Abstract)
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("extract %s: %w", item.Abstract.PMID, err)
	}

	result.Entities = compare(entityKeys(item.Expected.Entities), entityKeys(got.Entities))
	result.Relations = compare(relationKeys(item.Expected.Relations), relationKeys(got.Relations))

	logger.Debug("Item evaluated",
		zap.String("pmid", result.PMID),
		zap.Float64("entity_f1", result.Entities.F1()),
		zap.Float64("relation_f1", result.Relations.F1()),
	)
	return result, nil
}

// RunDatasetEvaluation scores every item. Failed extractions count every
// expected item as a false negative and do not stop the run.
func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &EvaluationReport{
		TotalItems: len(dataset.Items),
		Items:      make([]ItemResult, 0, len(dataset.Items)),
	}

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logger.Info("Evaluating item", zap.Int("index", i+1), zap.Int("total", len(dataset.Items)))

		result, err := e.EvaluateItem(ctx, item)
		if err != nil {
			logger.Error("Failed to evaluate item", zap.String("pmid", item.Abstract.PMID), zap.Error(err))
			report.FailedItems++
			result.Entities = Score{FalseNegatives: len(entityKeys(item.Expected.Entities))}
			result.Relations = Score{FalseNegatives: len(relationKeys(item.Expected.Relations))}
		}

		report.Entities.add(result.Entities)
		report.Relations.add(result.Relations)
		report.Items = append(report.Items, result)
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalItems),
		zap.Int("failed", report.FailedItems),
		zap.Float64("entity_f1", report.Entities.F1()),
		zap.Float64("relation_f1", report.Relations.F1()),
	)

	return report, nil
}

func LoadDatasetFromJSON(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	return &dataset, nil
}

func GenerateReport(report *EvaluationReport) string {
	return fmt.Sprintf(`
Extraction Evaluation
=====================

Items: %d (%d failed)

Entities:
- Precision: %.3f
- Recall: %.3f
- F1: %.3f
- TP/FP/FN: %d/%d/%d

Relations:
- Precision: %.3f
- Recall: %.3f
- F1: %.3f
- TP/FP/FN: %d/%d/%d
`,
		report.TotalItems, report.FailedItems,
		report.Entities.Precision(), report.Entities.Recall(), report.Entities.F1(),
		report.Entities.TruePositives, report.Entities.FalsePositives, report.Entities.FalseNegatives,
		report.Relations.Precision(), report.Relations.Recall(), report.Relations.F1(),
		report.Relations.TruePositives, report.Relations.FalsePositives, report.Relations.FalseNegatives,
	)
}

func compare(expected, got map[string]struct{}) Score {
	var s Score
	for k := range got {
		if _, ok := expected[k]; ok {
			s.TruePositives++
		} else {
			s.FalsePositives++
		}
	}
	s.FalseNegatives = len(expected) - s.TruePositives
	return s
}

// Entities match on case-folded name and type.
func entityKeys(entities []graph.EntityInfo) map[string]struct{} {
	keys := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		keys[entityKey(e)] = struct{}{}
	}
	return keys
}

func relationKeys(relations []graph.RelationInfo) map[string]struct{} {
	keys := make(map[string]struct{}, len(relations))
	for _, r := range relations {
		keys[entityKey(r.Source)+"->"+entityKey(r.Target)+"|"+string(r.RelationshipType)] = struct{}{}
	}
	return keys
}

func entityKey(e graph.EntityInfo) string {
	return strings.ToLower(strings.TrimSpace(e.Name)) + "|" + string(e.Type)
}
