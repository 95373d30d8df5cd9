package graph

import (
	"fmt"
	"strings"
	"time"
)

type EntityType string

const (
	EntityGene           EntityType = "GENE"
	EntityProtein        EntityType = "PROTEIN"
	EntityDisease        EntityType = "DISEASE"
	EntityChemical       EntityType = "CHEMICAL"
	EntityGeneticVariant EntityType = "GENETIC_VARIANT"
	EntitySpecies        EntityType = "SPECIES"
)

var EntityTypes = []EntityType{
	EntityGene, EntityProtein, EntityDisease, EntityChemical, EntityGeneticVariant, EntitySpecies,
}

func (t EntityType) Valid() bool {
	for _, v := range EntityTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseEntityType accepts the spellings emitted by extraction models, e.g.
// "Genetic Variant" or "genetic-variant".
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(canonicalEnum(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown entity type %q", ErrInvalidEntity, s)
	}
	return t, nil
}

type RelationshipType string

const (
	RelAssociate         RelationshipType = "ASSOCIATE"
	RelCause             RelationshipType = "CAUSE"
	RelCompare           RelationshipType = "COMPARE"
	RelCotreat           RelationshipType = "COTREAT"
	RelDrugInteract      RelationshipType = "DRUG_INTERACT"
	RelInhibit           RelationshipType = "INHIBIT"
	RelInteract          RelationshipType = "INTERACT"
	RelNegativeCorrelate RelationshipType = "NEGATIVE_CORRELATE"
	RelPositiveCorrelate RelationshipType = "POSITIVE_CORRELATE"
	RelPrevent           RelationshipType = "PREVENT"
	RelStimulate         RelationshipType = "STIMULATE"
	RelTreat             RelationshipType = "TREAT"
	RelSubtype           RelationshipType = "SUBTYPE"
)

var RelationshipTypes = []RelationshipType{
	RelAssociate, RelCause, RelCompare, RelCotreat, RelDrugInteract, RelInhibit, RelInteract,
	RelNegativeCorrelate, RelPositiveCorrelate, RelPrevent, RelStimulate, RelTreat, RelSubtype,
}

func (t RelationshipType) Valid() bool {
	for _, v := range RelationshipTypes {
		if t == v {
			return true
		}
	}
	return false
}

func ParseRelationshipType(s string) (RelationshipType, error) {
	t := RelationshipType(canonicalEnum(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown relationship type %q", s)
	}
	return t, nil
}

func canonicalEnum(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// EntityInfo is an extracted entity mention, not yet bound to a node.
type EntityInfo struct {
	Name        string            `json:"name"`
	Type        EntityType        `json:"type"`
	Description string            `json:"description,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
}

type RelationInfo struct {
	Source           EntityInfo       `json:"source_entity"`
	Target           EntityInfo       `json:"target_entity"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Context          map[string]any   `json:"context"`
	SupportingText   string           `json:"supporting_text"`
	Confidence       float64          `json:"confidence"`
}

// Extraction is the typed output of one extraction call over an abstract.
type Extraction struct {
	Entities  []EntityInfo   `json:"entities"`
	Relations []RelationInfo `json:"relations"`
}

type Abstract struct {
	PMID     string   `json:"pmid" validate:"required"`
	Title    string   `json:"title" validate:"required"`
	Abstract string   `json:"abstract"`
	Authors  []string `json:"authors"`
	Journal  string   `json:"journal"`
	Year     *int     `json:"year,omitempty" validate:"omitempty,min=1800,max=2100"`
}

func (a Abstract) Citation() CitationMetadata {
	return CitationMetadata{
		Title:   a.Title,
		Authors: append([]string(nil), a.Authors...),
		Journal: a.Journal,
		Year:    a.Year,
	}
}

type Node struct {
	ID               string            `json:"id"`
	EntityType       EntityType        `json:"entity_type"`
	PrimaryName      string            `json:"primary_name"`
	AlternativeNames []string          `json:"alternative_names"`
	ExternalIDs      map[string]string `json:"external_ids"`
	Description      string            `json:"description"`
	CreationDate     time.Time         `json:"creation_date"`
	LastUpdated      time.Time         `json:"last_updated"`
}

// Names returns the primary name followed by the alternative names.
func (n *Node) Names() []string {
	return append([]string{n.PrimaryName}, n.AlternativeNames...)
}

func (n *Node) hasName(name string) bool {
	for _, known := range n.Names() {
		if strings.EqualFold(known, name) {
			return true
		}
	}
	return false
}

type CitationMetadata struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Journal string   `json:"journal"`
	Year    *int     `json:"year"`
}

type Evidence struct {
	PaperID              string           `json:"paper_id"`
	CitationMetadata     CitationMetadata `json:"citation_metadata"`
	ExperimentalContext  map[string]any   `json:"experimental_context"`
	StatisticalEvidence  map[string]any   `json:"statistical_evidence"`
	ExtractedText        string           `json:"extracted_text"`
	ExtractionConfidence float64          `json:"extraction_confidence"`
	LastVerified         time.Time        `json:"last_verified"`
}

type AggregatedMetadata struct {
	TotalPapers      int     `json:"total_papers"`
	EarliestEvidence *int    `json:"earliest_evidence"`
	LatestEvidence   *int    `json:"latest_evidence"`
	EvidenceStrength float64 `json:"evidence_strength"`
	// ContradictoryEvidence is reserved; no rule sets it yet.
	ContradictoryEvidence bool `json:"contradictory_evidence"`
}

type Edge struct {
	SourceNode         string             `json:"source_node"`
	TargetNode         string             `json:"target_node"`
	RelationshipType   RelationshipType   `json:"relationship_type"`
	Evidence           []Evidence         `json:"evidence"`
	AggregatedMetadata AggregatedMetadata `json:"aggregated_metadata"`
	LastUpdated        time.Time          `json:"last_updated"`
}

func (e *Edge) Key() EdgeKey {
	return EdgeKey{Source: e.SourceNode, Target: e.TargetNode, Type: e.RelationshipType}
}

// EdgeKey identifies a directed typed edge.
type EdgeKey struct {
	Source string
	Target string
	Type   RelationshipType
}

func (k EdgeKey) String() string {
	return k.Source + "_" + k.Target + "_" + string(k.Type)
}

type ChangeAction string

const (
	ActionCreated ChangeAction = "created"
	ActionUpdated ChangeAction = "updated"
)

type ChangeRecord struct {
	EdgeID   string       `json:"edge_id"`
	SourceID string       `json:"source_id"`
	TargetID string       `json:"target_id"`
	Action   ChangeAction `json:"action"`
}

func IntPtr(v int) *int {
	return &v
}
