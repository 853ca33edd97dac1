// Package risk combines the independent risk signals for a batch into one
// score, a reason set and an alert label.
//
// Three signals are weighted: rolling anomaly (0.5), supervised classifier
// (0.3) and graph structure (0.2). Per-transaction heuristics add reasons
// without moving the score. A batch is labelled alert when its score reaches
// the alert threshold or when any reason fired.
package risk

// Label is the verdict attached to a scored batch.
type Label string

const (
	LabelNormal Label = "normal"
	LabelAlert  Label = "alert"
)

// DefaultAlertThreshold is the score at or above which a batch alerts.
const DefaultAlertThreshold = 0.8

// Ensemble weights and reason thresholds.
const (
	WeightAnomaly    = 0.5
	WeightClassifier = 0.3
	WeightGraph      = 0.2

	HighAnomalyThreshold    = 0.8
	HighClassifierThreshold = 0.8
	RiskyGraphThreshold     = 0.7
)

// Heuristic thresholds.
const (
	HighValueThreshold = 100.0
	HighGasThreshold   = 1_000_000
)

// Reason tags.
const (
	ReasonGraphOnly        = "graph_only"
	ReasonHighAnomaly      = "high_anomaly"
	ReasonHighClassifier   = "high_classifier"
	ReasonRiskyGraph       = "risky_graph_structure"
	ReasonHighValue        = "high_value_transfer"
	ReasonHighGas          = "unusually_high_gas"
	ReasonContractCreation = "contract_creation_or_missing_to"
)

// Assessment is the combined verdict for a batch.
type Assessment struct {
	Score   float64            `json:"score"`
	Label   Label              `json:"label"`
	Reasons []string           `json:"reasons"`
	Factors map[string]float64 `json:"factors"`
}

// Signals carries every input the engine needs for one batch.
type Signals struct {
	Anomaly    []float64
	Classifier []float64
	Graph      float64
	Heuristics []string
}
