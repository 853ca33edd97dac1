package risk

import (
	"math"
	"sort"

	"github.com/mbd888/pulseguard/internal/graph"
	"github.com/mbd888/pulseguard/internal/txn"
)

// Engine applies the ensemble and alert threshold. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	alertThreshold float64
}

// NewEngine creates an engine with the default alert threshold.
func NewEngine() *Engine {
	return &Engine{alertThreshold: DefaultAlertThreshold}
}

// WithAlertThreshold overrides the default alert threshold.
func (e *Engine) WithAlertThreshold(t float64) *Engine {
	e.alertThreshold = t
	return e
}

// AlertThreshold returns the configured threshold.
func (e *Engine) AlertThreshold() float64 {
	return e.alertThreshold
}

// Assess combines the signals and labels the result.
func (e *Engine) Assess(s Signals) *Assessment {
	score, ensembleReasons := Combine(s.Anomaly, s.Classifier, s.Graph)
	reasons := MergeReasons(ensembleReasons, s.Heuristics)

	return &Assessment{
		Score:   score,
		Label:   e.Label(score, reasons),
		Reasons: reasons,
		Factors: map[string]float64{
			"anomaly":    mean(s.Anomaly),
			"classifier": mean(s.Classifier),
			"graph":      s.Graph,
		},
	}
}

// Label returns alert when score reaches the threshold or any reason fired.
func (e *Engine) Label(score float64, reasons []string) Label {
	if score >= e.alertThreshold || len(reasons) > 0 {
		return LabelAlert
	}
	return LabelNormal
}

// Combine merges anomaly scores, classifier scores and the graph score.
// With no per-transaction scores at all the graph score stands alone.
func Combine(anomaly, classifier []float64, graphScore float64) (float64, []string) {
	if len(anomaly) == 0 && len(classifier) == 0 {
		return clamp01(graphScore), []string{ReasonGraphOnly}
	}

	a := mean(anomaly)
	c := mean(classifier)
	final := clamp01(WeightAnomaly*a + WeightClassifier*c + WeightGraph*graphScore)

	var reasons []string
	if a > HighAnomalyThreshold {
		reasons = append(reasons, ReasonHighAnomaly)
	}
	if c > HighClassifierThreshold {
		reasons = append(reasons, ReasonHighClassifier)
	}
	if graphScore > RiskyGraphThreshold {
		reasons = append(reasons, ReasonRiskyGraph)
	}
	return final, reasons
}

// GraphScore blends average degree centrality with whether any multi-hop
// path was found.
func GraphScore(metrics map[string]float64, pathsFound bool) float64 {
	pathFlag := 0.0
	if pathsFound {
		pathFlag = 1
	}
	return clamp01(0.5*metrics[graph.MetricAvgDegreeCentrality] + 0.5*pathFlag)
}

// TransactionReasons returns the heuristic tags for a single record.
func TransactionReasons(r txn.Record) []string {
	var reasons []string
	if r.Value > HighValueThreshold {
		reasons = append(reasons, ReasonHighValue)
	}
	if r.Gas > HighGasThreshold {
		reasons = append(reasons, ReasonHighGas)
	}
	if r.IsContractCreation() {
		reasons = append(reasons, ReasonContractCreation)
	}
	return reasons
}

// BatchReasons unions the heuristic tags of every record.
func BatchReasons(records []txn.Record) []string {
	sets := make([][]string, 0, len(records))
	for _, r := range records {
		sets = append(sets, TransactionReasons(r))
	}
	return MergeReasons(sets...)
}

// MergeReasons returns the sorted union of the given tag sets. The result
// is never nil.
func MergeReasons(sets ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, set := range sets {
		for _, r := range set {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
