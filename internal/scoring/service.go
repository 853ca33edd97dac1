// Package scoring orchestrates one score request: normalization, rolling
// anomaly scoring, graph analysis, classification, the ensemble, attestation
// and alert dispatch.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/pulseguard/internal/alerts"
	"github.com/mbd888/pulseguard/internal/attest"
	"github.com/mbd888/pulseguard/internal/classifier"
	"github.com/mbd888/pulseguard/internal/explain"
	"github.com/mbd888/pulseguard/internal/features"
	"github.com/mbd888/pulseguard/internal/graph"
	"github.com/mbd888/pulseguard/internal/metrics"
	"github.com/mbd888/pulseguard/internal/realtime"
	"github.com/mbd888/pulseguard/internal/risk"
	"github.com/mbd888/pulseguard/internal/rolling"
	"github.com/mbd888/pulseguard/internal/traces"
	"github.com/mbd888/pulseguard/internal/txn"
)

// MaxBatchSize bounds the number of transactions in one request.
const MaxBatchSize = 1000

var (
	ErrEmptyRequest       = errors.New("request must contain tx or batch")
	ErrBatchTooLarge      = fmt.Errorf("batch exceeds %d transactions", MaxBatchSize)
	ErrInvalidTransaction = txn.ErrInvalid
)

// Request is the body of a score request. Tx is processed before Batch.
type Request struct {
	Tx    *txn.Payload  `json:"tx,omitempty"`
	Batch []txn.Payload `json:"batch,omitempty"`
}

// Result is the attested part of a score response.
type Result struct {
	Score          float64             `json:"score"`
	Label          risk.Label          `json:"label"`
	Reasons        []string            `json:"reasons"`
	Explainability explain.Explanation `json:"explainability"`
}

// RiskScore returns the final score.
func (r *Result) RiskScore() float64 { return r.Score }

// RiskReasons returns the reason tags.
func (r *Result) RiskReasons() []string { return r.Reasons }

// Response is a Result plus its attestation.
type Response struct {
	Result
	Attestation attest.Attestation `json:"attestation"`
}

// Dispatcher delivers alert events. Implementations must not block.
type Dispatcher interface {
	Dispatch(event *alerts.Event)
}

// ScorePublisher receives every result, alerting or not.
type ScorePublisher interface {
	PublishScore(s realtime.Scored)
}

// Service scores transaction batches against the shared rolling window.
type Service struct {
	pipeline   *rolling.Pipeline
	engine     *risk.Engine
	attestor   *attest.Attestor
	classifier classifier.Scorer
	cycles     graph.CycleCounter
	dispatcher Dispatcher
	publisher  ScorePublisher
	logger     *slog.Logger

	minHops    int
	maxPaths   int
	startNodes int
}

// NewService creates a scoring service with the linear classifier and the
// bounded simple-cycle counter.
func NewService(pipeline *rolling.Pipeline, engine *risk.Engine, attestor *attest.Attestor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pipeline:   pipeline,
		engine:     engine,
		attestor:   attestor,
		classifier: classifier.NewLinear(),
		cycles:     graph.NewSimpleCycles(graph.DefaultMaxCycles),
		logger:     logger,
		minHops:    graph.DefaultMinHops,
		maxPaths:   graph.DefaultMaxPaths,
		startNodes: graph.DefaultStartNodes,
	}
}

// WithClassifier replaces the classifier.
func (s *Service) WithClassifier(c classifier.Scorer) *Service {
	s.classifier = c
	return s
}

// WithCycleCounter replaces the cycle counting capability. Pass
// graph.NoCycles{} to disable enumeration.
func (s *Service) WithCycleCounter(cc graph.CycleCounter) *Service {
	s.cycles = cc
	return s
}

// WithPathLimits sets the path finder bounds.
func (s *Service) WithPathLimits(minHops, maxPaths, startNodes int) *Service {
	s.minHops = minHops
	s.maxPaths = maxPaths
	s.startNodes = startNodes
	return s
}

// WithDispatcher sets where alerts go.
func (s *Service) WithDispatcher(d Dispatcher) *Service {
	s.dispatcher = d
	return s
}

// WithScorePublisher sets an observer for every result.
func (s *Service) WithScorePublisher(p ScorePublisher) *Service {
	s.publisher = p
	return s
}

// Pipeline returns the shared rolling window.
func (s *Service) Pipeline() *rolling.Pipeline { return s.pipeline }

// Classifier returns the configured classifier.
func (s *Service) Classifier() classifier.Scorer { return s.classifier }

// graphOutcome is the output of the graph stage.
type graphOutcome struct {
	nodes   int
	metrics map[string]float64
	paths   [][]string
}

// Score runs the full pipeline for one request. Every transaction updates
// the rolling window exactly once, in request order, after being scored.
func (s *Service) Score(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "scoring.Score")
	defer span.End()

	records, err := s.normalize(req)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.BatchSize(len(records)))

	vectors := features.ExtractBatch(records)
	anomaly := make([]float64, len(vectors))
	var gout graphOutcome

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, gspan := traces.StartSpan(gctx, "scoring.graph")
		defer gspan.End()

		dag := graph.Build(records)
		gout = graphOutcome{
			nodes:   dag.NumNodes(),
			metrics: graph.Metrics(dag, s.cycles),
			paths:   graph.FindPaths(dag, s.minHops, s.maxPaths, s.startNodes),
		}
		gspan.SetAttributes(traces.GraphNodes(gout.nodes))
		return nil
	})
	g.Go(func() error {
		rctx, rspan := traces.StartSpan(gctx, "scoring.rolling")
		defer rspan.End()

		for i, v := range vectors {
			score, err := s.pipeline.UpdateAndScore(rctx, v)
			if err != nil {
				traces.RecordError(rspan, err)
				return fmt.Errorf("rolling score tx %d: %w", i, err)
			}
			anomaly[i] = score
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	metrics.HistoryBufferSize.Set(float64(s.pipeline.Len()))

	_, cspan := traces.StartSpan(ctx, "scoring.classify")
	clf := s.classifier.ScoreBatch(vectors)
	assessment := s.engine.Assess(risk.Signals{
		Anomaly:    anomaly,
		Classifier: clf,
		Graph:      risk.GraphScore(gout.metrics, len(gout.paths) > 0),
		Heuristics: risk.BatchReasons(records),
	})
	cspan.SetAttributes(traces.Score(assessment.Score), traces.Label(string(assessment.Label)))
	cspan.End()

	result := &Result{
		Score:          assessment.Score,
		Label:          assessment.Label,
		Reasons:        assessment.Reasons,
		Explainability: explain.Build(vectors, gout.paths, gout.metrics),
	}

	_, aspan := traces.StartSpan(ctx, "scoring.attest")
	att, err := s.attestor.Attest(result)
	aspan.SetAttributes(traces.AttestationAlg(att.Alg))
	if err != nil {
		traces.RecordError(aspan, err)
		aspan.End()
		traces.RecordError(span, err)
		return nil, fmt.Errorf("attest result: %w", err)
	}
	aspan.End()

	span.SetAttributes(
		traces.Score(result.Score),
		traces.Label(string(result.Label)),
		traces.Reasons(result.Reasons),
	)
	metrics.ObserveScore(string(result.Label), result.Score, len(records), time.Since(start))

	if s.publisher != nil {
		s.publisher.PublishScore(result)
	}
	if result.Label == risk.LabelAlert && s.dispatcher != nil {
		s.dispatcher.Dispatch(alerts.NewEvent(result, att))
	}

	s.logger.Debug("scored request",
		"txs", len(records),
		"score", result.Score,
		"label", result.Label,
		"reasons", result.Reasons,
	)

	return &Response{Result: *result, Attestation: att}, nil
}

func (s *Service) normalize(req Request) ([]txn.Record, error) {
	n := len(req.Batch)
	if req.Tx != nil {
		n++
	}
	if n == 0 {
		return nil, ErrEmptyRequest
	}
	if n > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	records := make([]txn.Record, 0, n)
	if req.Tx != nil {
		r, err := txn.Normalize(*req.Tx)
		if err != nil {
			return nil, fmt.Errorf("tx: %w", err)
		}
		records = append(records, r)
	}
	batch, err := txn.NormalizeAll(req.Batch)
	if err != nil {
		return nil, err
	}
	return append(records, batch...), nil
}
