package crystal

import (
	"fmt"
	"log/slog"
	"time"

	engine "github.com/cognidex/crystal"
	"github.com/cognidex/crystal/pkg/alert"
	"github.com/cognidex/crystal/pkg/audit"
	"github.com/cognidex/crystal/pkg/confidence"
	"github.com/cognidex/crystal/pkg/config"
	"github.com/cognidex/crystal/pkg/gate"
	"github.com/cognidex/crystal/pkg/observation"
	"github.com/cognidex/crystal/pkg/ontology"
	"github.com/cognidex/crystal/pkg/store"
	"github.com/cognidex/crystal/pkg/types"
)

// runtimeDeps bundles what the commands need beyond the client itself.
type runtimeDeps struct {
	client   *engine.Client
	queue    *observation.Queue
	trail    audit.Trail
	exporter *audit.ParquetExporter
}

// initializeEngine wires the full engine from configuration: graph store
// behind an optional circuit breaker, Badger-backed watermark and audit
// trail sharing one database, the ontology table, and alerting.
func initializeEngine(cfg *config.Config, logger *slog.Logger) (*runtimeDeps, error) {
	alerter := alert.FromConfig(cfg.Alert)

	graph, err := store.Open(store.Options{
		Driver:   cfg.Database.Driver,
		URI:      cfg.Database.URI,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}

	if cfg.CircuitBreaker.Enabled {
		graph = store.WithBreaker(graph, store.BreakerSettings{
			MaxRequests:      cfg.CircuitBreaker.MaxRequests,
			Interval:         time.Duration(cfg.CircuitBreaker.Interval) * time.Second,
			Timeout:          time.Duration(cfg.CircuitBreaker.Timeout) * time.Second,
			ReadyToTripRatio: cfg.CircuitBreaker.ReadyToTripRatio,
			OnOpen: func(name string) {
				alerter.Alert("graph store circuit open",
					fmt.Sprintf("breaker %q opened; batches will abort until the store recovers", name))
			},
		}, logger)
	}

	trail, err := audit.NewBadgerTrail(cfg.Badger.Path)
	if err != nil {
		graph.Close()
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	watermarks := observation.WrapBadgerWatermarkStore(trail.DB())

	var classifier ontology.Classifier = ontology.StaticClassifier{}
	if cfg.Ontology.TablePath != "" {
		table, err := ontology.LoadTableClassifier(cfg.Ontology.TablePath)
		if err != nil {
			graph.Close()
			trail.Close()
			return nil, fmt.Errorf("load ontology table: %w", err)
		}
		logger.Info("ontology table loaded", "path", cfg.Ontology.TablePath, "codes", table.Len())
		classifier = table
	}

	queue := observation.NewQueue()

	client, err := engine.NewClient(graph, queue, watermarks, trail, classifier, alerter,
		clientConfig(cfg), logger)
	if err != nil {
		graph.Close()
		trail.Close()
		return nil, err
	}

	deps := &runtimeDeps{client: client, queue: queue, trail: trail}
	if cfg.Export.Enabled {
		exporter, err := audit.NewParquetExporter(cfg.Export.Path)
		if err != nil {
			return nil, fmt.Errorf("create parquet exporter: %w", err)
		}
		deps.exporter = exporter
	}
	return deps, nil
}

// clientConfig translates the file-level configuration into the engine's.
func clientConfig(cfg *config.Config) *engine.Config {
	promotion := gate.DefaultConfig()
	promotion.MinObservations = cfg.Promotion.MinObservations
	promotion.SemanticMinConfidence = cfg.Promotion.SemanticMinConfidence
	promotion.ReasoningMinConfidence = cfg.Promotion.ReasoningMinConfidence
	promotion.StabilityWindow = cfg.StabilityWindow()
	for typ, risk := range cfg.Promotion.RiskOverrides {
		promotion.RiskByType[typ] = types.RiskClass(risk)
	}

	lambdas := make(map[types.EntityClass]float64, len(cfg.Decay.ClassLambdas))
	for class, lambda := range cfg.Decay.ClassLambdas {
		lambdas[types.EntityClass(class)] = lambda
	}
	classByType := make(map[string]types.EntityClass, len(cfg.Decay.ClassByType))
	for typ, class := range cfg.Decay.ClassByType {
		classByType[typ] = types.EntityClass(class)
	}

	return &engine.Config{
		BatchSize:            cfg.Pipeline.BatchSize,
		FlushInterval:        cfg.FlushInterval(),
		PullLimit:            cfg.Pipeline.PullLimit,
		MaxParallelism:       cfg.Pipeline.MaxParallelism,
		PropagationThreshold: cfg.Bridge.PropagationThreshold,
		ExtractionFloor:      cfg.Bridge.ExtractionFloor,
		MergeStrategy:        confidence.Strategy(cfg.Bridge.MergeStrategy),
		Promotion:            promotion,
		DecayLambdas:         lambdas,
		DefaultLambda:        cfg.Decay.DefaultLambda,
		ClassByType:          classByType,
	}
}
