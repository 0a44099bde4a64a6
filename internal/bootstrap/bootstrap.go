// Package bootstrap wires the infrastructure every cmd/ binary shares:
// configuration, the database pool, the bus connection, the object
// store, the WAL/event plumbing, policy/authz/certificate/finality.
// Grounded on the teacher's cmd/tarsy/main.go sequence (config.Initialize
// -> database.NewClient -> service construction), generalized here
// because this system splits that single binary into one process per
// role/governance/executor/API-surface (§5: "independent consumer
// processes; any may run with replica count N >= 1").
package bootstrap

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"

	"github.com/governed-swarm/swarmrt/pkg/activation"
	"github.com/governed-swarm/swarmrt/pkg/agent/controller"
	"github.com/governed-swarm/swarmrt/pkg/agentloop"
	"github.com/governed-swarm/swarmrt/pkg/authz"
	"github.com/governed-swarm/swarmrt/pkg/bus"
	"github.com/governed-swarm/swarmrt/pkg/certificate"
	"github.com/governed-swarm/swarmrt/pkg/cleanup"
	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/governed-swarm/swarmrt/pkg/convergence"
	"github.com/governed-swarm/swarmrt/pkg/database"
	"github.com/governed-swarm/swarmrt/pkg/events"
	"github.com/governed-swarm/swarmrt/pkg/finality"
	"github.com/governed-swarm/swarmrt/pkg/graph"
	"github.com/governed-swarm/swarmrt/pkg/llm"
	"github.com/governed-swarm/swarmrt/pkg/masking"
	"github.com/governed-swarm/swarmrt/pkg/objectstore"
	"github.com/governed-swarm/swarmrt/pkg/orphan"
	"github.com/governed-swarm/swarmrt/pkg/policy"
	"github.com/governed-swarm/swarmrt/pkg/policysrc"
	"github.com/governed-swarm/swarmrt/pkg/review"
	"github.com/governed-swarm/swarmrt/pkg/roles"
	"github.com/governed-swarm/swarmrt/pkg/slack"
	"github.com/governed-swarm/swarmrt/pkg/stategraph"
	"github.com/governed-swarm/swarmrt/pkg/wal"
)

// Services bundles every shared collaborator a cmd/ binary might need.
// Each binary takes only the fields its process uses; unused fields are
// harmless zero values (e.g. the executor never touches Objects).
type Services struct {
	Config *config.Config

	DB  *database.Client
	Bus *bus.Client

	Objects *objectstore.Store

	WAL         *wal.Store
	Publisher   *events.Publisher
	ConnManager *events.ConnectionManager
	Fanout      *events.FanoutListener

	StateGraph  *stategraph.Store
	Semantic    *graph.Store
	Convergence *convergence.Store
	Review      *review.Store

	Activation *activation.Store
	Processed  *agentloop.ProcessedStore
	Decisions  *finality.DecisionStore

	Policy    *policy.Engine
	Authz     authz.Checker
	Signer    *certificate.Signer
	CertStore *certificate.Store
	Issuer    *certificate.Issuer

	Extraction *llm.ExtractionClient
	Embedding  *llm.EmbeddingClient

	Finality *finality.Evaluator
	Cleanup  *cleanup.Service
	Orphan   *orphan.Sweeper
	Notifier *slack.Service

	// GovernanceLLM is nil unless cfg.LLM.ReasoningWorkerURL is set, in
	// which case the governance agent runs its optional LLM-backed
	// variant (SPEC_FULL §C.5) ahead of the deterministic path.
	GovernanceLLM *controller.Loop
}

// New loads configuration from configDir, connects to every backing
// store, and wires the collaborators shared across processes. Individual
// binaries build their role/governance/executor/API-specific Dependencies
// structs from the returned Services.
func New(ctx context.Context, configDir string) (*Services, error) {
	cfg, err := config.Initialize(configDir)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if cfg.PolicySrc.RepoURL != "" {
		loader := policysrc.NewLoader(cfg.PolicySrc, os.Getenv("SWARM_POLICY_SOURCE_TOKEN"))
		bundle, err := loader.Load(ctx)
		if err != nil {
			slog.Warn("remote policy bundle load failed, keeping local policy.yaml", "repo", cfg.PolicySrc.RepoURL, "error", err)
		} else {
			cfg.Policy = bundle
		}
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	busClient, err := bus.Connect(cfg.Bus.URL, "swarm")
	if err != nil {
		dbClient.Close()
		return nil, fmt.Errorf("connect to bus: %w", err)
	}
	if err := busClient.EnsureStream(ctx, cfg.Bus.StreamName, []string{"swarm.events.>", "swarm.proposals.>", "swarm.actions.>"}); err != nil {
		dbClient.Close()
		busClient.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	objects, err := objectstore.New(ctx, objectstore.Config{
		Bucket:       cfg.ObjectStore.Bucket,
		Region:       cfg.ObjectStore.Region,
		Endpoint:     cfg.ObjectStore.Endpoint,
		UsePathStyle: cfg.ObjectStore.ForcePathStyle,
	})
	if err != nil {
		dbClient.Close()
		busClient.Close()
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	pool := dbClient.Pool()

	walStore := wal.NewStore(pool)
	if cfg.Masking.Enabled {
		walStore.SetMasker(masking.NewService())
	}
	publisher := events.NewPublisher(walStore, busClient)
	connManager := events.NewConnectionManager(events.NewWALCatchupAdapter(walStore), 0)
	fanout := events.NewFanoutListener(busClient, connManager)

	stateGraph := stategraph.NewStore(pool)
	semantic := graph.NewStore(pool)
	convergenceStore := convergence.NewStore(pool)
	reviewStore := review.NewStore(pool, busClient)
	if cfg.Masking.Enabled {
		reviewStore.SetMasker(masking.NewService())
	}
	activationStore := activation.NewStore(pool)

	signer, err := newSigner(cfg.Certificate)
	if err != nil {
		dbClient.Close()
		busClient.Close()
		return nil, fmt.Errorf("build certificate signer: %w", err)
	}
	certStore := certificate.NewStore(pool)
	issuer := certificate.NewIssuer(signer, certStore)

	notifier := slack.NewService(cfg.Notify)

	decisions := finality.NewDecisionStore(pool)
	finalityEvaluator := finality.New(finality.Dependencies{
		Graph:        semantic,
		Convergence:  convergenceStore,
		Decisions:    decisions,
		Review:       reviewStore,
		Certificates: issuer,
		Publisher:    publisher,
		Notifier:     notifier,
	}, cfg.Finality)

	policyEngine := policy.New(cfg.Policy, policy.RulesBinding{})

	cleanupService := cleanup.NewService(&cfg.Retention, reviewStore, convergenceStore)
	orphanSweeper := orphan.New(activationStore, walStore, busClient, cfg.Orphan.ScanInterval, cfg.Orphan.Threshold)

	var governanceLLM *controller.Loop
	if cfg.LLM.ReasoningWorkerURL != "" {
		reasonClient := llm.NewReasonClient(cfg.LLM.ReasoningWorkerURL, cfg.LLM.ReasoningTimeout)
		governanceLLM = controller.New(reasonClient, cfg.LLM.MaxIterations)
	}

	return &Services{
		Config:        cfg,
		DB:            dbClient,
		Bus:           busClient,
		Objects:       objects,
		WAL:           walStore,
		Publisher:     publisher,
		ConnManager:   connManager,
		Fanout:        fanout,
		StateGraph:    stateGraph,
		Semantic:      semantic,
		Convergence:   convergenceStore,
		Review:        reviewStore,
		Activation:    activationStore,
		Processed:     agentloop.NewProcessedStore(pool),
		Decisions:     decisions,
		Policy:        policyEngine,
		Authz:         RoleAuthz(),
		Signer:        signer,
		CertStore:     certStore,
		Issuer:        issuer,
		Extraction:    llm.NewExtractionClient(cfg.LLM.ExtractionWorkerURL, cfg.LLM.ExtractionTimeout),
		Embedding:     llm.NewEmbeddingClient(cfg.LLM.EmbeddingServiceURL, cfg.LLM.EmbeddingTimeout),
		Finality:      finalityEvaluator,
		Cleanup:       cleanupService,
		Orphan:        orphanSweeper,
		Notifier:      notifier,
		GovernanceLLM: governanceLLM,
	}, nil
}

// Close releases every backing connection. Safe to call even if New
// returned a partially-populated Services on error.
func (s *Services) Close() {
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

// RoleAuthz grants every registered role a wildcard writer tuple: the
// activation filter's anchor-node gate (§4.4) already restricts which
// StateGraph node a role may act on, so a wildcard object grant at this
// layer is sufficient (pkg/authz.StaticChecker.Check's own doc comment).
func RoleAuthz() *authz.StaticChecker {
	tuples := make([]authz.Tuple, 0, len(roles.Registry))
	for role := range roles.Registry {
		tuples = append(tuples, authz.Tuple{Principal: role, Relation: authz.Writer, Object: "*"})
	}
	return authz.NewStaticChecker(tuples)
}

// PlannerSuggestions adapts Engine.SuggestedActions to
// pkg/agentloop.SuggestionsFunc, loading the scope's current drift
// classification first (the planner role is the only caller, per
// policy.Engine.SuggestedActions's own doc comment).
func (s *Services) PlannerSuggestions() agentloop.SuggestionsFunc {
	return func(ctx context.Context, scopeID string) ([]string, error) {
		var drift events.DriftAnalyzedPayload
		if err := s.Objects.GetLatestDrift(ctx, &drift); err != nil {
			if err == objectstore.ErrNotFound {
				return nil, nil
			}
			return nil, fmt.Errorf("load drift for scope %s: %w", scopeID, err)
		}
		return s.Policy.SuggestedActions(ctx, scopeID, policy.DriftInfo{
			Level: config.DriftLevel(drift.Level),
			Types: driftTypes(drift.Types),
		})
	}
}

func driftTypes(in []string) []config.DriftType {
	out := make([]config.DriftType, len(in))
	for i, t := range in {
		out[i] = config.DriftType(t)
	}
	return out
}

// newSigner builds the Ed25519 certificate signer from the configured
// base64 seed env var, or an ephemeral key if unset (§4.14, §7).
func newSigner(cfg config.CertificateConfig) (*certificate.Signer, error) {
	if cfg.PrivateKeySeedEnv == "" {
		return certificate.NewSigner(nil)
	}
	encoded := os.Getenv(cfg.PrivateKeySeedEnv)
	if encoded == "" {
		return certificate.NewSigner(nil)
	}
	seed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", cfg.PrivateKeySeedEnv, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%s must decode to %d bytes, got %d", cfg.PrivateKeySeedEnv, ed25519.SeedSize, len(seed))
	}
	return certificate.NewSigner(ed25519.NewKeyFromSeed(seed))
}
