package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/autoqa/agentcore/internal/config"
	"github.com/autoqa/agentcore/internal/control"
	"github.com/autoqa/agentcore/internal/device"
	"github.com/autoqa/agentcore/internal/history"
	"github.com/autoqa/agentcore/internal/knowledge"
	"github.com/autoqa/agentcore/internal/model"
	"github.com/autoqa/agentcore/internal/model/anthropic"
	"github.com/autoqa/agentcore/internal/model/google"
	"github.com/autoqa/agentcore/internal/model/openai"
	"github.com/autoqa/agentcore/internal/orchestrator"
	"github.com/autoqa/agentcore/internal/stepgraph"
	"github.com/autoqa/agentcore/internal/telemetry"
	"github.com/autoqa/agentcore/internal/vectorindex"
	"github.com/autoqa/agentcore/internal/verify"
	"github.com/autoqa/agentcore/internal/vision"
)

// runtime bundles everything a command needs: the orchestrator facade plus
// direct handles on the knowledge corpora for operator commands.
type agentRuntime struct {
	settings *config.Settings
	orch     *orchestrator.Orchestrator
	cases    *knowledge.TestCaseStore
	learned  *knowledge.LearnedSolutionStore
	profiles *knowledge.DeviceProfileStore
	recorder *history.Recorder
	driver   *device.Driver
	ctl      *control.Controller
}

// buildRuntime assembles the full component stack from settings: shell
// transport, driver, model client, vision pipeline, verifier, knowledge
// stores, recorder, and the orchestrator on top.
func buildRuntime(ctx context.Context, cfgPath string) (*agentRuntime, error) {
	settings, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	data := settings.DataBasePath

	ctl := control.New()
	shell := &device.ADBShell{Serial: settings.DeviceSerial}
	driver := device.New(shell, ctl, settings.DeviceSerial,
		device.WithRetries(settings.RetryCount),
		device.WithTimeout(settings.DeviceTimeout),
	)

	chat, err := buildModel(ctx, settings)
	if err != nil {
		return nil, err
	}

	profiles, err := knowledge.NewDeviceProfileStore(filepath.Join(data, "device-profiles"), 0.7)
	if err != nil {
		return nil, err
	}

	resolver := vision.New(profiles, chat,
		vision.NewTesseractEngine(settings.OCRConfidenceMin),
		vision.NewCVGridDetector(),
		settings.OCRConfidenceMin, settings.FuzzyMatchMin,
	)

	refs := verify.NewFSReferenceStore(filepath.Join(data, "verification_images"))
	verifier := verify.New(refs, chat, settings.SSIMThreshold, settings.ChangeThreshold,
		verify.WithComparisonsDir(filepath.Join(data, "verification_comparisons")),
		verify.WithElementDetector(resolver),
	)

	index, err := buildVectorIndex(settings)
	if err != nil {
		return nil, err
	}
	// No embedder ships with the core: the embedding backend is an external
	// collaborator. Without one, test-case lookup is exact-id only and the
	// index stays empty.
	cases := knowledge.NewTestCaseStore(settings.VectorDBPath, index, nil)
	learned := knowledge.NewLearnedSolutionStore(filepath.Join(data, "learned-solutions"))
	recorder := history.NewRecorder(filepath.Join(data, "test_history"))

	emitter := telemetry.NewStepGraphEmitter(telemetry.NewZerologEmitter(zerolog.InfoLevel))

	deps := stepgraph.Deps{
		Driver:     driver,
		Vision:     resolver,
		Verifier:   verifier,
		TestCases:  cases,
		Learned:    learned,
		Profiles:   profiles,
		Controller: ctl,
		Recorder:   recorder,
		Model:      chat,
		Emitter:    emitter,
		ShotsDir:   filepath.Join(data, "screenshots"),
		Settle:     settings.PostActionSettle,
	}

	orch := orchestrator.New(deps,
		orchestrator.WithConflictWait(settings.RunConflictWait),
		orchestrator.WithRecursionBudget(settings.RecursionBudget),
	)

	return &agentRuntime{
		settings: settings,
		orch:     orch,
		cases:    cases,
		learned:  learned,
		profiles: profiles,
		recorder: recorder,
		driver:   driver,
		ctl:      ctl,
	}, nil
}

// buildVectorIndex selects the semantic-search backend: the in-process
// cosine index by default, Redis when configured.
func buildVectorIndex(settings *config.Settings) (knowledge.VectorIndex, error) {
	switch settings.VectorBackend {
	case "", "memory":
		return vectorindex.New(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		return vectorindex.NewRedisIndex(client, "agentcore:testcases"), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", settings.VectorBackend)
	}
}

func buildModel(ctx context.Context, settings *config.Settings) (model.VisionModel, error) {
	switch settings.Model.Provider {
	case "", "anthropic":
		return anthropic.New(settings.Model.APIKey, settings.Model.ModelID), nil
	case "google":
		return google.New(ctx, settings.Model.APIKey, settings.Model.ModelID)
	case "openai":
		return openai.New(settings.Model.APIKey, settings.Model.ModelID), nil
	case "mock":
		// Offline development: every model answer is canned.
		return &model.MockVisionModel{}, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", settings.Model.Provider)
	}
}
