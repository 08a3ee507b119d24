package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Evoltonnac/quota-board/internal/auth"
	"github.com/Evoltonnac/quota-board/pkg/api"
	"github.com/Evoltonnac/quota-board/pkg/log"
)

var (
	ErrUnknownStepKind = errors.New("unknown step kind")
	ErrPersistSecret   = errors.New("failed to persist step secret")
)

// runFlow interprets the source's steps in order. Each step's arguments
// are resolved against the previous step's outputs, the flow context,
// and the source's secrets, in that priority. Declared outputs are
// promoted into the context; the final context is the fetch result
func (x *Executor) runFlow(
	ctx context.Context, def *api.SourceDefinition, logger *slog.Logger,
) (map[api.Name]any, error) {
	flowCtx := make(map[api.Name]any, len(def.Vars))
	for k, v := range def.Vars {
		flowCtx[api.Name(k)] = v
	}

	prev := map[api.Name]any{}
	for i := range def.Flow {
		step := &def.Flow[i]
		logger.Info("Running step",
			log.StepID(step.ID),
			slog.String("use", string(step.Use)))

		secretsScope, err := x.secrets.GetAll(ctx, def.ID)
		if err != nil {
			return nil, err
		}

		args := resolveArgs(step.Args, &scopes{
			outputs: prev,
			context: flowCtx,
			secrets: secretsScope,
		})

		raw, err := x.execStep(ctx, def, step, args, flowCtx, prev, logger)
		if err != nil {
			var rse *auth.RequiredSecretError
			if errors.As(err, &rse) && rse.StepID == "" {
				rse.StepID = step.ID
			}
			return nil, err
		}

		if err := x.persistStepSecrets(ctx, def.ID, step, raw); err != nil {
			return nil, err
		}

		outputs := map[api.Name]any{}
		for key, varName := range step.Outputs {
			if val, ok := raw[key]; ok {
				outputs[varName] = val
			}
		}
		for k, v := range outputs {
			flowCtx[k] = v
		}
		prev = outputs
	}

	return flowCtx, nil
}

func (x *Executor) execStep(
	ctx context.Context, def *api.SourceDefinition, step *api.FlowStep,
	args api.Args, flowCtx, prev map[api.Name]any, logger *slog.Logger,
) (api.Args, error) {
	switch step.Use {
	case api.StepHTTP:
		return x.stepHTTP(ctx, args)
	case api.StepOAuth:
		return x.stepOAuth(ctx, def, step, args)
	case api.StepAPIKey:
		return x.stepAPIKey(ctx, def, step, args)
	case api.StepExtract:
		return x.stepExtract(step, args)
	case api.StepScript:
		return x.stepScript(step, args, flowCtx, prev)
	case api.StepLog:
		logger.Info("Flow log",
			log.StepID(step.ID),
			slog.Any("args", args))
		return api.Args{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepKind, step.Use)
	}
}

// persistStepSecrets writes the raw output keys a step marks as secrets
// to the secrets store. Unlike the sink, the secrets store is part of
// the flow's semantics, so failures fail the step
func (x *Executor) persistStepSecrets(
	ctx context.Context, id api.SourceID, step *api.FlowStep, raw api.Args,
) error {
	for _, key := range step.Secrets {
		val, ok := raw[key]
		if !ok {
			continue
		}
		if err := x.secrets.Set(ctx, id, key, val); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPersistSecret, key, err)
		}
	}
	return nil
}

func sortedOutputKeys(step *api.FlowStep) []api.Name {
	keys := make([]api.Name, 0, len(step.Outputs))
	for key := range step.Outputs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}

// firstOutputKey picks the raw key a single-valued step publishes its
// result under, honoring a declared output key when present
func firstOutputKey(step *api.FlowStep, fallback api.Name) api.Name {
	if keys := sortedOutputKeys(step); len(keys) > 0 {
		return keys[0]
	}
	return fallback
}
