// Package resource maps driver model names from a config file to their constructors.
package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/armgaze/armgaze/logging"
	"github.com/armgaze/armgaze/utils"
)

// A ConfigValidator validates a model's native config.
type ConfigValidator interface {
	Validate(path string) error
}

// Create builds a resource from its native config.
type Create[ResourceT any, ConfigT ConfigValidator] func(
	ctx context.Context,
	conf ConfigT,
	logger logging.Logger,
) (ResourceT, error)

// A Registration stores construction info for one model.
type Registration[ResourceT any, ConfigT ConfigValidator] struct {
	Constructor Create[ResourceT, ConfigT]
}

type entry[ResourceT any] struct {
	convert func(raw json.RawMessage) (ConfigValidator, error)
	create  func(ctx context.Context, conf ConfigValidator, logger logging.Logger) (ResourceT, error)
}

// A Registry holds the models of one kind of resource (arms, pan/tilt heads).
type Registry[ResourceT any] struct {
	api string

	mu     sync.RWMutex
	models map[string]entry[ResourceT]
}

// NewRegistry returns an empty registry; api names the kind of resource in errors.
func NewRegistry[ResourceT any](api string) *Registry[ResourceT] {
	return &Registry[ResourceT]{api: api, models: map[string]entry[ResourceT]{}}
}

// Register adds a model. Registering the same model twice panics.
func Register[ResourceT any, ConfigT ConfigValidator](
	r *Registry[ResourceT],
	model string,
	reg Registration[ResourceT, ConfigT],
) {
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for api: %q, model: %q", r.api, model))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, old := r.models[model]; old {
		panic(errors.Errorf("trying to register two resources with same api: %q, model: %q", r.api, model))
	}
	r.models[model] = entry[ResourceT]{
		convert: func(raw json.RawMessage) (ConfigValidator, error) {
			return TransformAttributes[ConfigT](raw)
		},
		create: func(ctx context.Context, conf ConfigValidator, logger logging.Logger) (ResourceT, error) {
			typed, ok := conf.(ConfigT)
			if !ok {
				var zero ResourceT
				return zero, utils.NewUnexpectedTypeError(typed, conf)
			}
			return reg.Constructor(ctx, typed, logger)
		},
	}
}

// Models returns the registered model names, sorted.
func (r *Registry[ResourceT]) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := lo.Keys(r.models)
	sort.Strings(models)
	return models
}

// Validate converts raw attributes for model and validates them.
func (r *Registry[ResourceT]) Validate(path, model string, raw json.RawMessage) error {
	_, err := r.convert(path, model, raw)
	return err
}

// New converts raw attributes for model, validates them, and constructs the resource.
func (r *Registry[ResourceT]) New(
	ctx context.Context,
	path, model string,
	raw json.RawMessage,
	logger logging.Logger,
) (ResourceT, error) {
	var zero ResourceT
	conf, err := r.convert(path, model, raw)
	if err != nil {
		return zero, err
	}
	r.mu.RLock()
	e := r.models[model]
	r.mu.RUnlock()
	res, err := e.create(ctx, conf, logger)
	if err != nil {
		return zero, errors.Wrapf(err, "constructing %s %q", r.api, model)
	}
	return res, nil
}

func (r *Registry[ResourceT]) convert(path, model string, raw json.RawMessage) (ConfigValidator, error) {
	r.mu.RLock()
	e, ok := r.models[model]
	r.mu.RUnlock()
	if !ok {
		return nil, utils.NewUnknownModelError(r.api, model)
	}
	conf, err := e.convert(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "error converting attributes for %s %q", r.api, model)
	}
	if err := conf.Validate(path); err != nil {
		return nil, err
	}
	return conf, nil
}

// TransformAttributes decodes raw JSON attributes into a model's native config. A pointer ConfigT
// is allocated first; empty attributes leave the zero config.
func TransformAttributes[T any](raw json.RawMessage) (T, error) {
	var out T
	target := any(&out)
	if t := reflect.TypeOf(out); t != nil && t.Kind() == reflect.Ptr {
		out = reflect.New(t.Elem()).Interface().(T)
		target = out
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return out, err
	}
	return out, nil
}
