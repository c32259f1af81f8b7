package camera

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/depthcam/logging"
	"go.viam.com/depthcam/utils"
)

// A ConfigValidator validates a sensor model's native configuration. `path` names where the
// config came from for error messages.
type ConfigValidator interface {
	Validate(path string) error
}

// A Registration stores how to build a sensor model from its native config.
type Registration[ConfigT ConfigValidator] struct {
	Constructor func(ctx context.Context, conf ConfigT, logger logging.Logger) (Sensor, error)

	// AttributeMapConverter converts raw attributes to the model's native config. When unset,
	// TransformAttributeMap is used.
	AttributeMapConverter func(attributes map[string]interface{}) (ConfigT, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration[ConfigValidator]{}
)

// RegisterSensor registers a sensor model. Registering the same model twice panics.
func RegisterSensor[ConfigT ConfigValidator](model string, reg Registration[ConfigT]) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, old := registry[model]; old {
		panic(errors.Errorf("trying to register two sensors with same model: %q", model))
	}
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for model: %q", model))
	}
	if reg.AttributeMapConverter == nil {
		reg.AttributeMapConverter = TransformAttributeMap[ConfigT]
	}
	registry[model] = makeGenericRegistration(reg)
}

func makeGenericRegistration[ConfigT ConfigValidator](typed Registration[ConfigT]) Registration[ConfigValidator] {
	return Registration[ConfigValidator]{
		Constructor: func(ctx context.Context, conf ConfigValidator, logger logging.Logger) (Sensor, error) {
			typedConf, err := utils.AssertType[ConfigT](conf)
			if err != nil {
				return nil, err
			}
			return typed.Constructor(ctx, typedConf, logger)
		},
		AttributeMapConverter: func(attributes map[string]interface{}) (ConfigValidator, error) {
			return typed.AttributeMapConverter(attributes)
		},
	}
}

// deregisterSensor removes a previously registered model.
func deregisterSensor(model string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, model)
}

func lookupSensor(model string) (Registration[ConfigValidator], bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[model]
	return reg, ok
}

// RegisteredSensorModels returns every registered model, sorted.
func RegisteredSensorModels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := make([]string, 0, len(registry))
	for model := range registry {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// ConvertAttributes converts and validates the raw attributes of a model.
func ConvertAttributes(model string, attributes map[string]interface{}, path string) (ConfigValidator, error) {
	reg, ok := lookupSensor(model)
	if !ok {
		return nil, errors.Errorf("unknown sensor model %q, registered models are %v", model, RegisteredSensorModels())
	}
	conf, err := reg.AttributeMapConverter(attributes)
	if err != nil {
		return nil, errors.Wrapf(err, "error converting attributes of %q", path)
	}
	if err := conf.Validate(path); err != nil {
		return nil, err
	}
	return conf, nil
}

// NewSensor builds a sensor of the given model from raw attributes.
func NewSensor(ctx context.Context, model string, attributes map[string]interface{}, logger logging.Logger) (Sensor, error) {
	conf, err := ConvertAttributes(model, attributes, "sensor")
	if err != nil {
		return nil, err
	}
	reg, _ := lookupSensor(model)
	return reg.Constructor(ctx, conf, logger)
}

// TransformAttributeMap decodes an attribute map into T by json field names. Unknown attributes
// are an error.
func TransformAttributeMap[T any](attributes map[string]interface{}) (T, error) {
	var out T

	var forResult interface{}

	toT := reflect.TypeOf(out)
	if toT == nil {
		// nothing to transform
		return out, nil
	}
	if toT.Kind() == reflect.Ptr {
		// needs to be allocated then
		var ok bool
		out, ok = reflect.New(toT.Elem()).Interface().(T)
		if !ok {
			return out, errors.Errorf("failed to allocate default config type %T", out)
		}
		forResult = out
	} else {
		forResult = &out
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           forResult,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return out, err
	}
	return out, nil
}
