package task

import (
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	"github.com/compozy/taskengine/pkg/durationutil"
)

// DecodeOptions decodes a raw task-definition's "options" map (as parsed
// from JSON or YAML) into a typed Options value. TimeoutMs additionally
// accepts human-readable duration strings ("30s", "2 minutes") via
// pkg/durationutil.
func DecodeOptions(raw map[string]any) (Options, error) {
	var opts Options
	if raw == nil {
		return opts, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		TagName:          "json",
		DecodeHook:       durationStringToMillisHook,
	})
	if err != nil {
		return Options{}, fmt.Errorf("task: build options decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Options{}, fmt.Errorf("task: decode options: %w", err)
	}
	return opts, nil
}

// durationStringToMillisHook lets TimeoutMs be supplied as a duration
// string instead of a raw millisecond count.
func durationStringToMillisHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Int64 {
		return data, nil
	}
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	d, err := durationutil.Parse(s)
	if err != nil {
		return data, nil
	}
	return d.Milliseconds(), nil
}
