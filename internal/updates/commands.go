package updates

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"signal-quota-service/internal/signals"
)

const (
	CommandPut             = "put"
	CommandAppend          = "append"
	CommandPutIfNotPresent = "put_if_not_present"
	CommandRemove          = "remove"
	CommandUpdateEncoder   = "update_encoder"
)

func decode(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not base64: %v", ErrMalformedUpdate, field, s, err)
	}
	return b, nil
}

func unmarshal(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return nil
}

// sortedKeys keeps processor output independent of map iteration order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// putProcessor replaces every value stored under a key with a single new one.
type putProcessor struct{}

func (putProcessor) Name() string { return CommandPut }

func (putProcessor) Process(raw json.RawMessage, current map[string][]signals.Signal) (*signals.UpdateOutput, error) {
	var puts map[string]string
	if err := unmarshal(raw, &puts); err != nil {
		return nil, err
	}
	out := signals.NewUpdateOutput()
	for _, k := range sortedKeys(puts) {
		key, err := decode("key", k)
		if err != nil {
			return nil, err
		}
		value, err := decode("value", puts[k])
		if err != nil {
			return nil, err
		}
		ek := signals.EncodeKey(key)
		out.Touch(ek)
		out.ToRemove = append(out.ToRemove, current[ek]...)
		out.ToAdd = append(out.ToAdd, signals.Signal{Key: key, Value: value})
	}
	return out, nil
}

type appendSpec struct {
	Values     []string `json:"values"`
	MaxSignals int      `json:"max_signals"`
}

// appendProcessor adds values under a key, dropping the oldest existing ones
// once the key holds more than max_signals.
type appendProcessor struct{}

func (appendProcessor) Name() string { return CommandAppend }

func (appendProcessor) Process(raw json.RawMessage, current map[string][]signals.Signal) (*signals.UpdateOutput, error) {
	var appends map[string]appendSpec
	if err := unmarshal(raw, &appends); err != nil {
		return nil, err
	}
	out := signals.NewUpdateOutput()
	for _, k := range sortedKeys(appends) {
		spec := appends[k]
		if spec.MaxSignals <= 0 {
			return nil, fmt.Errorf("%w: max_signals must be positive for key %q", ErrMalformedUpdate, k)
		}
		if len(spec.Values) > spec.MaxSignals {
			return nil, fmt.Errorf("%w: %d values exceed max_signals %d for key %q",
				ErrMalformedUpdate, len(spec.Values), spec.MaxSignals, k)
		}
		key, err := decode("key", k)
		if err != nil {
			return nil, err
		}
		ek := signals.EncodeKey(key)
		out.Touch(ek)

		existing := slices.Clone(current[ek])
		slices.SortStableFunc(existing, func(a, b signals.Signal) int {
			return a.CreationTime.Compare(b.CreationTime)
		})
		if overflow := len(existing) + len(spec.Values) - spec.MaxSignals; overflow > 0 {
			out.ToRemove = append(out.ToRemove, existing[:overflow]...)
		}

		for _, v := range spec.Values {
			value, err := decode("value", v)
			if err != nil {
				return nil, err
			}
			out.ToAdd = append(out.ToAdd, signals.Signal{Key: key, Value: value})
		}
	}
	return out, nil
}

// putIfNotPresentProcessor adds a value only when nothing is stored under the key.
type putIfNotPresentProcessor struct{}

func (putIfNotPresentProcessor) Name() string { return CommandPutIfNotPresent }

func (putIfNotPresentProcessor) Process(raw json.RawMessage, current map[string][]signals.Signal) (*signals.UpdateOutput, error) {
	var puts map[string]string
	if err := unmarshal(raw, &puts); err != nil {
		return nil, err
	}
	out := signals.NewUpdateOutput()
	for _, k := range sortedKeys(puts) {
		key, err := decode("key", k)
		if err != nil {
			return nil, err
		}
		value, err := decode("value", puts[k])
		if err != nil {
			return nil, err
		}
		ek := signals.EncodeKey(key)
		out.Touch(ek)
		if len(current[ek]) == 0 {
			out.ToAdd = append(out.ToAdd, signals.Signal{Key: key, Value: value})
		}
	}
	return out, nil
}

// removeProcessor deletes every value stored under each listed key.
type removeProcessor struct{}

func (removeProcessor) Name() string { return CommandRemove }

func (removeProcessor) Process(raw json.RawMessage, current map[string][]signals.Signal) (*signals.UpdateOutput, error) {
	var keys []string
	if err := unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	out := signals.NewUpdateOutput()
	for _, k := range keys {
		key, err := decode("key", k)
		if err != nil {
			return nil, err
		}
		ek := signals.EncodeKey(key)
		if out.Touch(ek) {
			out.ToRemove = append(out.ToRemove, current[ek]...)
		}
	}
	return out, nil
}

// updateEncoderProcessor records an encoder registration request. An empty object
// is accepted and changes nothing.
type updateEncoderProcessor struct{}

func (updateEncoderProcessor) Name() string { return CommandUpdateEncoder }

func (updateEncoderProcessor) Process(raw json.RawMessage, _ map[string][]signals.Signal) (*signals.UpdateOutput, error) {
	var event signals.EncoderEvent
	if err := unmarshal(raw, &event); err != nil {
		return nil, err
	}
	out := signals.NewUpdateOutput()
	if event.Action == "" {
		return out, nil
	}
	if event.Action != signals.RegisterEncoder {
		return nil, fmt.Errorf("%w: unsupported encoder action %q", ErrMalformedUpdate, event.Action)
	}
	if event.Endpoint == "" {
		return nil, fmt.Errorf("%w: encoder endpoint is required", ErrMalformedUpdate)
	}
	out.EncoderEvent = &event
	return out, nil
}
