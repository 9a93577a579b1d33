// Package updates turns a raw signal-update payload into an UpdateOutput.
//
// The payload is a JSON object keyed by command name. Each command is handled by a
// Processor; the pipeline merges their outputs and rejects payloads in which two
// commands touch the same key.
package updates

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"signal-quota-service/internal/signals"
)

var (
	ErrUnknownCommand  = errors.New("updates: unknown command")
	ErrMalformedUpdate = errors.New("updates: malformed update")
	ErrKeyCollision    = errors.New("updates: key touched by more than one command")
)

// Processor handles a single top-level command of the update payload.
type Processor interface {
	// Name is the command key the processor handles.
	Name() string

	// Process interprets raw against the owner's current signals, grouped by encoded key.
	Process(raw json.RawMessage, current map[string][]signals.Signal) (*signals.UpdateOutput, error)
}

// Pipeline dispatches payload commands to processors.
type Pipeline struct {
	processors map[string]Processor
}

// New creates a pipeline. With no arguments it uses DefaultProcessors.
func New(processors ...Processor) *Pipeline {
	if len(processors) == 0 {
		processors = DefaultProcessors()
	}
	p := &Pipeline{processors: make(map[string]Processor, len(processors))}
	for _, proc := range processors {
		p.processors[proc.Name()] = proc
	}
	return p
}

// DefaultProcessors returns every built-in command processor.
func DefaultProcessors() []Processor {
	return []Processor{
		putProcessor{},
		appendProcessor{},
		putIfNotPresentProcessor{},
		removeProcessor{},
		updateEncoderProcessor{},
	}
}

// Process runs every command in raw and returns the combined output.
func (p *Pipeline) Process(raw []byte, current map[string][]signals.Signal) (*signals.UpdateOutput, error) {
	combined := signals.NewUpdateOutput()
	if len(raw) == 0 {
		return combined, nil
	}

	var commands map[string]json.RawMessage
	if err := json.Unmarshal(raw, &commands); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	// Sorted so collision errors and output order are deterministic.
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		proc, ok := p.processors[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
		}
		out, err := proc.Process(commands[name], current)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := merge(combined, out); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return combined, nil
}

func merge(dst, src *signals.UpdateOutput) error {
	for key := range src.KeysTouched {
		if !dst.Touch(key) {
			return fmt.Errorf("%w: %s", ErrKeyCollision, key)
		}
	}
	dst.ToAdd = append(dst.ToAdd, src.ToAdd...)
	dst.ToRemove = append(dst.ToRemove, src.ToRemove...)
	if src.EncoderEvent != nil {
		dst.EncoderEvent = src.EncoderEvent
	}
	return nil
}

// GroupByKey indexes signals by their encoded key.
func GroupByKey(xs []signals.Signal) map[string][]signals.Signal {
	grouped := make(map[string][]signals.Signal)
	for _, s := range xs {
		k := s.KeyString()
		grouped[k] = append(grouped[k], s)
	}
	return grouped
}
