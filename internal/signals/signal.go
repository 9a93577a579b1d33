package signals

import (
	"encoding/base64"
	"time"
)

// Signal is an opaque key/value record attributed to an owner.
// Signals are immutable once created; only membership in a collection changes.
type Signal struct {
	ID           int64     `json:"id"` // 0 until the store assigns one
	Key          []byte    `json:"key"`
	Value        []byte    `json:"value"`
	CreationTime time.Time `json:"creation_time"`
	Owner        string    `json:"owner"`
	Package      string    `json:"package"`
}

// KeyString returns the key in the form used for map lookups and touched-key tracking.
func (s Signal) KeyString() string {
	return EncodeKey(s.Key)
}

// EncodeKey encodes a raw key the same way update payloads carry it.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// EncoderAction is the action carried by an update_encoder command.
type EncoderAction string

const (
	RegisterEncoder EncoderAction = "REGISTER"
)

// EncoderEvent records a request to (re)register the owner's encoder endpoint.
type EncoderEvent struct {
	Action   EncoderAction `json:"action"`
	Endpoint string        `json:"endpoint"`
}

// UpdateOutput accumulates the effects of one owner's update cycle.
// Eviction only ever appends to ToRemove; the remaining fields belong to the update pipeline.
type UpdateOutput struct {
	ToAdd        []Signal
	ToRemove     []Signal
	KeysTouched  map[string]struct{}
	EncoderEvent *EncoderEvent
}

// NewUpdateOutput returns an empty accumulator.
func NewUpdateOutput() *UpdateOutput {
	return &UpdateOutput{
		KeysTouched: make(map[string]struct{}),
	}
}

// Touch marks a key as modified by this update cycle.
// It reports false if the key had already been touched.
func (o *UpdateOutput) Touch(key string) bool {
	if o.KeysTouched == nil {
		o.KeysTouched = make(map[string]struct{})
	}
	if _, ok := o.KeysTouched[key]; ok {
		return false
	}
	o.KeysTouched[key] = struct{}{}
	return true
}
