package grpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"signal-quota-service/internal/core/ports"
	"signal-quota-service/internal/signals"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls signals.v1.SignalService.
type Client struct {
	cc gogrpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc gogrpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// UpdateSignals sends a raw JSON update payload for owner.
func (c *Client) UpdateSignals(ctx context.Context, owner, pkg string, raw []byte, opts ...gogrpc.CallOption) (*ports.UpdateResult, error) {
	updates := &structpb.Struct{}
	if len(raw) > 0 {
		if err := protojson.Unmarshal(raw, updates); err != nil {
			return nil, fmt.Errorf("decode updates: %w", err)
		}
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"owner":   structpb.NewStringValue(owner),
		"package": structpb.NewStringValue(pkg),
		"updates": structpb.NewStructValue(updates),
	}}

	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, UpdateSignalsMethod, req, resp, opts...); err != nil {
		return nil, err
	}
	f := resp.GetFields()
	return &ports.UpdateResult{
		Kept:       int(f["kept"].GetNumberValue()),
		Evicted:    int(f["evicted"].GetNumberValue()),
		TotalBytes: int64(f["total_bytes"].GetNumberValue()),
	}, nil
}

// GetSignals fetches owner's stored signals.
func (c *Client) GetSignals(ctx context.Context, owner string, opts ...gogrpc.CallOption) ([]signals.Signal, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"owner": structpb.NewStringValue(owner),
	}}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetSignalsMethod, req, resp, opts...); err != nil {
		return nil, err
	}

	var out []signals.Signal
	for _, v := range resp.GetFields()["signals"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		key, err := base64.StdEncoding.DecodeString(f["key"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		value, err := base64.StdEncoding.DecodeString(f["value"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
		created, err := time.Parse(time.RFC3339Nano, f["creation_time"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("decode creation_time: %w", err)
		}
		out = append(out, signals.Signal{
			ID:           int64(f["id"].GetNumberValue()),
			Key:          key,
			Value:        value,
			CreationTime: created,
			Owner:        owner,
			Package:      f["package"].GetStringValue(),
		})
	}
	return out, nil
}

// DeleteOwner removes every signal for owner.
func (c *Client) DeleteOwner(ctx context.Context, owner string, opts ...gogrpc.CallOption) error {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"owner": structpb.NewStringValue(owner),
	}}
	return c.cc.Invoke(ctx, DeleteOwnerMethod, req, new(emptypb.Empty), opts...)
}
