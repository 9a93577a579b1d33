package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"signal-quota-service/internal/core/ports"
	"signal-quota-service/internal/core/service"
	"signal-quota-service/internal/signals"
	"signal-quota-service/internal/updates"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type mockService struct {
	processFunc func(ctx context.Context, owner, pkg string, raw []byte) (*ports.UpdateResult, error)
	signalsFunc func(ctx context.Context, owner string) ([]signals.Signal, error)
	deleteFunc  func(ctx context.Context, owner string) error
	joinFunc    func(ctx context.Context, id, addr string) error
}

func (m *mockService) ProcessUpdates(ctx context.Context, owner, pkg string, raw []byte) (*ports.UpdateResult, error) {
	return m.processFunc(ctx, owner, pkg, raw)
}
func (m *mockService) Signals(ctx context.Context, owner string) ([]signals.Signal, error) {
	return m.signalsFunc(ctx, owner)
}
func (m *mockService) DeleteOwner(ctx context.Context, owner string) error {
	return m.deleteFunc(ctx, owner)
}
func (m *mockService) Join(ctx context.Context, id, addr string) error {
	return m.joinFunc(ctx, id, addr)
}

// dial serves svc over an in-memory listener and returns a client for it.
func dial(t *testing.T, svc ports.SignalService) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := gogrpc.NewServer()
	Register(srv, New(svc))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := gogrpc.NewClient("passthrough:///bufnet",
		gogrpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestAdapter_UpdateSignals(t *testing.T) {
	var gotOwner, gotPkg string
	var gotRaw []byte
	mock := &mockService{
		processFunc: func(ctx context.Context, owner, pkg string, raw []byte) (*ports.UpdateResult, error) {
			gotOwner, gotPkg, gotRaw = owner, pkg, raw
			return &ports.UpdateResult{Kept: 3, Evicted: 2, TotalBytes: 120}, nil
		},
	}
	client := dial(t, mock)

	payload := `{"put": {"a2V5": "dmFsdWU="}, "append": {"YQ==": {"values": ["Yg=="], "max_signals": 2}}}`
	res, err := client.UpdateSignals(context.Background(), "buyer", "pkg", []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, &ports.UpdateResult{Kept: 3, Evicted: 2, TotalBytes: 120}, res)
	assert.Equal(t, "buyer", gotOwner)
	assert.Equal(t, "pkg", gotPkg)
	assert.JSONEq(t, payload, string(gotRaw))
}

func TestAdapter_GetSignals(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 500, time.UTC)
	mock := &mockService{
		signalsFunc: func(ctx context.Context, owner string) ([]signals.Signal, error) {
			if owner != "buyer" {
				return nil, nil
			}
			return []signals.Signal{
				{ID: 7, Key: []byte{0, 1}, Value: []byte("v"), CreationTime: created, Owner: owner, Package: "pkg"},
			}, nil
		},
	}
	client := dial(t, mock)

	got, err := client.GetSignals(context.Background(), "buyer")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, []byte{0, 1}, got[0].Key)
	assert.Equal(t, []byte("v"), got[0].Value)
	assert.True(t, got[0].CreationTime.Equal(created))
	assert.Equal(t, "buyer", got[0].Owner)
	assert.Equal(t, "pkg", got[0].Package)

	got, err = client.GetSignals(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAdapter_DeleteOwner(t *testing.T) {
	var deleted string
	mock := &mockService{
		deleteFunc: func(ctx context.Context, owner string) error {
			deleted = owner
			return nil
		},
	}
	client := dial(t, mock)

	require.NoError(t, client.DeleteOwner(context.Background(), "buyer"))
	assert.Equal(t, "buyer", deleted)
}

func TestAdapter_ErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{service.ErrInvalidOwner, codes.InvalidArgument},
		{fmt.Errorf("put: %w", updates.ErrMalformedUpdate), codes.InvalidArgument},
		{updates.ErrUnknownCommand, codes.InvalidArgument},
		{updates.ErrKeyCollision, codes.InvalidArgument},
		{service.ErrNotLeader, codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			mock := &mockService{
				processFunc: func(ctx context.Context, owner, pkg string, raw []byte) (*ports.UpdateResult, error) {
					return nil, tt.err
				},
			}
			client := dial(t, mock)

			_, err := client.UpdateSignals(context.Background(), "buyer", "pkg", nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestClient_RejectsMalformedPayload(t *testing.T) {
	client := dial(t, &mockService{})

	_, err := client.UpdateSignals(context.Background(), "buyer", "pkg", []byte("{not json"))
	assert.Error(t, err)
}
