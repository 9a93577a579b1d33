package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-quota-service/internal/core/ports"
	"signal-quota-service/internal/core/service"
	"signal-quota-service/internal/signals"
	"signal-quota-service/internal/updates"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func serve(t *testing.T, svc ports.SignalService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	newHandler(svc, hclog.NewNullLogger()).ServeHTTP(rec, req)
	return rec
}

func TestHandler_Update(t *testing.T) {
	var gotOwner, gotPkg, gotBody string
	mock := &mockService{
		processFunc: func(ctx context.Context, owner, pkg string, raw []byte) (*ports.UpdateResult, error) {
			gotOwner, gotPkg, gotBody = owner, pkg, string(raw)
			return &ports.UpdateResult{Kept: 4, Evicted: 1, TotalBytes: 96}, nil
		},
	}

	body := `{"put": {"a2V5": "dmFsdWU="}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/signals/update?owner=buyer&package=pkg", strings.NewReader(body))
	rec := serve(t, mock, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"kept": 4, "evicted": 1, "total_bytes": 96}`, rec.Body.String())
	assert.Equal(t, "buyer", gotOwner)
	assert.Equal(t, "pkg", gotPkg)
	assert.Equal(t, body, gotBody)
}

func TestHandler_UpdateErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid owner", service.ErrInvalidOwner, http.StatusBadRequest},
		{"malformed", updates.ErrMalformedUpdate, http.StatusBadRequest},
		{"collision", updates.ErrKeyCollision, http.StatusBadRequest},
		{"not leader", service.ErrNotLeader, http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockService{
				processFunc: func(ctx context.Context, owner, pkg string, raw []byte) (*ports.UpdateResult, error) {
					return nil, tt.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/v1/signals/update?owner=buyer", strings.NewReader("{}"))
			assert.Equal(t, tt.code, serve(t, mock, req).Code)
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestHandler_UpdateBodyErrors(t *testing.T) {
	mock := &mockService{
		processFunc: func(ctx context.Context, owner, pkg string, raw []byte) (*ports.UpdateResult, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}

	big := strings.NewReader(strings.Repeat("x", maxUpdateBody+1))
	req := httptest.NewRequest(http.MethodPost, "/v1/signals/update?owner=buyer", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, serve(t, mock, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/signals/update?owner=buyer", failingReader{})
	assert.Equal(t, http.StatusBadRequest, serve(t, mock, req).Code)
}

func TestHandler_List(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := &mockService{
		signalsFunc: func(ctx context.Context, owner string) ([]signals.Signal, error) {
			if owner != "buyer" {
				return nil, nil
			}
			return []signals.Signal{{ID: 1, Key: []byte("k"), Value: []byte("v"), CreationTime: created, Owner: owner}}, nil
		},
	}

	rec := serve(t, mock, httptest.NewRequest(http.MethodGet, "/v1/signals?owner=buyer", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []signals.Signal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, []byte("k"), got[0].Key)
	assert.True(t, got[0].CreationTime.Equal(created))

	rec = serve(t, mock, httptest.NewRequest(http.MethodGet, "/v1/signals?owner=nobody", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandler_DeleteOwner(t *testing.T) {
	var deleted string
	mock := &mockService{
		deleteFunc: func(ctx context.Context, owner string) error {
			deleted = owner
			return nil
		},
	}

	rec := serve(t, mock, httptest.NewRequest(http.MethodDelete, "/v1/signals?owner=buyer", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "buyer", deleted)
}

func TestHandler_Join(t *testing.T) {
	var gotID, gotAddr string
	mock := &mockService{
		joinFunc: func(ctx context.Context, id, addr string) error {
			gotID, gotAddr = id, addr
			return nil
		},
	}

	rec := serve(t, mock, httptest.NewRequest(http.MethodGet, "/join?node_id=node2&addr=10.0.0.2:11000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "node2", gotID)
	assert.Equal(t, "10.0.0.2:11000", gotAddr)

	rec = serve(t, mock, httptest.NewRequest(http.MethodGet, "/join?node_id=node2", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Metrics(t *testing.T) {
	rec := serve(t, &mockService{}, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	rec := serve(t, &mockService{}, httptest.NewRequest(http.MethodPut, "/v1/signals/update?owner=buyer", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
