package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptor_CountsByCode(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())
	ic := m.UnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/directory.v1.Directory/Login"}

	ok := func(context.Context, any) (any, error) { return "ok", nil }
	denied := func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}

	for i := 0; i < 2; i++ {
		_, err := ic(context.Background(), nil, info, ok)
		require.NoError(t, err)
	}
	_, err := ic(context.Background(), nil, info, denied)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	require.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(info.FullMethod, "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(info.FullMethod, "Unauthenticated")))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestHandler_ServesRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	m := New(reg)
	_, _ = m.UnaryInterceptor()(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/directory.v1.Directory/Me"},
		func(context.Context, any) (any, error) { return nil, nil })

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "directory_grpc_requests_total"))
	require.True(t, strings.Contains(string(body), "go_goroutines"))
}
