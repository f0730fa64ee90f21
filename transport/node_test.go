package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-cavro/tecanapi"
)

// newNodeServer starts a bridge that feeds every request frame to r.
// failFirst requests are answered with HTTP 500.
func newNodeServer(t *testing.T, r responder, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		n := hits.Add(1)
		if req.URL.Path != "/syringe" {
			http.NotFound(w, req)
			return
		}

		frame, err := hex.DecodeString(req.URL.Query().Get("SYRINGE"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.URL.Query().Get("LENGTH") != strconv.Itoa(len(frame)) {
			http.Error(w, "length mismatch", http.StatusBadRequest)
			return
		}
		if n <= failFirst {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"MSG": hex.EncodeToString(r(frame))})
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func TestNodeLink_SendRcv(t *testing.T) {
	require := require.New(t)

	srv, hits := newNodeServer(t, pumpResponder(2), 0)
	link, err := NewNodeLink(srv.URL, 2, newTestLinkConfig(t, WithTimeout(time.Second)))
	require.NoError(err)
	defer link.Close()

	resp, err := link.SendRcv(context.Background(), []byte("?1"))
	require.NoError(err)
	require.Equal("ok:?1", resp.Text())
	require.Equal(int32(1), hits.Load())
	require.Equal(2, link.Address())
}

func TestNodeLink_RetryAfterBridgeError(t *testing.T) {
	require := require.New(t)

	srv, hits := newNodeServer(t, pumpResponder(0), 2)
	link, err := NewNodeLink(srv.URL, 0, newTestLinkConfig(t, WithTimeout(time.Second)))
	require.NoError(err)

	resp, err := link.SendRcv(context.Background(), []byte("Q"))
	require.NoError(err)
	require.True(resp.Status.Ready())
	require.Equal(int32(3), hits.Load())
	require.EqualValues(2, link.Metrics().RetryCount.Load())
	require.EqualValues(2, link.Metrics().InvalidFrameCount.Load())
}

func TestNodeLink_SilentPumpTimesOut(t *testing.T) {
	srv, hits := newNodeServer(t, func([]byte) []byte { return nil }, 0)
	link, err := NewNodeLink(srv.URL, 0, newTestLinkConfig(t, WithTimeout(time.Second), WithMaxAttempts(3)))
	require.NoError(t, err)

	_, err = link.SendRcv(context.Background(), []byte("Q"))
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, int32(3), hits.Load())
}

func TestNodeLink_Address(t *testing.T) {
	_, err := NewNodeLink("192.168.0.5:8080", 0, nil)
	require.NoError(t, err)

	_, err = NewNodeLink("http://", 0, nil)
	require.Error(t, err)

	_, err = NewNodeLink("localhost:80", tecanapi.MaxDeviceAddress+1, nil)
	require.ErrorIs(t, err, tecanapi.ErrInvalidAddress)
}

func TestNodeLink_Closed(t *testing.T) {
	link, err := NewNodeLink("localhost:1", 0, nil)
	require.NoError(t, err)
	require.NoError(t, link.Close())

	_, err = link.SendRcv(context.Background(), []byte("Q"))
	require.ErrorIs(t, err, ErrLinkClosed)
}
