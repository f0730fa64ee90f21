package transport

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-cavro/logger"
)

func TestNewLinkConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewLinkConfig()
	require.NoError(err)
	require.Equal(DefaultBaud, cfg.Baud())
	require.Equal(DefaultTimeout, cfg.Timeout())
	require.Equal(DefaultMaxAttempts, cfg.MaxAttempts())
	require.Equal(DefaultBackoff, cfg.Backoff())
	require.Equal(DefaultErrorBackoff, cfg.ErrorBackoff())
	require.NotNil(cfg.GetLogger())
	require.Equal(http.DefaultClient, cfg.client())
	require.Equal(PortParams{Baud: 9600, Timeout: 100 * time.Millisecond, MaxAttempts: 5}, cfg.PortParams())
}

func TestNewLinkConfig_Options(t *testing.T) {
	require := require.New(t)

	l := logger.NewMockLogger()
	client := &http.Client{}
	cfg, err := NewLinkConfig(
		WithBaud(38400),
		WithTimeout(time.Second),
		WithMaxAttempts(10),
		WithBackoff(0),
		WithErrorBackoff(time.Second),
		WithLogger(l),
		WithHTTPClient(client),
	)
	require.NoError(err)
	require.Equal(38400, cfg.Baud())
	require.Equal(time.Second, cfg.Timeout())
	require.Equal(10, cfg.MaxAttempts())
	require.Zero(cfg.Backoff())
	require.Equal(time.Second, cfg.ErrorBackoff())
	require.Same(l, cfg.GetLogger())
	require.Same(client, cfg.client())
}

func TestNewLinkConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  LinkOption
	}{
		{"zero baud", WithBaud(0)},
		{"timeout too short", WithTimeout(time.Millisecond)},
		{"timeout too long", WithTimeout(time.Minute)},
		{"zero attempts", WithMaxAttempts(0)},
		{"too many attempts", WithMaxAttempts(MaxMaxAttempts + 1)},
		{"negative backoff", WithBackoff(-time.Millisecond)},
		{"error backoff too long", WithErrorBackoff(MaxBackoff + 1)},
		{"nil logger", WithLogger(nil)},
		{"nil client", WithHTTPClient(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLinkConfig(tt.opt)
			require.Error(t, err)
		})
	}
}
