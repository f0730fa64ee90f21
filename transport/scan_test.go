package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	require := require.New(t)

	ports := map[string]*fakePort{
		"/dev/ttyUSB0": newFakePort(pumpResponder(0, 2)),
		"/dev/ttyUSB1": newFakePort(nil),
	}
	lister := func() ([]PortInfo, error) {
		return []PortInfo{
			{Name: "/dev/ttyUSB0", Description: "FT232R USB UART", IsUSB: true},
			{Name: "/dev/ttyUSB1"},
			{Name: "/dev/ttyGONE"},
		}, nil
	}
	reg := NewRegistry(WithPortOpener(fixedOpener(ports, nil)))

	found, err := Scan(context.Background(),
		WithPortLister(lister),
		WithScanRegistry(reg),
		WithScanAddresses(0, 1, 2),
		WithScanTimeout(MinTimeout),
	)
	require.NoError(err)
	require.Equal([]FoundPump{
		{Port: "/dev/ttyUSB0", Description: "FT232R USB UART", Address: 0},
		{Port: "/dev/ttyUSB0", Description: "FT232R USB UART", Address: 2},
	}, found)

	// every probe link is released
	require.Zero(reg.Len())
	require.Equal(3, ports["/dev/ttyUSB0"].closeCount())

	// silent port: DefaultScanMaxAttempts per address
	require.Len(ports["/dev/ttyUSB1"].written(), 3*DefaultScanMaxAttempts)
}

func TestScan_DefaultAddresses(t *testing.T) {
	require := require.New(t)

	ports := map[string]*fakePort{
		"/dev/ttyUSB0": newFakePort(pumpResponder(3)),
		"/dev/ttyUSB1": newFakePort(nil),
	}
	lister := func() ([]PortInfo, error) {
		return []PortInfo{{Name: "/dev/ttyUSB0"}, {Name: "/dev/ttyUSB1"}}, nil
	}
	reg := NewRegistry(WithPortOpener(fixedOpener(ports, nil)))

	found, err := Scan(context.Background(),
		WithPortLister(lister),
		WithScanRegistry(reg),
		WithScanTimeout(MinTimeout),
	)
	require.NoError(err)
	require.Equal([]FoundPump{{Port: "/dev/ttyUSB0", Address: 3}}, found)
	require.Len(ports["/dev/ttyUSB1"].written(), len(DefaultScanAddresses)*DefaultScanMaxAttempts)
}

func TestScan_ListerError(t *testing.T) {
	_, err := Scan(context.Background(), WithPortLister(func() ([]PortInfo, error) {
		return nil, errors.New("no permission")
	}))
	require.ErrorContains(t, err, "no permission")
}

func TestScan_InvalidTimeout(t *testing.T) {
	_, err := Scan(context.Background(),
		WithPortLister(func() ([]PortInfo, error) { return nil, nil }),
		WithScanTimeout(time.Hour),
	)
	require.Error(t, err)
}

func TestScan_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	found, err := Scan(ctx, WithPortLister(func() ([]PortInfo, error) {
		return []PortInfo{{Name: "/dev/ttyUSB0"}}, nil
	}))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, found)
}
