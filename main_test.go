package vdpa

import (
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/shahafsh/virtio-emulation/config"
	"github.com/shahafsh/virtio-emulation/test"
	"github.com/shahafsh/virtio-emulation/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
logging:
  level: debug
rx:
  completion_queue: 3
accelerators:
  - name: emu0
    backend: emulated
  - name: emu1
    fill_key: 0x42
    virtq_emulation: true
    max_virtqs: 4
`

func loadConfig(t *testing.T, raw string) *config.C {
	t.Helper()
	c := config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString(raw))
	return c
}

func TestMain_Control(t *testing.T) {
	ft := newFakeTransport()
	ctrl, err := Main(loadConfig(t, testConfig), false, "1.2.3", test.NewLogger(), ft)
	require.NoError(t, err)
	require.NotNil(t, ctrl)
	ctrl.Start()

	devices := ctrl.ListDevices()
	require.Len(t, devices, 2)
	assert.Equal(t, ControlDeviceInfo{
		ID:               0,
		Accelerator:      "emu0",
		MaxQueuePairs:    1,
		Features:         "PROTOCOL_FEATURES|VERSION_1",
		ProtocolFeatures: "SLAVE_REQ|SLAVE_SEND_FD|HOST_NOTIFIER",
	}, devices[0])
	assert.Equal(t, "emu1", devices[1].Accelerator)
	assert.Equal(t, uint16(2), devices[1].MaxQueuePairs)
	assert.True(t, devices[1].VirtqEmulation)

	d, err := ctrl.Backend().Registry().Find(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x42), d.Capabilities().FillKey)
	assert.Equal(t, uint32(3), ctrl.Backend().provisioner.completionQueue)

	queues, _ := newGuestQueues(t, 4, 128)
	ft.add(7, 1, queues)
	require.NoError(t, ctrl.Ops().Configure(7))
	assert.True(t, ctrl.ListDevices()[1].Attached)

	ctrl.Stop()
	assert.False(t, d.Attached())
	assert.False(t, d.hasResources())
	for _, a := range ctrl.accelerators {
		assert.Equal(t, -1, a.CommandFD(), a.Name())
	}
}

func TestMain_ConfigTest(t *testing.T) {
	c := loadConfig(t, testConfig+`
stats:
  type: graphite
  interval: 10s
  host: 127.0.0.1:2003
`)
	ctrl, err := Main(c, true, "1.2.3", test.NewLogger(), nil)
	require.NoError(t, err)
	assert.Nil(t, ctrl)
}

func TestMain_Errors(t *testing.T) {
	tests := []struct {
		name        string
		config      string
		context     string
		accelerator string
	}{
		{
			name:    "bad log level",
			config:  "logging:\n  level: chatty\n",
			context: "Failed to configure the logger",
		},
		{
			name:    "duplicate accelerator",
			config:  "accelerators:\n  - name: a\n  - name: a\n",
			context: "Failed to load accelerators from config",
		},
		{
			name:    "unnamed accelerator",
			config:  "accelerators:\n  - backend: emulated\n",
			context: "Failed to load accelerators from config",
		},
		{
			name:        "unknown backend",
			config:      "accelerators:\n  - name: a\n  - name: b\n    backend: mlx5\n",
			context:     "Failed to open accelerator",
			accelerator: "b",
		},
		{
			name:        "emulation without queues",
			config:      "accelerators:\n  - name: a\n    virtq_emulation: true\n",
			context:     "Failed to open accelerator",
			accelerator: "a",
		},
		{
			name:        "no fill key",
			config:      "accelerators:\n  - name: a\n    fill_key_supported: false\n",
			context:     "Failed to register accelerator",
			accelerator: "a",
		},
		{
			name:    "bad stats",
			config:  "stats:\n  type: nope\n  interval: 10s\n",
			context: "Failed to start stats emitter",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl, err := Main(loadConfig(t, tc.config), false, "", test.NewLogger(), nil)
			require.Error(t, err)
			assert.Nil(t, ctrl)

			var ce *util.ContextualError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.context, ce.Context)
			if tc.accelerator != "" {
				assert.Equal(t, tc.accelerator, ce.Fields["accelerator"])
			}
		})
	}
}

func TestStartStats(t *testing.T) {
	l := test.NewLogger()

	start, err := startStats(l, loadConfig(t, "stats:\n  type: none\n"), metrics.NewRegistry(), "", false)
	require.NoError(t, err)
	assert.Nil(t, start)

	_, err = startStats(l, loadConfig(t, "stats:\n  type: prometheus\n"), metrics.NewRegistry(), "", false)
	assert.EqualError(t, err, "stats.interval was an invalid duration: ")

	_, err = startStats(l, loadConfig(t, "stats:\n  type: prometheus\n  interval: 1s\n"), metrics.NewRegistry(), "", false)
	assert.EqualError(t, err, "stats.listen should not be empty")

	_, err = startStats(l, loadConfig(t, "stats:\n  type: prometheus\n  interval: 1s\n  listen: 127.0.0.1:0\n"), metrics.NewRegistry(), "", false)
	assert.EqualError(t, err, "stats.path should not be empty")

	_, err = startStats(l, loadConfig(t, "stats:\n  type: graphite\n  interval: 1s\n"), metrics.NewRegistry(), "", false)
	assert.EqualError(t, err, "stats.host can not be empty")

	start, err = startStats(l, loadConfig(t, "stats:\n  type: prometheus\n  interval: 1s\n  listen: 127.0.0.1:0\n  path: /metrics\n"), metrics.NewRegistry(), "1.2.3", false)
	require.NoError(t, err)
	assert.NotNil(t, start)
}
