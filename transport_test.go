package vdpa

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gvisoreventfd "gvisor.dev/gvisor/pkg/eventfd"
)

type fakeSession struct {
	device DeviceID
	queues []QueueInfo
}

// fakeTransport stands in for the vhost-user side, it only hands out what the
// test put in.
type fakeTransport struct {
	sync.Mutex
	sessions map[SessionID]*fakeSession
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sessions: map[SessionID]*fakeSession{}}
}

func (f *fakeTransport) add(s SessionID, d DeviceID, queues []QueueInfo) {
	f.Lock()
	defer f.Unlock()
	f.sessions[s] = &fakeSession{device: d, queues: queues}
}

func (f *fakeTransport) session(s SessionID) (*fakeSession, error) {
	f.Lock()
	defer f.Unlock()
	fs, ok := f.sessions[s]
	if !ok {
		return nil, fmt.Errorf("unknown session %d", s)
	}
	return fs, nil
}

func (f *fakeTransport) QueueCount(s SessionID) (int, error) {
	fs, err := f.session(s)
	if err != nil {
		return 0, err
	}
	return len(fs.queues), nil
}

func (f *fakeTransport) Queue(s SessionID, index int) (QueueInfo, error) {
	fs, err := f.session(s)
	if err != nil {
		return QueueInfo{}, err
	}
	if index < 0 || index >= len(fs.queues) {
		return QueueInfo{}, fmt.Errorf("session %d has no virtqueue %d", s, index)
	}
	return fs.queues[index], nil
}

func (f *fakeTransport) DeviceID(s SessionID) (DeviceID, error) {
	fs, err := f.session(s)
	if err != nil {
		return 0, err
	}
	return fs.device, nil
}

// newGuestQueues creates n virtqueues of the given depth, each with a kick
// eventfd the test can write like a guest would.
func newGuestQueues(t *testing.T, n int, depth uint16) ([]QueueInfo, []gvisoreventfd.Eventfd) {
	t.Helper()
	queues := make([]QueueInfo, n)
	kicks := make([]gvisoreventfd.Eventfd, n)
	for i := range queues {
		efd, err := gvisoreventfd.Create()
		require.NoError(t, err)
		t.Cleanup(func() { assert.NoError(t, efd.Close()) })

		kicks[i] = efd
		queues[i] = QueueInfo{Depth: depth, KickFD: efd.FD(), CallFD: -1}
	}
	return queues, kicks
}
