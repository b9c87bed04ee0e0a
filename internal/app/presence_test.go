package app

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorhub/signaling/internal/core"
	"github.com/mentorhub/signaling/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return ErrRecipientOffline
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) sent() []core.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func TestPresenceRegisterLookup(t *testing.T) {
	p := NewPresence()
	alice := domain.UserID("alice")

	assert.Empty(t, p.Lookup(alice), "unknown user yields empty, not an error")

	c1 := &fakeConn{}
	newly := p.Register(alice, "conn-1", c1)
	assert.True(t, newly)

	// Second device: user stays online, no new online transition.
	c2 := &fakeConn{}
	newly = p.Register(alice, "conn-2", c2)
	assert.False(t, newly)

	snaps := p.Lookup(alice)
	require.Len(t, snaps, 2)

	uid, ok := p.UserOf("conn-1")
	require.True(t, ok)
	assert.Equal(t, alice, uid)
}

func TestPresenceDoubleRegisterIsNoop(t *testing.T) {
	p := NewPresence()
	c := &fakeConn{}
	assert.True(t, p.Register("alice", "conn-1", c))
	assert.False(t, p.Register("alice", "conn-1", c))
	assert.Len(t, p.Lookup("alice"), 1)
}

func TestPresenceUnregister(t *testing.T) {
	p := NewPresence()
	p.Register("alice", "conn-1", &fakeConn{})
	p.Register("alice", "conn-2", &fakeConn{})

	uid, last, ok := p.Unregister("conn-1")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), uid)
	assert.False(t, last)

	uid, last, ok = p.Unregister("conn-2")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), uid)
	assert.True(t, last, "removing the last connection takes the user offline")
	assert.Empty(t, p.Lookup("alice"))

	// Idempotent: the second unregister has no effect.
	_, _, ok = p.Unregister("conn-2")
	assert.False(t, ok)
}

func TestPresenceOnlineSorted(t *testing.T) {
	p := NewPresence()
	p.Register("carol", "c1", &fakeConn{})
	p.Register("alice", "c2", &fakeConn{})
	p.Register("bob", "c3", &fakeConn{})

	assert.Equal(t, []domain.UserID{"alice", "bob", "carol"}, p.Online())
	assert.Equal(t, 3, p.OnlineCount())
}

func TestPresenceConsistencyUnderChurn(t *testing.T) {
	p := NewPresence()
	var wg sync.WaitGroup
	users := []domain.UserID{"a", "b", "c", "d"}
	for _, uid := range users {
		wg.Add(1)
		go func(uid domain.UserID) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				cid := core.ConnID(string(uid) + "-conn")
				p.Register(uid, cid, &fakeConn{})
				p.Lookup(uid)
				p.Unregister(cid)
			}
		}(uid)
	}
	wg.Wait()
	assert.Equal(t, 0, p.OnlineCount(), "registry reflects exactly the outstanding register/unregister calls")
}
