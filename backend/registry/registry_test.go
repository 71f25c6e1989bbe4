package registry

import (
	"testing"

	"github.com/adwski/waypoint/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r := New()
	p := model.NewPeer(1)

	r.Register(p)
	assert.Equal(t, model.RelayStats{Connections: 1}, r.Stats())

	prev, err := r.SetAdvertising(p, "AAAAAA")
	require.NoError(t, err)
	assert.Empty(t, prev)

	prev, err = r.SetAdvertising(p, "BBBBBB")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", prev)
	assert.Equal(t, "BBBBBB", r.Advertising(p))

	require.NoError(t, r.AddSubscription(p, "CCCCCC"))
	assert.Equal(t, model.RelayStats{Connections: 1, Advertisers: 1, Subscribers: 1}, r.Stats())

	st, err := r.Unregister(p)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", st.Advertising)
	assert.Contains(t, st.Subscriptions, "CCCCCC")
	assert.False(t, st.Idle())

	assert.Equal(t, model.RelayStats{}, r.Stats())
}

func TestRegistry_Advertised(t *testing.T) {
	r := New()
	a, b := model.NewPeer(1), model.NewPeer(1)
	r.Register(a)
	r.Register(b)

	assert.False(t, r.Advertised("AAAAAA"))
	_, err := r.SetAdvertising(a, "AAAAAA")
	require.NoError(t, err)
	_, err = r.SetAdvertising(b, "AAAAAA")
	require.NoError(t, err)

	_, err = r.Unregister(a)
	require.NoError(t, err)
	assert.True(t, r.Advertised("AAAAAA"))

	_, err = r.Unregister(b)
	require.NoError(t, err)
	assert.False(t, r.Advertised("AAAAAA"))
}

func TestRegistry_UnknownPeer(t *testing.T) {
	r := New()
	p := model.NewPeer(1)

	_, err := r.Unregister(p)
	assert.ErrorIs(t, err, ErrUnknownPeer)
	_, err = r.SetAdvertising(p, "AAAAAA")
	assert.ErrorIs(t, err, ErrUnknownPeer)
	assert.ErrorIs(t, r.AddSubscription(p, "AAAAAA"), ErrUnknownPeer)
	assert.Empty(t, r.Advertising(p))
}

func TestRegistry_RegisterTwiceKeepsState(t *testing.T) {
	r := New()
	p := model.NewPeer(1)

	r.Register(p)
	_, err := r.SetAdvertising(p, "AAAAAA")
	require.NoError(t, err)
	r.Register(p)

	assert.Equal(t, "AAAAAA", r.Advertising(p))
}
