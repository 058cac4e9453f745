package gsb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressBagLongestPrefixBoundary(t *testing.T) {
	bag := newAddressBag[string]()
	bag.insert("/a/b", "k1")
	bag.insert("/a", "k2")

	v, ok := bag.lookupLongestPrefix("/a/b/Foo")
	require.True(t, ok)
	assert.Equal(t, "k1", v)

	_, ok = bag.lookupLongestPrefix("/abc")
	assert.False(t, ok, "/abc must not match the shorter key /a")

	v, ok = bag.lookupLongestPrefix("/a/zzz")
	require.True(t, ok)
	assert.Equal(t, "k2", v)
}

func TestAddressBagExactMatch(t *testing.T) {
	bag := newAddressBag[int]()
	bag.insert("/svc", 1)

	v, ok := bag.lookupLongestPrefix("/svc")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestAddressBagRebindReplaces(t *testing.T) {
	bag := newAddressBag[string]()
	bag.insert("/svc", "h1")
	bag.insert("/svc", "h2")

	v, ok := bag.lookupLongestPrefix("/svc")
	require.True(t, ok)
	assert.Equal(t, "h2", v)
	assert.Len(t, bag.keys(), 1)
}

func TestAddressBagRemoveAndPrefixScan(t *testing.T) {
	bag := newAddressBag[int]()
	bag.insert("/svc/a", 1)
	bag.insert("/svc/b", 2)
	bag.insert("/svcx/c", 3)

	var toRemove []string
	for _, k := range bag.keys() {
		if len(k) > len("/svc/") && k[:len("/svc/")] == "/svc/" {
			toRemove = append(toRemove, k)
		}
	}
	require.Len(t, toRemove, 2)
	for _, k := range toRemove {
		bag.remove(k)
	}

	_, ok := bag.lookupLongestPrefix("/svc/a")
	assert.False(t, ok)
	_, ok = bag.lookupLongestPrefix("/svcx/c")
	assert.True(t, ok, "sibling /svcx must survive a /svc unbind")
}

func TestAddressBagMissOnEmpty(t *testing.T) {
	bag := newAddressBag[int]()
	_, ok := bag.lookupLongestPrefix("/nope")
	assert.False(t, ok)
}
