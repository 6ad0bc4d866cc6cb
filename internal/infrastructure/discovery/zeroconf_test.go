package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestEntryToCandidate(t *testing.T) {
	t.Run("prefers IPv4 address", func(t *testing.T) {
		entry := &zeroconf.ServiceEntry{
			ServiceRecord: zeroconf.ServiceRecord{Instance: "den"},
			HostName:      "den.local.",
			Port:          7460,
			AddrIPv4:      []net.IP{net.IPv4(192, 168, 1, 10)},
			AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
		}

		peer, ok := entryToCandidate(entry)
		assert.True(t, ok)
		assert.Equal(t, "den", peer.Name)
		assert.Equal(t, "192.168.1.10", peer.Host)
		assert.Equal(t, 7460, peer.ControlPort)
	})

	t.Run("falls back to hostname", func(t *testing.T) {
		entry := &zeroconf.ServiceEntry{
			ServiceRecord: zeroconf.ServiceRecord{Instance: "den"},
			HostName:      "den.local.",
			Port:          7460,
		}

		peer, ok := entryToCandidate(entry)
		assert.True(t, ok)
		assert.Equal(t, "den.local", peer.Host)
	})

	t.Run("rejects unusable entries", func(t *testing.T) {
		_, ok := entryToCandidate(nil)
		assert.False(t, ok)

		_, ok = entryToCandidate(&zeroconf.ServiceEntry{
			ServiceRecord: zeroconf.ServiceRecord{Instance: "den"},
			HostName:      "den.local.",
		})
		assert.False(t, ok, "zero port")

		_, ok = entryToCandidate(&zeroconf.ServiceEntry{Port: 7460})
		assert.False(t, ok, "no host at all")
	})
}
