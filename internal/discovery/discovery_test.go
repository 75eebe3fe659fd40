package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestEntryURL(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  string
	}{
		{"nil", nil, ""},
		{"no port", &zeroconf.ServiceEntry{AddrIPv4: []net.IP{net.ParseIP("192.168.1.10")}}, ""},
		{"no address", &zeroconf.ServiceEntry{Port: 8080}, ""},
		{"ipv4", &zeroconf.ServiceEntry{Port: 8080, AddrIPv4: []net.IP{net.ParseIP("192.168.1.10")}}, "http://192.168.1.10:8080"},
		{"ipv6", &zeroconf.ServiceEntry{Port: 8080, AddrIPv6: []net.IP{net.ParseIP("fe80::1")}}, "http://[fe80::1]:8080"},
		{
			"prefers ipv4",
			&zeroconf.ServiceEntry{Port: 80, AddrIPv4: []net.IP{net.ParseIP("10.0.0.2")}, AddrIPv6: []net.IP{net.ParseIP("fe80::1")}},
			"http://10.0.0.2:80",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entryURL(tt.entry); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnnouncer_InvalidPort(t *testing.T) {
	a := NewAnnouncer(0, WithInstance("test"))
	if err := a.Start(); err == nil {
		t.Errorf("expected an error")
	}
	a.Stop()
}
