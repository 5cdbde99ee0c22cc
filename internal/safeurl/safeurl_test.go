package safeurl

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticResolver map[string][]string

func (r staticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := r[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, s := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out, nil
}

func TestValidate_AcceptsPublicHosts(t *testing.T) {
	v := NewValidator(staticResolver{
		"hooks.example.com": {"93.184.216.34"},
		"dual.example.com":  {"93.184.216.34", "2606:2800:220:1::1"},
	})
	require.NoError(t, v.Validate(context.Background(), "https://hooks.example.com/webhook"))
	require.NoError(t, v.Validate(context.Background(), "http://dual.example.com:8443/cb"))
	require.NoError(t, v.Validate(context.Background(), "https://93.184.216.34/cb"))
}

func TestValidate_RejectsBlockedAddresses(t *testing.T) {
	v := NewValidator(staticResolver{
		"internal.example.com": {"10.0.0.5"},
		"rebind.example.com":   {"93.184.216.34", "127.0.0.1"},
		"mapped.example.com":   {"::ffff:192.168.1.10"},
	})

	for _, raw := range []string{
		"http://127.0.0.1/admin",
		"http://localhost.example:8080/", // unresolvable is also an error
		"https://10.1.2.3/cb",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/cb",
		"http://[fe80::1]/cb",
		"http://0.0.0.0/",
		"http://internal.example.com/cb",
		"http://rebind.example.com/cb", // one bad address taints the set
		"http://mapped.example.com/cb",
	} {
		require.Error(t, v.Validate(context.Background(), raw), raw)
	}
}

func TestValidate_RejectsBadSchemes(t *testing.T) {
	v := NewValidator(staticResolver{})
	for _, raw := range []string{
		"file:///etc/passwd",
		"ftp://example.com/x",
		"gopher://example.com/",
		"example.com/no-scheme",
		"",
	} {
		require.Error(t, v.Validate(context.Background(), raw), raw)
	}
}
