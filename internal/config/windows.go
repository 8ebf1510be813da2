//go:build windows

package config

import (
	"golang.org/x/sys/windows/registry"
)

// DiscoverWindowsNameservers reads the system's configured DNS servers
// from the registry, the same source ipconfig reports, as an alternative
// to resolv.conf on platforms that don't have one.
func DiscoverWindowsNameservers() ([]string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`SYSTEM\CurrentControlSet\Services\Tcpip\Parameters`, registry.QUERY_VALUE)
	if err != nil {
		return nil, err
	}
	defer k.Close()

	servers, _, err := k.GetStringValue("NameServer")
	if err != nil || servers == "" {
		servers, _, err = k.GetStringValue("DhcpNameServer")
		if err != nil {
			return nil, err
		}
	}
	return splitWindowsServerList(servers), nil
}

func splitWindowsServerList(s string) []string {
	var out []string
	field := ""
	for _, r := range s {
		if r == ' ' || r == ',' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}
