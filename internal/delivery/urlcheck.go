package delivery

import (
    "fmt"
    "net"
    "net/url"
)

// ValidateURL checks a destination endpoint at configuration time: HTTPS is
// required outside dev mode, and the host must not resolve into loopback,
// link-local, or private address space (SSRF defense). Dev mode relaxes both
// so local receivers can be exercised.
func ValidateURL(raw string, devMode bool) error {
    u, err := url.Parse(raw)
    if err != nil {
        return fmt.Errorf("invalid url: %v", err)
    }
    if u.Host == "" {
        return fmt.Errorf("invalid url: missing host")
    }
    switch u.Scheme {
    case "https":
    case "http":
        if !devMode { return fmt.Errorf("https required") }
    default:
        return fmt.Errorf("unsupported scheme %q", u.Scheme)
    }
    if devMode {
        return nil
    }
    host := u.Hostname()
    ips, err := resolveHost(host)
    if err != nil {
        return fmt.Errorf("host does not resolve: %v", err)
    }
    for _, ip := range ips {
        if isForbiddenIP(ip) {
            return fmt.Errorf("host resolves to forbidden address %s", ip)
        }
    }
    return nil
}

func resolveHost(host string) ([]net.IP, error) {
    if ip := net.ParseIP(host); ip != nil {
        return []net.IP{ip}, nil
    }
    return net.LookupIP(host)
}

func isForbiddenIP(ip net.IP) bool {
    return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
        ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
