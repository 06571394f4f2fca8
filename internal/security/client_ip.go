// Package security 解析可信代理后的真实客户端地址。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ParseTrustedProxies 接受 CIDR 或单个 IP。
func ParseTrustedProxies(items []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(items))
	for _, raw := range items {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			pfx, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("可信代理 CIDR 不合法: %q", s)
			}
			out = append(out, pfx.Masked())
			continue
		}
		ip, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("可信代理地址不合法: %q", s)
		}
		out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return out, nil
}

// ClientIP 返回请求方地址。
//
// 仅当 RemoteAddr 命中 trustedProxies 时才读取 X-Forwarded-For，并从右向左跳过可信代理，
// 取第一个不可信的地址；解析失败时回退到 RemoteAddr。
func ClientIP(r *http.Request, trustedProxies []netip.Prefix) string {
	if r == nil {
		return ""
	}
	remote := remoteIP(r)
	if !remote.IsValid() {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !isTrusted(remote, trustedProxies) {
		return remote.String()
	}

	hops := forwardedFor(r.Header.Values("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		ip, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		ip = ip.Unmap()
		if !isTrusted(ip, trustedProxies) {
			return ip.String()
		}
	}
	return remote.String()
}

func remoteIP(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return ip.Unmap()
}

func isTrusted(ip netip.Addr, trustedProxies []netip.Prefix) bool {
	for _, pfx := range trustedProxies {
		if pfx.Contains(ip) {
			return true
		}
	}
	return false
}

func forwardedFor(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
