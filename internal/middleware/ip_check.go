package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminIPWhitelist accepts single addresses and CIDR blocks. An empty list
// allows everyone.
func AdminIPWhitelist(allowed []string) gin.HandlerFunc {
	if len(allowed) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	addrs := make([]net.IP, 0, len(allowed))
	nets := make([]*net.IPNet, 0)
	for _, item := range allowed {
		item = strings.TrimSpace(item)
		if _, block, err := net.ParseCIDR(item); err == nil {
			nets = append(nets, block)
			continue
		}
		if ip := net.ParseIP(item); ip != nil {
			addrs = append(addrs, ip)
		}
	}
	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP != nil {
			for _, allowedIP := range addrs {
				if allowedIP.Equal(clientIP) {
					c.Next()
					return
				}
			}
			for _, block := range nets {
				if block.Contains(clientIP) {
					c.Next()
					return
				}
			}
		}
		abort(c, http.StatusForbidden, "ip not allowed")
	}
}
