package controllers

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/api/middleware"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
)

func currentUserID(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok || id.UserID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return id.UserID, nil
}

// posClient prefers the explicit header and falls back to the client the
// token was issued to.
func posClient(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get(posClientHeader)); header != "" {
		return header
	}
	return middleware.POSClientFromContext(r.Context())
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		if first := strings.TrimSpace(strings.Split(header, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
