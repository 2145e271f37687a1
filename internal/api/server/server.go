// Package server builds the http.Server for the uplift API.
package server

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// New wraps the ginext router in an http.Server listening on addr. Shutdown
// ordering (drain HTTP before closing the broker and DB) lives in main.
func New(addr string, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: router,
	}
}
