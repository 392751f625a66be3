package handler

import (
	"context"

	"github.com/prohmpiriya/tutor-site/internal/backend"
)

// Backend is the outbound client the handlers forward to
type Backend interface {
	Do(ctx context.Context, req backend.Request) (*backend.Response, error)
	Configured() bool
}
