package handler

import (
	"codecollab/internal/app/collab"
	"codecollab/internal/configs"
	"codecollab/internal/pkg/auth/jwt"
)

// AppDeps bundles the dependencies handlers need: the collaboration hub, the
// application configuration, and the connection gate's credential verifier.
type AppDeps struct {
	Hub      *collab.Hub
	Config   *configs.AppConfig
	Verifier *jwt.Verifier
}
