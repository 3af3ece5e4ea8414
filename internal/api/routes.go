package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voicelab/voicegate/domain/repositories"
	"github.com/voicelab/voicegate/internal/auth"
	"github.com/voicelab/voicegate/internal/config"
	"github.com/voicelab/voicegate/internal/gateway"
)

// Deps bundles what the routes need.
type Deps struct {
	Hub       *gateway.Hub
	Registry  gateway.DriverRegistry
	Limits    config.LimitsConfig
	Outcomes  repositories.SessionOutcomeRepository
	Validator *auth.Validator
	Logger    *zap.Logger
}

// InitRoutes initializes all API routes.
func InitRoutes(e *echo.Echo, deps Deps) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voicegate",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	v1.GET("/models", func(c echo.Context) error {
		return listModels(c, deps)
	})

	// WebSocket endpoint, one session per connection.
	e.GET("/ws/:model", func(c echo.Context) error {
		return websocketWithAuth(c, deps)
	})
}

// listModels exposes the capability catalog so clients can discover
// negotiable parameters before opening a session.
func listModels(c echo.Context, deps Deps) error {
	caps := deps.Registry.Capabilities()
	models := make([]ModelResponse, 0, len(caps))
	for _, cap := range caps {
		m := ModelResponse{
			ID:                   cap.ID,
			Name:                 cap.Name,
			Provider:             cap.Provider,
			Enabled:              cap.Enabled,
			SupportedSampleRates: cap.SupportedSampleRates,
			SupportedEncodings:   cap.SupportedEncodings,
			DefaultSampleRate:    cap.DefaultSampleRate,
			DefaultEncoding:      cap.DefaultEncoding,
			DefaultVoice:         cap.DefaultVoice,
			Transcription:        cap.SupportsTranscription,
			Interruption:         cap.SupportsInterruption,
			MaxSessionDuration:   cap.MaxSessionDuration,
		}
		for _, v := range cap.Voices {
			m.Voices = append(m.Voices, VoiceResponse{
				ID:     v.ID,
				Name:   v.Name,
				Gender: v.Gender,
				Style:  v.Style,
			})
		}
		models = append(models, m)
	}
	return c.JSON(http.StatusOK, ModelsResponse{Models: models})
}

// websocketWithAuth validates the caller before the upgrade. When no
// secret is configured the endpoint is open and callers are anonymous.
func websocketWithAuth(c echo.Context, deps Deps) error {
	modelID := c.Param("model")
	if modelID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_model",
			Message: "Model id is required in the path",
		})
	}

	userID := "anonymous"
	apiKeyOverride := ""

	if deps.Validator.Enabled() {
		var token string
		authHeader := c.Request().Header.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
		if token == "" {
			deps.Logger.Warn("websocket connection rejected: missing token")
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := deps.Validator.ValidateToken(token)
		if err != nil {
			deps.Logger.Warn("websocket connection rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}
		userID = claims.UserID
		apiKeyOverride = claims.VendorAPIKey
	}

	deps.Logger.Info("websocket connection accepted",
		zap.String("model", modelID),
		zap.String("user_id", userID))

	return gateway.ServeWS(deps.Hub, c, modelID, userID, apiKeyOverride, gateway.SessionDeps{
		Logger:   deps.Logger,
		Registry: deps.Registry,
		Limits:   deps.Limits,
		Outcomes: deps.Outcomes,
	})
}
