package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/broker"
)

// BrokerAPI exposes the brokered login flow over HTTP.
type BrokerAPI struct {
	service *broker.Service
}

// NewBrokerAPI initializes the broker API.
func NewBrokerAPI(service *broker.Service) *BrokerAPI {
	return &BrokerAPI{service: service}
}

// RegisterRoutes registers the broker routes.
func (ba *BrokerAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/realms/:realm/broker/:alias/login", ba.InitiateLoginHandler)
	e.POST("/realms/:realm/broker/:alias/login", ba.DirectoryLoginHandler)
	e.GET("/broker/callback/:realm", ba.CallbackHandler)
}

// InitiateLoginHandler starts a brokered login. OIDC providers answer with an
// authorization URL to redirect to; directory providers answer with a flag
// telling the caller to POST credentials to the same path.
func (ba *BrokerAPI) InitiateLoginHandler(c echo.Context) error {
	realmID := c.Param("realm")
	alias := c.Param("alias")
	redirectURI := c.QueryParam("redirect_uri")

	out, err := ba.service.InitiateLogin(c.Request().Context(), realmID, alias, redirectURI)
	if err != nil {
		return brokerErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// CallbackHandler completes an OAuth/OIDC brokered login.
func (ba *BrokerAPI) CallbackHandler(c echo.Context) error {
	realmID := c.Param("realm")
	state := c.QueryParam("state")
	code := c.QueryParam("code")

	if state == "" || code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": "state and code parameters are required",
		})
	}

	out, err := ba.service.HandleCallback(c.Request().Context(), realmID, state, code)
	if err != nil {
		return brokerErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// DirectoryLoginHandler completes a login against a directory provider using
// the posted credentials.
func (ba *BrokerAPI) DirectoryLoginHandler(c echo.Context) error {
	realmID := c.Param("realm")
	alias := c.Param("alias")
	username := c.FormValue("username")
	password := c.FormValue("password")

	if username == "" || password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": "username and password are required",
		})
	}

	out, err := ba.service.HandleDirectoryLogin(c.Request().Context(), realmID, alias, username, password)
	if err != nil {
		return brokerErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// brokerErrorResponse maps domain errors onto HTTP responses. Credential
// failures are reported uniformly so callers cannot probe which accounts
// exist in the directory.
func brokerErrorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case errors.Is(err, domain.ErrInvalidState):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_state",
			"error_description": "login session is unknown, expired or already used",
		})
	case errors.Is(err, domain.ErrInvalidRealm):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_realm"})
	case errors.Is(err, domain.ErrInvalidUser), errors.Is(err, domain.ErrInvalidPassword):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials"})
	case errors.Is(err, domain.ErrUpstreamRejected):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "upstream_rejected"})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "upstream_unavailable"})
	case errors.Is(err, domain.ErrDuplicateUser):
		return c.JSON(http.StatusConflict, echo.Map{"error": "account_conflict"})
	default:
		log.Error().Err(err).Msg("Brokered login failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
	}
}
