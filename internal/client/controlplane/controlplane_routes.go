package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftmail/internal/client/handlers"
	"github.com/openmined/syftmail/internal/client/middleware"
	"github.com/openmined/syftmail/internal/version"
)

const defaultRateLimit = 10

// RouteDeps are the services behind the control plane routes.
type RouteDeps struct {
	Status  handlers.PassStatusSource
	Runner  handlers.PassRunner
	Pending handlers.PendingSource
}

func SetupRoutes(deps *RouteDeps, config *CPServerConfig) http.Handler {
	r := gin.New()

	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}

	statusH := handlers.NewStatusHandler(deps.Status)
	upsyncH := handlers.NewUpsyncHandler(deps.Runner, deps.Pending)

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(config.Logger))
	r.Use(middleware.CORS(config.Origins...))
	r.Use(middleware.Gzip())
	r.Use(middleware.RateLimit(rateLimit))

	r.GET("/", IndexHandler)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(middleware.TokenAuthConfig{Token: config.AuthToken}))
	{
		v1.GET("/status", statusH.Status)

		v1Accounts := v1.Group("/accounts/:account")
		{
			v1Accounts.GET("/pending", upsyncH.Pending)
			v1Accounts.POST("/upsync", upsyncH.Upsync)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}
