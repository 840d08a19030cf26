package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/KodaTao/linguachat/config"
)

// CORS answers preflight requests for the tutor endpoint. "*" in the
// configured origins allows any origin.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:              []string{http.MethodPost, http.MethodOptions, http.MethodGet, http.MethodDelete},
		AllowHeaders:              []string{"Content-Type", "Authorization"},
		MaxAge:                    24 * time.Hour,
		OptionsResponseStatusCode: http.StatusNoContent,
	}

	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			cc.AllowAllOrigins = true
			break
		}
		cc.AllowOrigins = append(cc.AllowOrigins, origin)
	}
	if !cc.AllowAllOrigins && len(cc.AllowOrigins) == 0 {
		cc.AllowAllOrigins = true
	}

	return cors.New(cc)
}
