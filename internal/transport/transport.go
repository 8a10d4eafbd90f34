package transport

import (
	"net/http"
	"time"

	"github.com/ds124wfegd/transferbook/config"
	"github.com/ds124wfegd/transferbook/internal/transport/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Booking  *BookingHandler
	Invoice  *InvoiceHandler
	Settings *SettingsHandler
	Admin    *AdminHandler
}

func InitRoutes(h Handlers, cfg *config.ServerConfig) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(cfg.Timeout))

	api := router.Group("/api/v1")
	{
		bookings := api.Group("/bookings")
		{
			bookings.POST("", h.Booking.CreateBooking)
			bookings.GET("/:id", h.Booking.GetBooking)
			bookings.PATCH("/:id", h.Booking.UpdateBooking)
			bookings.POST("/:id/charges", h.Booking.AddCharge)
			bookings.POST("/:id/assign", h.Booking.AssignDriver)
			bookings.GET("/:id/invoice", h.Booking.GetBookingInvoice)
		}

		invoices := api.Group("/invoices")
		{
			invoices.GET("/:id", h.Invoice.GetInvoice)
			invoices.GET("/:id/pdf", h.Invoice.DownloadPDF)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/settings/:key", h.Settings.GetSetting)
			admin.PUT("/settings/:key", h.Settings.SetSetting)
			admin.GET("/queue/stats", h.Admin.QueueStats)
			admin.GET("/queue/failed", h.Admin.FailedTasks)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"version":   cfg.AppVersion,
			"timestamp": time.Now().UTC(),
		})
	})

	return router
}
