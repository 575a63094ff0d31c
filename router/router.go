package router

import (
	"time"

	"receipts/api"
	"receipts/config"
	"receipts/database"
	_ "receipts/docs"
	"receipts/middleware"
	"receipts/service"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, stores *database.Stores, scans *service.ScanManager) *gin.Engine {
	// 设置运行模式
	gin.SetMode(cfg.Server.Mode)

	r := gin.Default()

	// CORS 中间件
	r.Use(CORSMiddleware())

	// Swagger 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authHandler := api.NewAuthHandler(cfg, stores.Categories)
	expenseHandler := api.NewExpenseHandler(stores.Expenses, stores.Categories, scans)
	categoryHandler := api.NewCategoryHandler(stores.Categories)
	scanHandler := api.NewScanHandler(scans, stores.Categories)
	exportHandler := api.NewExportHandler(stores.Expenses, stores.Categories)

	v1 := r.Group("/api/v1")
	{
		// 认证相关路由（无需登录），每 IP 每分钟最多 10 次
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit(10, time.Minute))
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// 需要 JWT 认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth())
		{
			authorized.GET("/auth/profile", authHandler.GetProfile)
			authorized.POST("/auth/logout", authHandler.Logout)
			authorized.PUT("/auth/password", authHandler.ChangePassword)

			expenses := authorized.Group("/expenses")
			{
				expenses.GET("", expenseHandler.List)
				expenses.POST("", expenseHandler.Create)
				expenses.GET("/stream", expenseHandler.Stream)
				expenses.GET("/chart", expenseHandler.Chart)
				expenses.GET("/:id", expenseHandler.Get)
				expenses.PUT("/:id", expenseHandler.Update)
				expenses.DELETE("/:id", expenseHandler.Delete)
				expenses.POST("/:id/edit", expenseHandler.Edit)
			}

			categories := authorized.Group("/categories")
			{
				categories.GET("", categoryHandler.List)
				categories.POST("", categoryHandler.Create)
				categories.GET("/stream", categoryHandler.Stream)
				categories.PUT("/:id", categoryHandler.Update)
				categories.DELETE("/:id", categoryHandler.Delete)
			}

			scansGroup := authorized.Group("/scans")
			{
				scansGroup.POST("", middleware.ScanRateLimit(cfg.Scan.MaxPerMinute, time.Minute), scanHandler.Start)
				scansGroup.GET("/:id", scanHandler.Get)
				scansGroup.PATCH("/:id", scanHandler.Patch)
				scansGroup.POST("/:id/save", scanHandler.Save)
				scansGroup.DELETE("/:id", scanHandler.Cancel)
			}

			export := authorized.Group("/export")
			{
				export.GET("/csv", exportHandler.ExportCSV)
				export.GET("/excel", exportHandler.ExportExcel)
			}
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"storage": cfg.Storage.Backend,
		})
	})

	return r
}

// CORSMiddleware CORS 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
