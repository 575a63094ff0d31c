package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"receipts/cache"
	"receipts/config"
	"receipts/database"
	"receipts/middleware"
	"receipts/router"
	"receipts/service"
)

// @title 小票记账 API
// @version 1.0
// @description 拍摄小票自动识别金额、商家与日期，确认后保存为消费记录
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var (
	configFile  string
	port        string
	showVersion bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "外部配置文件路径（可选）")
	flag.StringVar(&configFile, "c", "", "外部配置文件路径（简写）")
	flag.StringVar(&port, "port", "", "监听端口，如: 8080 或 :8080")
	flag.StringVar(&port, "p", "", "监听端口（简写）")
	flag.BoolVar(&showVersion, "version", false, "显示版本信息")
	flag.BoolVar(&showVersion, "v", false, "显示版本信息（简写）")
}

func main() {
	flag.Parse()

	if showVersion {
		log.Println("小票记账 v1.0.0")
		return
	}

	// 加载配置（内置配置 + 可选的外部配置覆盖）
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 命令行参数覆盖端口配置
	if port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Server.Port = port
		log.Printf("命令行指定端口: %s", port)
	}

	config.PrintConfig()

	// 用户表始终保存在关系数据库中
	if err := database.Init(cfg); err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}

	// Redis 不可用时退回进程内通知与注销列表
	var rc *cache.Client
	if cfg.Redis.Enabled {
		rc = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			log.Printf("警告: Redis 连接失败，使用单机模式: %v", err)
			rc = nil
		} else {
			log.Printf("Redis 已连接: %s", cfg.Redis.Addr)
		}
		cancel()
	}

	stores, err := database.NewStores(cfg, database.DB, database.NewFeed(rc))
	if err != nil {
		log.Fatalf("存储初始化失败: %v", err)
	}

	// 初始化 JWT
	middleware.InitJWT(cfg)
	if rc != nil {
		middleware.SetTokenBlacklist(middleware.NewRedisTokenBlacklist(rc))
	}

	if cfg.Vision.APIKey == "" {
		log.Printf("警告: 未配置识别接口密钥 (RECEIPTS_VISION_API_KEY)，小票识别将失败")
	}
	analyzer := service.NewReceiptAnalyzer(service.NewVisionClient(&cfg.Vision))
	scans := service.NewScanManager(analyzer, stores.Expenses, cfg.Scan.SessionTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scans.Run(ctx)

	r := router.SetupRouter(cfg, stores, scans)

	log.Printf("==========================================")
	log.Printf("  🧾 小票记账已启动")
	log.Printf("==========================================")
	log.Printf("  Swagger:  http://localhost%s/swagger/index.html", cfg.Server.Port)
	log.Printf("  API接口:  http://localhost%s/api/v1/", cfg.Server.Port)
	log.Printf("==========================================")

	if err := r.Run(cfg.Server.Port); err != nil {
		log.Fatalf("服务器启动失败: %v", err)
	}
}
