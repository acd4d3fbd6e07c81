package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"debate_arena/internal/api"
	arkjudge "debate_arena/internal/judge"
	"debate_arena/internal/models"
	"debate_arena/internal/repository"
	"debate_arena/internal/service"
	"debate_arena/internal/storage"
	"debate_arena/internal/utils"
	"debate_arena/pkg/config"
)

func main() {
	ctx := context.Background()

	// 載入 .env（可選），再載入應用程式配置
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	utils.InitJWT(cfg.JWT.Secret)

	// 初始化資料庫連接
	db, err := storage.NewPostgresDB(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	// 確保在程序結束時關閉數據庫連接
	defer db.Close()

	// 自動遷移資料庫結構
	if err := db.AutoMigrate(&models.User{}, &models.Session{}, &models.Turn{}, &models.RateLimitEntry{}); err != nil {
		log.Fatalf("Failed to auto migrate database: %v", err)
	}

	// 跨進程事件通道，與主庫共用同一個 Postgres
	pubsub, err := storage.NewPostgresPubSub(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("Failed to initialize pubsub: %v", err)
	}
	defer pubsub.Close()

	// 外部評審函數：未配置時照常啟動，評審會以失敗收場並可重試
	var judgeFn service.Judge
	if cfg.Judge.Enabled() {
		ark, err := arkjudge.NewArkJudge(ctx, cfg.Judge)
		if err != nil {
			log.Printf("warning: failed to initialize judge model: %v", err)
		} else {
			judgeFn = ark
			log.Println("Judge model initialized successfully")
		}
	} else {
		log.Println("評審模型未配置，跳過評審功能初始化")
	}

	// 初始化 repositories 和 services
	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, pubsub, judgeFn, cfg)

	// 每個進程只訂閱一次共用事件頻道
	if err := services.EventBus.Start(ctx); err != nil {
		log.Fatalf("Failed to subscribe event channel: %v", err)
	}

	// 重建所有進行中會話的發言預期，進程內快取因此可以隨時丟棄
	if err := services.Turn.RecoverPendingTurns(ctx); err != nil {
		log.Printf("warning: failed to recover pending turns: %v", err)
	}

	// 設置 Gin 路由並啟動伺服器
	r := gin.Default()
	api.SetupRoutes(r, services, cfg)

	if err := r.Run(cfg.Server.Address); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
