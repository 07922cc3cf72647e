package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"lodge-service/config"
	"lodge-service/internal/migrate"
	"lodge-service/internal/repository"
	"lodge-service/internal/service"
	"lodge-service/pkg/database"
	"lodge-service/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	isDev := os.Getenv("ENV") == "development"
	if err := logger.Init(isDev); err != nil {
		panic(err)
	}

	defer logger.Sync()

	log := logger.L()

	cfg := config.Load(log)

	db := database.ConnectDBForMigration(&cfg.DB.Config, log)
	defer database.CloseDB(db, log)

	ctx := context.Background()
	opts := migrate.DefaultMigrateOptions()

	if err := migrate.MigrateLodgeDB(ctx, db, log, opts); err != nil {
		log.Fatal("Ошибка при выполнении миграции", zap.Error(err))
	}

	log.Info("Миграция успешно завершена")

	if len(os.Args) > 1 && os.Args[1] == "seed" {
		repos := repository.New(db)
		catalog := service.NewCatalogService(repos, nil, log)
		if err := seed(ctx, repos, catalog); err != nil {
			log.Fatal("Ошибка при заполнении демо-данными", zap.Error(err))
		}
		log.Info("Демо-данные загружены")
	}
}

const demoSlug = "demo-lodge"

type seedRoomType struct {
	in      service.CreateRoomTypeInput
	numbers []string
}

// seed создаёт демонстрационный лодж; повторный запуск ничего не меняет.
func seed(ctx context.Context, repos *repository.Repository, catalog service.CatalogService) error {
	if existing, err := repos.Tenants.GetBySlug(ctx, demoSlug); err == nil {
		logger.L().Info("демо-арендатор уже существует", zap.String("tenant_id", existing.ID.String()))
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	tenant, err := catalog.CreateTenant(ctx, demoSlug, "Demo Lodge", "USD")
	if err != nil {
		return err
	}

	types := []seedRoomType{
		{service.CreateRoomTypeInput{Name: "Standard", MaxOccupancy: 2, BasePriceCents: 10000, TotalUnits: 3}, []string{"101", "102", "103"}},
		{service.CreateRoomTypeInput{Name: "Family", MaxOccupancy: 4, BasePriceCents: 18000, TotalUnits: 2}, []string{"201", "202"}},
	}
	for _, st := range types {
		rt, err := catalog.CreateRoomType(ctx, tenant.ID, st.in)
		if err != nil {
			return fmt.Errorf("room type %s: %w", st.in.Name, err)
		}
		for _, n := range st.numbers {
			if _, err := catalog.CreateRoom(ctx, tenant.ID, rt.ID, n); err != nil {
				return fmt.Errorf("room %s: %w", n, err)
			}
		}
	}
	logger.L().Info("демо-арендатор создан", zap.String("tenant_id", tenant.ID.String()))
	return nil
}
