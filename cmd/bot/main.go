// Package main - точка входа бота магазина.
// Загружает конфигурацию, инициализирует приложение и запускает.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/app"
	"serotonyl.ru/discord-shop/internal/config"
)

func main() {
	// Настраиваем логирование
	setupLogging()

	log.Info("=== Магазин запускается ===")

	// Загружаем конфигурацию из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	// Контекст отменяется по SIGINT/SIGTERM (Ctrl+C, docker stop)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Stores.Close()

	if err := application.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Не удалось запустить планировщик")
	}
	defer application.Scheduler.Stop()

	if application.HTTP != nil {
		go func() {
			log.WithField("addr", application.HTTP.Addr).Info("HTTP API запущен")
			if err := application.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("HTTP API остановился с ошибкой")
			}
		}()
	}

	if err := application.Bot.Start(ctx); err != nil {
		log.WithError(err).Fatal("Не удалось подключиться к Discord")
	}

	log.Info("=== Магазин готов к работе ===")

	<-ctx.Done()
	log.Info("Получен сигнал остановки, останавливаемся...")

	if application.HTTP != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := application.HTTP.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP API остановлен с ошибкой")
		}
		cancel()
	}
	application.Bot.Stop()

	log.Info("=== Магазин остановлен ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
