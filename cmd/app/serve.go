package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-store/internal/config"
	"github.com/BuzzLyutic/todo-store/internal/handler"
)

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the todo list as a local JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*cfg, true)
			defer logger.Sync()

			a, err := openApp(cmd.Context(), *cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.service.LoadInitial(cmd.Context())
			if err != nil {
				// The API still works on whatever is stored locally.
				logger.Error("Initial load failed", zap.Error(err))
			} else {
				logger.Info("Initial load finished", zap.Int("tasks", len(tasks)))
			}

			r := chi.NewRouter() // Создаем роутер
			r.Use(middleware.RequestID)
			r.Use(middleware.RealIP)
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)
			handler.NewTaskHandler(a.service, logger).Routes(r)

			srv := http.Server{ // Создаем сервер
				Addr:         ":" + cfg.Port,
				Handler:      r,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() { // Запуск сервера и обработка ошибок
				logger.Info("Server started", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
			defer signal.Stop(quit)

			select {
			case err := <-errc:
				logger.Error("Server failed", zap.Error(err))
				return err
			case <-quit:
			}

			logger.Info("Shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil { // Ждем завершения активных запросов
				logger.Error("Shutdown error", zap.Error(err))
				return err
			}
			logger.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfg.Port, "port", "p", cfg.Port, "listen port")
	return cmd
}
