package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/zoniahub/portal/internal/auth"
	"github.com/zoniahub/portal/internal/mail"
	"github.com/zoniahub/portal/internal/n8n"
	"github.com/zoniahub/portal/internal/portalcli"
	"github.com/zoniahub/portal/internal/presence"
	"github.com/zoniahub/portal/internal/rest"
	"github.com/zoniahub/portal/internal/upload"
	"github.com/zoniahub/portal/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var service = portalcli.NewService("portal")

func main() {
	app := portalcli.App(
		service,
		action,
		append(
			portalcli.CommonFlags,
			portalcli.PortFlag(3000),
		)...,
	)
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	logger := portalcli.Logger(service)

	store, err := auth.LoadStore(portalcli.CommonOpts.UsersFile)
	if err != nil {
		return err
	}
	if portalcli.CommonOpts.SessionSecret == "" {
		return fmt.Errorf("session secret is required")
	}
	sessions := auth.NewSessions(portalcli.CommonOpts.SessionSecret)

	resolver := n8n.New(portalcli.CommonOpts.N8nURL, portalcli.CommonOpts.N8nAPIKey, logger)
	hub := ws.NewHub(logger)
	svc := presence.New(resolver, hub, logger)
	hub.Bind(svc)

	mailer := mail.New(mail.Config{
		Host:     portalcli.CommonOpts.SMTPHost,
		Port:     portalcli.CommonOpts.SMTPPort,
		Username: portalcli.CommonOpts.SMTPUser,
		Password: portalcli.CommonOpts.SMTPPassword,
		From:     portalcli.CommonOpts.SMTPUser,
		To:       portalcli.CommonOpts.ContactTo,
	}, logger)
	uploader := upload.New(portalcli.CommonOpts.UploadBucket, logger)

	handler := rest.NewHandler(logger, svc, resolver, store, sessions, mailer, uploader)
	routes := handler.Routes(hub, portalcli.CommonOpts.StaticDir)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", portalcli.CommonOpts.Port),
		Handler: routes,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return svc.Run(ctx)
	})
	group.Go(func() error {
		logger.Info().Int("port", portalcli.CommonOpts.Port).Msg("starting http server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
