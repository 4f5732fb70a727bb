package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	archive "github.com/luoxikang/wechat-work-archive"
	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/service"
)

const shutdownTimeout = 15 * time.Second

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP API, auto-sync scheduler and media pipeline",
	Action: func(c *cli.Context) error {
		st := getApp(c)
		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, err := st.engine(ctx)
		if err != nil {
			return err
		}
		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Close()

		srv := &http.Server{
			Addr:              st.cfg.Server.Addr(),
			Handler:           engine.NewRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			st.log.Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			st.log.Info("shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var syncCommand = &cli.Command{
	Name:  "sync",
	Usage: "Run one sync task and wait for it to finish",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "corp", Usage: "Tenant corp_id (optional with a single tenant)"},
		&cli.StringFlag{Name: "room", Usage: "Only sync this room"},
		&cli.TimestampFlag{Name: "start", Layout: time.DateOnly, Usage: "Backfill range start (2006-01-02)"},
		&cli.TimestampFlag{Name: "end", Layout: time.DateOnly, Usage: "Backfill range end, inclusive (2006-01-02)"},
	},
	Action: func(c *cli.Context) error {
		st := getApp(c)
		// 一次性同步不需要定时调度
		st.cfg.Sync.EnableAutoSync = false

		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, err := st.engine(ctx)
		if err != nil {
			return err
		}
		if err := engine.Start(ctx); err != nil {
			return err
		}
		defer engine.Close()

		req := service.SyncRequest{
			Scope:   service.Scope{CorpID: c.String("corp"), RoomID: c.String("room")},
			Trigger: models.TriggerManual,
		}
		if t := c.Timestamp("start"); t != nil {
			req.Range.Start = t
		}
		if t := c.Timestamp("end"); t != nil {
			end := t.Add(24*time.Hour - time.Nanosecond)
			req.Range.End = &end
		}

		task, err := engine.RunOnce(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(task); err != nil {
			return err
		}
		if task.Status != models.TaskCompleted {
			return fmt.Errorf("sync task %s finished as %s: %s", task.TaskID, task.Status, task.ErrorMessage)
		}
		return nil
	},
}

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "Create or update the archive tables",
	Action: func(c *cli.Context) error {
		st := getApp(c)
		db, err := st.openDB()
		if err != nil {
			return err
		}
		if err := archive.Migrate(db, st.log); err != nil {
			return err
		}
		st.log.Info("migrate done")
		return nil
	},
}
