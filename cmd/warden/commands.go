package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dockwarden/pkg/selfupdate"
	"dockwarden/pkg/watchdog"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "🔄 Güncelleme döngüsünü ve HTTP API'yi başlat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		server := NewWardenServer(cfg, a.scheduler, a.storage, a.metrics, logger)
		return server.Start(ctx)
	},
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "▶️  Tek bir güncelleme döngüsü çalıştır",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.scheduler.RunCycle(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d container güncellenemedi", report.Failed)
		}
		return nil
	},
}

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "🐕 Updater konteynerini izle ve gerektiğinde yeniden kur",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		base, err := newInfra(cfg, logger)
		if err != nil {
			return err
		}
		defer base.Close()

		ctx, stop := signalContext()
		defer stop()

		w := watchdog.New(base.manager, base.handoffs, watchdog.Options{
			Container: cfg.Self.ContainerName,
			Image:     cfg.Self.Image,
			Interval:  cfg.Watchdog.Interval,
			Deploy:    base.deployOptions(),
		}, logger)
		return w.Run(ctx)
	},
}

var restartFlags struct {
	target     string
	image      string
	generation string
	delay      time.Duration
}

var selfRestartCmd = &cobra.Command{
	Use:    "self-restart",
	Short:  "Updater konteynerini yeni image ile yeniden oluştur (dahili)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		base, err := newInfra(cfg, logger)
		if err != nil {
			return err
		}
		defer base.Close()

		restarter := selfupdate.NewRestarter(base.manager, base.handoffs, selfupdate.RestartOptions{
			Target:     restartFlags.target,
			Image:      restartFlags.image,
			Generation: restartFlags.generation,
			Delay:      restartFlags.delay,
			Deploy:     base.deployOptions(),
		}, logger)

		ctx, stop := signalContext()
		defer stop()

		_, err = restarter.Run(ctx)
		return err
	},
}

var releaseFlags struct {
	image  string
	backup string
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "🚀 Updater'ın kendi sürümünü yönet",
}

var releaseDeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Yedek al, yeni sürümü kur, sağlıksızsa geri dön",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInfra(func(ctx context.Context, base *infra) error {
			r, err := base.releaseController().Deploy(ctx, releaseFlags.image)
			if r != nil {
				if perr := printJSON(r); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var releaseRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Bir deployment yedeğine geri dön (varsayılan: en son yedek)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInfra(func(ctx context.Context, base *infra) error {
			r, err := base.releaseController().Rollback(ctx, releaseFlags.backup)
			if r != nil {
				if perr := printJSON(r); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var releaseBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Çalışan deployment'ın yedeğini al",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInfra(func(ctx context.Context, base *infra) error {
			backup, err := base.releaseController().Backup(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"id":         backup.ID,
				"created_at": backup.CreatedAt,
				"container":  backup.ContainerName,
				"image":      backup.ImageRef,
				"image_id":   backup.ImageID,
			})
		})
	},
}

func init() {
	selfRestartCmd.Flags().StringVar(&restartFlags.target, "target", "", "yeniden oluşturulacak container ID'si")
	selfRestartCmd.Flags().StringVar(&restartFlags.image, "image", "", "yeni image")
	selfRestartCmd.Flags().StringVar(&restartFlags.generation, "generation", "", "handoff kimliği")
	selfRestartCmd.Flags().DurationVar(&restartFlags.delay, "delay", 10*time.Second, "eski sürecin kapanması için bekleme süresi")
	selfRestartCmd.MarkFlagRequired("target")

	releaseDeployCmd.Flags().StringVar(&releaseFlags.image, "image", "", "kurulacak image (varsayılan: deployment tanımındaki)")
	releaseRollbackCmd.Flags().StringVar(&releaseFlags.backup, "backup", "", "geri dönülecek yedek (varsayılan: en son)")

	releaseCmd.AddCommand(releaseDeployCmd)
	releaseCmd.AddCommand(releaseRollbackCmd)
	releaseCmd.AddCommand(releaseBackupCmd)
}

func withInfra(fn func(ctx context.Context, base *infra) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	base, err := newInfra(cfg, logger)
	if err != nil {
		return err
	}
	defer base.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := fn(ctx, base); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"container": cfg.Self.ContainerName,
		}).Error("Release işlemi başarısız")
		return err
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
