package main

import (
	"fmt"
	"os"

	"dockwarden/pkg/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "warden",
		Short: "🐳 Docker container otomatik güncelleyici",
		Long: `warden, etiketli Docker konteynerlerinin image'larını düzenli olarak kontrol eder
ve yeni bir sürüm yayınlandığında konteyneri aynı ayarlarla yeniden oluşturur.

Kullanım örnekleri:
  warden serve                       # Güncelleme döngüsünü ve API'yi başlat
  warden run-once                    # Tek bir güncelleme döngüsü çalıştır
  warden watchdog                    # Updater konteynerini ayakta tut
  warden release deploy --image x:2  # Kendi sürümünü yedekle ve güncelle`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config dosyası (varsayılan: ./warden.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runOnceCmd)
	rootCmd.AddCommand(watchdogCmd)
	rootCmd.AddCommand(selfRestartCmd)
	rootCmd.AddCommand(releaseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("Hata: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("konfigürasyon yüklenemedi: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("geçersiz log seviyesi: %w", err)
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	return logger, nil
}
