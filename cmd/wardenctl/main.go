package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"dockwarden/pkg/container"
	"dockwarden/pkg/scheduler"

	"github.com/spf13/cobra"
)

const (
	defaultServerURL = "http://localhost:8080"
	wardenBanner     = `
 ╦ ╦╔═╗╦═╗╔╦╗╔═╗╔╗╔
 ║║║╠═╣╠╦╝ ║║║╣ ║║║
 ╚╩╝╩ ╩╩╚══╩╝╚═╝╝╚╝
Container Auto-Updater CLI v1.0.0
`
)

var (
	serverURL string
	rootCmd   = &cobra.Command{
		Use:   "wardenctl",
		Short: "🐳 Warden container güncelleyici CLI",
		Long: wardenBanner + `
wardenctl, çalışan warden sunucusunun durumunu gösterir ve güncellemeleri
elle tetiklemeyi sağlar.

Kullanım örnekleri:
  wardenctl containers          # İzlenen konteynerleri listele
  wardenctl update web          # Bir konteyneri hemen güncelle
  wardenctl trigger             # Güncelleme döngüsünü hemen başlat
  wardenctl backups web         # Konteynerin yedeklerini listele

Daha fazla bilgi için: wardenctl [komut] --help`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Name() != "help" && cmd.Name() != "version" && !cmd.HasParent() {
				fmt.Print(wardenBanner)
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "Warden sunucu URL'si")

	rootCmd.AddCommand(listContainersCmd)
	rootCmd.AddCommand(inspectContainerCmd)
	rootCmd.AddCommand(updateContainerCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("❌ Hata: %v\n", err)
		os.Exit(1)
	}
}

var listContainersCmd = &cobra.Command{
	Use:     "containers",
	Aliases: []string{"ps", "list"},
	Short:   "📋 İzlenen konteynerleri listele",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("🔍 Konteynerler getiriliyor...")
		containers, err := listContainers()
		if err != nil {
			fmt.Printf("❌ Konteyner listesi alınamadı: %v\n", err)
			os.Exit(1)
		}

		if len(containers) == 0 {
			fmt.Println("📭 İzlenen konteyner yok.")
			return
		}

		fmt.Printf("\n📦 Toplam %d konteyner izleniyor:\n\n", len(containers))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tİSİM\tIMAGE\tGÜNCELLEME")
		fmt.Fprintln(w, strings.Repeat("─", 80))

		for _, c := range containers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				container.ShortID(c.ID), c.Name, c.Image, updateState(c))
		}
		w.Flush()
	},
}

var inspectContainerCmd = &cobra.Command{
	Use:   "inspect [container-name]",
	Short: "🔎 Konteynerin kayıtlı ayarlarını ve güncelleme durumunu göster",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := getContainer(args[0])
		if err != nil {
			fmt.Printf("❌ Konteyner bilgisi alınamadı: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("📋 ID: %s\n", c.ID)
		fmt.Printf("🏷️  İsim: %s\n", c.Name)
		fmt.Printf("🖼️  Image: %s\n", c.Image)
		fmt.Printf("🔖 Image ID: %s\n", container.ShortID(c.ImageID))
		fmt.Printf("📊 Güncelleme: %s\n", updateState(*c))
		if len(c.Networks) > 0 {
			fmt.Printf("🌐 Ağlar: %s\n", strings.Join(container.SortedNames(c.Networks), ", "))
		}
		if len(c.Ports) > 0 {
			ports := make([]string, 0, len(c.Ports))
			for port, bindings := range c.Ports {
				for _, b := range bindings {
					ports = append(ports, fmt.Sprintf("%s:%s->%s", b.HostIP, b.HostPort, port))
				}
				if len(bindings) == 0 {
					ports = append(ports, port)
				}
			}
			sort.Strings(ports)
			fmt.Printf("🔌 Portlar: %s\n", strings.Join(ports, ", "))
		}
	},
}

var updateContainerCmd = &cobra.Command{
	Use:   "update [container-name]",
	Short: "⬆️  Konteyneri hemen kontrol et ve güncelle",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]

		fmt.Printf("🔄 Konteyner kontrol ediliyor: %s\n", name)
		report, err := updateContainer(name)
		if err != nil {
			fmt.Printf("❌ Güncelleme başarısız: %v\n", err)
			os.Exit(1)
		}

		switch report.Action {
		case scheduler.ActionUpdated:
			fmt.Printf("✅ Konteyner güncellendi, yeni ID: %s\n", container.ShortID(report.NewID))
		case scheduler.ActionSelf:
			fmt.Println("♻️  Warden kendini güncelliyor, kısa süre sonra yeniden başlayacak")
		case scheduler.ActionNotified:
			fmt.Println("📣 Yeni sürüm var, bildirim gönderildi")
		case scheduler.ActionCurrent:
			fmt.Println("👍 Konteyner zaten güncel")
		default:
			fmt.Printf("ℹ️  Sonuç: %s\n", report.Action)
		}
		if report.Error != "" {
			fmt.Printf("⚠️  %s\n", report.Error)
		}
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "⏩ Güncelleme döngüsünü hemen başlat",
	Run: func(cmd *cobra.Command, args []string) {
		if err := trigger(); err != nil {
			fmt.Printf("❌ Döngü tetiklenemedi: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("✅ Güncelleme döngüsü tetiklendi")
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups [container-name]",
	Short: "💾 Konteynerin güncelleme öncesi yedeklerini listele",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		backups, err := listBackups(args[0])
		if err != nil {
			fmt.Printf("❌ Yedekler alınamadı: %v\n", err)
			os.Exit(1)
		}

		if len(backups) == 0 {
			fmt.Println("📭 Hiç yedek bulunamadı.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ZAMAN\tDOSYA")
		fmt.Fprintln(w, strings.Repeat("─", 80))
		for _, b := range backups {
			fmt.Fprintf(w, "%s\t%s\n", b.Timestamp.Format("2006-01-02 15:04:05"), b.File)
		}
		w.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "📈 Son güncelleme döngüsünün özetini göster",
	Run: func(cmd *cobra.Command, args []string) {
		state, err := getStatus()
		if err != nil {
			fmt.Printf("❌ Durum alınamadı: %v\n", err)
			os.Exit(1)
		}

		report := state.LastReport
		if report == nil {
			fmt.Println("⏳ Henüz tamamlanmış bir döngü yok.")
			return
		}

		fmt.Printf("\n🕒 Son döngü: %s (%s)\n", report.FinishedAt.Format("2006-01-02 15:04:05"),
			report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
		fmt.Printf("═══════════════════════════════════════\n")
		fmt.Printf("📦 Kontrol edilen: %d\n", len(report.Containers))
		fmt.Printf("✅ Güncellenen: %d\n", report.Updated)
		fmt.Printf("📣 Bildirilen: %d\n", report.Notified)
		fmt.Printf("❌ Başarısız: %d\n", report.Failed)
		if report.Error != "" {
			fmt.Printf("⚠️  %s\n", report.Error)
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "📊 Sistem istatistiklerini göster",
	Run: func(cmd *cobra.Command, args []string) {
		stats, err := getStats()
		if err != nil {
			fmt.Printf("❌ İstatistikler alınamadı: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n🐳 Warden İstatistikleri:\n")
		fmt.Printf("═══════════════════════════════════════\n")
		fmt.Printf("📦 İzlenen konteyner: %d\n", stats["monitored"])
		fmt.Printf("💾 Yedeklenen konteyner: %d\n", stats["containers"])
		fmt.Printf("🗂️  Toplam yedek: %d\n", stats["backups"])
		fmt.Printf("🚀 Deployment yedeği: %d\n", stats["deployments"])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "ℹ️  Sürüm bilgilerini göster",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(wardenBanner)
		fmt.Printf("\n📋 Sürüm Bilgileri:\n")
		fmt.Printf("═══════════════════════════════════════\n")
		fmt.Printf("🐳 wardenctl: v1.0.0\n")
		fmt.Printf("\n💡 Daha fazla bilgi için: wardenctl --help\n")
	},
}

func updateState(c containerInfo) string {
	s := c.Status
	switch {
	case s == nil:
		return "⚪ bilinmiyor"
	case s.LocallyBuilt:
		return "🏠 yerel image"
	case s.Undetermined():
		return "🟡 belirlenemedi"
	case s.UpdateAvailable:
		return "🔵 yeni sürüm var"
	default:
		return "🟢 güncel"
	}
}
