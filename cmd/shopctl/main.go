// Package main - shopctl, служебная утилита магазина.
//
//	shopctl migrate
//	shopctl report --account GROWID [--limit 1000] [--out file.csv]
//	shopctl import-stock --code CODE --file items.txt [--by admin]
//
// Настройки хранилища берутся из тех же переменных окружения, что и у бота.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/app"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/config"
	"serotonyl.ru/discord-shop/internal/features/economy"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stderr)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "использование: shopctl migrate|report|import-stock [флаги]")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate()
	case "report":
		err = runReport(os.Args[2:])
	case "import-stock":
		err = runImportStock(os.Args[2:])
	default:
		err = fmt.Errorf("неизвестная команда %q", os.Args[1])
	}
	if err != nil {
		log.WithError(err).Fatal("shopctl завершился с ошибкой")
	}
}

func openStores(ctx context.Context) (*config.Config, *app.Stores, error) {
	cfg, err := config.LoadStore()
	if err != nil {
		return nil, nil, err
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}
	st, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

// runMigrate применяет миграции. OpenStores делает это при подключении.
func runMigrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, st, err := openStores(ctx)
	if err != nil {
		return err
	}
	st.Close()
	log.Info("Миграции применены")
	return nil
}

// runReport выгружает историю операций счёта в CSV.
func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	account := fs.String("account", "", "GrowID (обязательно)")
	limit := fs.Int("limit", 1000, "сколько последних операций выгрузить")
	out := fs.String("out", "", "файл CSV (по умолчанию <GROWID>_report.csv, - для stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return fmt.Errorf("флаг --account обязателен")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, st, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	svc := app.NewServices(cfg, st)

	name := economy.NormalizeAccount(*account)
	entries, err := svc.Balances.GetHistory(ctx, name, *limit)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *out != "-" {
		path := *out
		if path == "" {
			path = name + "_report.csv"
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("не удалось создать файл: %w", err)
		}
		defer f.Close()
		w = f
		log.WithField("file", path).Info("Отчёт записывается в файл")
	}

	if err := writeReport(w, entries, common.LoadLocation(cfg.AppTimezone)); err != nil {
		return err
	}
	log.WithFields(log.Fields{"account": name, "rows": len(entries)}).Info("Отчёт готов")
	return nil
}

// writeReport пишет записи истории в CSV, от новых к старым.
func writeReport(w io.Writer, entries []economy.Entry, loc *time.Location) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	if err := cw.Write([]string{"ID", "Account", "Kind", "Detail", "OldBalance", "NewBalance", "IdempotencyKey", "CreatedAt"}); err != nil {
		return fmt.Errorf("ошибка записи заголовка: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.Account,
			string(e.Kind),
			e.Detail,
			e.OldBalance,
			e.NewBalance,
			e.IdempotencyKey,
			e.CreatedAt.In(loc).Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("ошибка записи строки %d: %w", e.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// runImportStock добавляет на склад единицы товара из файла, по одной на строке.
func runImportStock(args []string) error {
	fs := flag.NewFlagSet("import-stock", flag.ExitOnError)
	code := fs.String("code", "", "код товара (обязательно)")
	file := fs.String("file", "", "файл с единицами товара (обязательно)")
	by := fs.String("by", "shopctl", "кто добавил")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *code == "" || *file == "" {
		return fmt.Errorf("флаги --code и --file обязательны")
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("не удалось открыть файл: %w", err)
	}
	defer f.Close()

	items, err := readLines(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, st, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	svc := app.NewServices(cfg, st)

	n, err := svc.Catalog.AddStock(ctx, *code, items, *by)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"code": *code, "added": n}).Info("Склад пополнен")
	return nil
}

// readLines читает файл построчно. Пустые строки отбрасывает AddStock.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}
	return lines, nil
}
