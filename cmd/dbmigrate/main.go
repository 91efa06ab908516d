package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/csnsor/bs-webpanel-sub000/internal/config"
	"github.com/csnsor/bs-webpanel-sub000/internal/storage"
)

func main() {
	app := cli.App{
		Name:  "dbmigrate",
		Usage: "manage the appeals database schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/config.yaml",
				Usage:   "path to configuration file",
				EnvVars: []string{"APPEALS_CONFIG"},
			},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "migrate",
			Usage:  "create or update all tables",
			Action: runMigrate,
		},
		{
			Name:  "reset",
			Usage: "drop all tables and recreate them",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "yes", Usage: "skip the confirmation prompt"},
			},
			Action: runReset,
		},
		{
			Name:   "status",
			Usage:  "show which tables exist and their row counts",
			Action: runStatus,
		},
	}
	app.RunAndExitOnError()
}

func openDB(cctx *cli.Context) (*gorm.DB, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.Database.Enabled {
		return nil, fmt.Errorf("database is not enabled in configuration")
	}
	if err := storage.Initialize(cfg); err != nil {
		return nil, err
	}
	db := storage.GetDB()
	if db == nil {
		return nil, fmt.Errorf("failed to get database connection")
	}
	return db, nil
}

func runMigrate(cctx *cli.Context) error {
	db, err := openDB(cctx)
	if err != nil {
		return err
	}
	fmt.Println("Migrating database...")
	if err := storage.Migrate(db); err != nil {
		return err
	}
	fmt.Println("Migration completed successfully")
	return nil
}

func runReset(cctx *cli.Context) error {
	db, err := openDB(cctx)
	if err != nil {
		return err
	}

	if !cctx.Bool("yes") {
		fmt.Print("WARNING: This will delete all data! Are you sure? (y/N): ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
			return fmt.Errorf("operation cancelled by user")
		}
	}

	fmt.Println("Resetting database...")
	if err := db.Migrator().DropTable(storage.AllModels()...); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		return err
	}
	fmt.Println("Database reset completed successfully")
	return nil
}

func runStatus(cctx *cli.Context) error {
	db, err := openDB(cctx)
	if err != nil {
		return err
	}

	fmt.Println("Checking database status...")
	for _, m := range storage.AllModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return fmt.Errorf("failed to parse %T: %w", m, err)
		}
		table := stmt.Schema.Table

		if !db.Migrator().HasTable(m) {
			fmt.Printf("❌ %s table does not exist\n", table)
			continue
		}
		var count int64
		if err := db.Model(m).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		fmt.Printf("✅ %s table exists\n", table)
		fmt.Printf("   - Contains %d records\n", count)
	}
	return nil
}
