package main

import (
	"fmt"
	"log"
	"os"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/luoxikang/wechat-work-archive/config"
	"github.com/luoxikang/wechat-work-archive/models"
	"github.com/luoxikang/wechat-work-archive/repository"
)

// Usage:
//
//	WA_DB_DRIVER=postgres go run ./scripts/print_gorm_schema.go
//	WA_DB_DSN=user:pass@tcp(127.0.0.1:3306)/wechat_archive?parseTime=true go run ./scripts/print_gorm_schema.go
//
// 打印每张存档表在当前方言下的列类型；配置了 DSN 时再对比库里的实际列。
func main() {
	cfg := config.DatabaseConfig{Driver: os.Getenv("WA_DB_DRIVER"), DSN: os.Getenv("WA_DB_DSN")}
	if cfg.Driver == "" {
		cfg.Driver = "mysql"
	}
	dial, err := repository.Dialector(cfg)
	if err != nil {
		log.Fatal(err)
	}
	live := cfg.DSN != ""
	db, err := gorm.Open(dial, &gorm.Config{
		DryRun:               !live,
		DisableAutomaticPing: !live,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	for _, m := range models.AllTables() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			log.Fatalf("parse %T: %v", m, err)
		}
		fmt.Printf("=== %s (%s) ===\n", stmt.Schema.Table, cfg.Driver)
		for _, f := range stmt.Schema.Fields {
			if f.DBName == "" {
				continue
			}
			fmt.Printf("%-20s %-28s %s\n", f.DBName, db.Dialector.DataTypeOf(f), f.Tag.Get("gorm"))
		}

		if !live {
			continue
		}
		if !db.Migrator().HasTable(stmt.Schema.Table) {
			fmt.Println("-- table does not exist, run `wa-archiver migrate`")
			continue
		}
		cols, err := db.Migrator().ColumnTypes(m)
		if err != nil {
			fmt.Println("-- column types failed:", err)
			continue
		}
		fmt.Println("-- actual columns")
		for _, c := range cols {
			nullable, _ := c.Nullable()
			fmt.Printf("%-20s %-28s null=%v\n", c.Name(), c.DatabaseTypeName(), nullable)
		}
	}
}
