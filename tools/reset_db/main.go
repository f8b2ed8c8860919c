package main

import (
	"database/sql"
	"fmt"
	"log"
	"net"
	"strconv"

	"im-sync/config"

	"github.com/go-sql-driver/mysql"
)

// 子表在前
var tables = []string{"tombstone", "message", "group_member", "chat_group", "user"}

func main() {
	cfg := config.LoadConfig()
	if cfg.Database.Driver == "sqlite" {
		fmt.Printf("sqlite 数据库直接删除文件即可: %s\n", cfg.Database.Database)
		return
	}

	dsn := mysql.Config{
		User:                 cfg.Database.Username,
		Passwd:               cfg.Database.Password,
		Net:                  "tcp",
		Addr:                 net.JoinHostPort(cfg.Database.Host, strconv.Itoa(cfg.Database.Port)),
		DBName:               cfg.Database.Database,
		Params:               map[string]string{"charset": cfg.Database.Charset},
		ParseTime:            true,
		AllowNativePasswords: true,
	}

	// Connect DB
	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Database connection test failed: %v", err)
	}

	fmt.Println("Database connected successfully")
	fmt.Printf("Database: %s\n", cfg.Database.Database)

	// Confirm
	fmt.Printf("\nWARNING: This operation will CLEAR ALL DATA in tables %v!\n", tables)
	fmt.Print("Type 'YES' to confirm: ")
	var confirm string
	fmt.Scanln(&confirm)
	if confirm != "YES" {
		fmt.Println("Operation cancelled")
		return
	}

	// Disable FK checks to avoid constraint issues
	_, _ = db.Exec("SET FOREIGN_KEY_CHECKS=0")

	for _, table := range tables {
		fmt.Printf("Clearing table %s... ", table)
		if _, err := db.Exec(fmt.Sprintf("DELETE FROM `%s`", table)); err != nil {
			fmt.Printf("Failed: %v\n", err)
		} else {
			fmt.Println("Success")
		}
	}

	// Reset auto-increment ids
	fmt.Println("\nResetting auto-increment IDs...")
	for _, table := range tables {
		fmt.Printf("Resetting %s auto-increment... ", table)
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE `%s` AUTO_INCREMENT = 1", table)); err != nil {
			fmt.Printf("Failed: %v\n", err)
		} else {
			fmt.Println("Success")
		}
	}

	// Re-enable FK checks
	_, _ = db.Exec("SET FOREIGN_KEY_CHECKS=1")

	fmt.Println("\nDatabase reset completed!")
	fmt.Println("Sync cursors held by clients are now stale, clients should clear their local store")
}
