package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/repo"
)

// 스키마와 캔버스 데이터 현황 점검
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	db, err := database.ConnectDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// 테이블 존재 여부
	tables := []string{"users", "canvases", "canvas_collaborators", "comments", "chat_messages"}
	fmt.Println("📋 Tables:")
	for _, table := range tables {
		fmt.Printf("  - %-22s %v\n", table, db.Migrator().HasTable(table))
	}
	fmt.Println()

	// elements 컬럼 타입 확인 (jsonb 여야 함)
	var dataType string
	query := `
		SELECT data_type
		FROM information_schema.columns
		WHERE table_name = 'canvases'
		AND column_name = 'elements'
	`
	if err := db.Raw(query).Scan(&dataType).Error; err != nil {
		log.Fatal("Failed to check elements column:", err)
	}
	fmt.Printf("📊 canvases.elements type: %s\n", dataType)
	fmt.Println()

	canvases, collaborators, comments, messages, err := repo.NewCanvasRepo(db).Stats(context.Background())
	if err != nil {
		log.Fatal("Failed to count rows:", err)
	}

	var users int64
	db.Table("users").Count(&users)

	fmt.Println("📈 Row counts:")
	fmt.Printf("  - users:         %d\n", users)
	fmt.Printf("  - canvases:      %d\n", canvases)
	fmt.Printf("  - collaborators: %d\n", collaborators)
	fmt.Printf("  - comments:      %d\n", comments)
	fmt.Printf("  - messages:      %d\n", messages)

	// 소유자가 없는 캔버스 (정합성 점검)
	var orphans int64
	db.Table("canvases").
		Joins("LEFT JOIN users ON users.id = canvases.owner_id").
		Where("users.id IS NULL").
		Count(&orphans)
	if orphans > 0 {
		fmt.Printf("\n⚠️ %d canvases reference a missing owner\n", orphans)
	} else {
		fmt.Println("\n✅ Every canvas has an owner")
	}
}
