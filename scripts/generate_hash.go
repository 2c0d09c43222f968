//go:build ignore

// generate_hash.go - утилита для генерации Argon2id хеша токена HTTP API.
// Запуск: go run scripts/generate_hash.go ваш_токен
//
// Результат вставьте в .env как API_TOKEN_HASH.
package main

import (
	"fmt"
	"os"

	"serotonyl.ru/discord-shop/internal/features/admin"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Использование: go run scripts/generate_hash.go <токен>")
		os.Exit(1)
	}

	hash, err := admin.HashToken(os.Args[1])
	if err != nil {
		fmt.Printf("Ошибка: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Хеш токена (вставьте в .env как API_TOKEN_HASH):")
	fmt.Println(hash)
}
