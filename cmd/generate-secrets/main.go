package main

import (
	"fmt"
	"log"

	"github.com/treasuretrails/payments-backend/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for TreasureTrails Payments")
	fmt.Println("===========================================")
	fmt.Println()

	tokenSecret, webhookSecret, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	devHMACSecret, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate dev HMAC secret: %v", err)
	}

	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("SERVICE_TOKEN_SECRET=%s\n", tokenSecret)
	fmt.Printf("GATEWAY_WEBHOOK_SECRET=%s\n", webhookSecret)
	fmt.Printf("CRYPTO_DEV_HMAC_SECRET=%s\n", devHMACSecret)
	fmt.Println()
	fmt.Println("CRYPTO_DEV_HMAC_SECRET is only read when CRYPTO_DEV_MODE=true.")
	fmt.Println("Keep these secrets safe and never commit them to version control.")
	fmt.Println("===========================================")
}
