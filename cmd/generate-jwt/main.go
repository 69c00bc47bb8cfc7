package main

import (
	"flag"
	"fmt"
	"os"

	"voting-oracle/internal/config"
	"voting-oracle/internal/handlers"
	"voting-oracle/internal/utils"
)

// Development utility: mints a wallet-bound bearer token for exercising the
// submission API.
func main() {
	wallet := flag.String("wallet", "", "wallet address to bind the token to")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if *wallet == "" || !utils.IsEvmAddress(*wallet) {
		fmt.Fprintln(os.Stderr, "usage: generate-jwt -wallet 0x... [-config config.yaml]")
		os.Exit(1)
	}

	if err := config.LoadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	token, err := handlers.GenerateToken(*wallet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Println("Bearer Token Generated")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' ...\n", token)
}
