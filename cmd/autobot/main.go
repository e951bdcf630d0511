package main

import (
	"fmt"
	"os"

	"github.com/cloudops/autobot/common/environment"
	"github.com/cloudops/autobot/common/version"
	"github.com/cloudops/autobot/internal/autobot/app"
	"github.com/cloudops/autobot/internal/autobot/matrix"
)

func main() {
	fmt.Printf("AutoBot Ops Bot\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config := loadConfig()

	if config.Matrix.Homeserver == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_HOMESERVER is required\n")
		os.Exit(1)
	}
	if config.Matrix.UserID == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_USER_ID is required\n")
		os.Exit(1)
	}
	if config.Matrix.AccessToken == "" {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_ACCESS_TOKEN is required\n")
		os.Exit(1)
	}
	if len(config.Matrix.OpsRooms) == 0 {
		fmt.Fprintf(os.Stderr, "Error: MATRIX_OPS_ROOMS is required\n")
		os.Exit(1)
	}

	bot, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize AutoBot: %v\n", err)
		os.Exit(1)
	}
	defer bot.Stop()

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running AutoBot: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables.
func loadConfig() *app.Config {
	return &app.Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./autobot.db"),
		ConfigPath:   environment.StringOr("CONFIG_PATH", "./autobot.yaml"),
		HTTPAddr:     environment.StringOr("HTTP_ADDR", ":8080"),
		Matrix: matrix.Config{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			OpsRooms:    environment.StringSliceOr("MATRIX_OPS_ROOMS", nil),
		},
	}
}
