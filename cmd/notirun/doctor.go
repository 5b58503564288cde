package main

import (
	"fmt"
	"net"
	"os"

	"notirun/internal/config"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your notirun setup",
		Long: `Verifies that the config file loads, which backend sections are complete,
and that the cat picture and metrics address are usable. Reports pass/fail
for each check without contacting any server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("notirun doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'notirun init' or 'notirun wizard' to create one.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Backend sections
			ready := 0
			for _, name := range config.BackendNames {
				if err := config.ValidateBackend(cfg, name); err != nil {
					printWarn("Backend "+name, "not configured")
					warned++
					continue
				}
				printPass("Backend "+name, "configured")
				passed++
				ready++
			}
			if ready == 0 {
				printFail("Backends", "no backend section is complete")
				failed++
			}

			// 4. Cat picture
			if _, err := os.Stat(cfg.General.CatImage); err != nil {
				printWarn("Cat image", fmt.Sprintf("%s missing; \"cat\" replies get a text notice", cfg.General.CatImage))
				warned++
			} else {
				printPass("Cat image", cfg.General.CatImage)
				passed++
			}

			// 5. Metrics listener
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printFail("Metrics listen", err.Error())
					failed++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen)
					passed++
				}
			}

			fmt.Printf("\n%d passed, %d failed, %d warnings\n", passed, failed, warned)
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
