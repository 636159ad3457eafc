// Package setup provides the interactive first-run configuration wizard.
package setup

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/papertrade/config"
)

var (
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1)
)

// RunWizard collects configuration interactively and writes it to path.
func RunWizard(path string) (config.Config, error) {
	cfg := config.Default()

	var (
		oracleBackend  = cfg.Oracle.Backend
		storageBackend = cfg.Storage.Backend
		balanceStr     = strconv.FormatFloat(cfg.InitialBalance, 'f', -1, 64)
		bonusStr       = strconv.FormatFloat(cfg.ReferralBonus, 'f', -1, 64)
		listenAddr     = cfg.ListenAddr
		apiKey         string
		postgresURL    = cfg.Storage.PostgresURL
		confirm        bool
	)

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("PAPERTRADE CONFIG WIZARD"))

	fmt.Println(stepStyle.Render("STEP 1: PRICE ORACLE"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should token prices come from?").
				Options(
					huh.NewOption("Birdeye (token addresses)", "birdeye"),
					huh.NewOption("Binance (mapped symbols)", "binance"),
					huh.NewOption("Bybit (mapped symbols)", "bybit"),
					huh.NewOption("Static (offline simulation)", "static"),
				).
				Value(&oracleBackend),
			huh.NewInput().
				Title("API key (empty to use BIRDEYE_API_KEY env)").
				Value(&apiKey),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}

	fmt.Println(stepStyle.Render("STEP 2: STORAGE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should accounts be stored?").
				Options(
					huh.NewOption("Local WAL files", "wal"),
					huh.NewOption("PostgreSQL", "postgres"),
					huh.NewOption("In-memory (dev only)", "memory"),
				).
				Value(&storageBackend),
			huh.NewInput().
				Title("Postgres URL (empty to use DATABASE_URL env)").
				Value(&postgresURL),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}

	fmt.Println(stepStyle.Render("STEP 3: BOT PARAMETERS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Initial balance (USD)").Value(&balanceStr),
			huh.NewInput().Title("Referral bonus (USD)").Value(&bonusStr),
			huh.NewInput().Title("HTTP listen address").Value(&listenAddr),
			huh.NewConfirm().Title("Write config?").Value(&confirm),
		),
	).Run()
	if err != nil {
		return config.Config{}, err
	}
	if !confirm {
		return config.Config{}, errors.New("setup cancelled")
	}

	balance, err := strconv.ParseFloat(balanceStr, 64)
	if err != nil || balance <= 0 {
		return config.Config{}, errors.New("initial balance must be a positive number")
	}
	bonus, err := strconv.ParseFloat(bonusStr, 64)
	if err != nil || bonus < 0 {
		return config.Config{}, errors.New("referral bonus must be a non-negative number")
	}

	cfg.Oracle.Backend = oracleBackend
	if apiKey != "" {
		cfg.Oracle.APIKey = apiKey
	}
	cfg.Storage.Backend = storageBackend
	if postgresURL != "" {
		cfg.Storage.PostgresURL = postgresURL
	}
	cfg.InitialBalance = balance
	cfg.ReferralBonus = bonus
	cfg.ListenAddr = listenAddr

	if err := cfg.Save(path); err != nil {
		return config.Config{}, err
	}
	fmt.Println(stepStyle.Render("Config written to " + path))
	return cfg, nil
}
