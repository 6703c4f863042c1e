package banner

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

func Print() {
	ptermLogo, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithRGB("Dead", pterm.NewRGB(178, 34, 34)),
		putils.LettersFromStringWithRGB("Feed", pterm.NewRGB(240, 240, 240))).
		Srender()

	pterm.DefaultCenter.Print(ptermLogo)

	pterm.DefaultCenter.Print(
		pterm.DefaultHeader.
			WithFullWidth().
			WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
			WithMargin(5).
			Sprint(pterm.White("💀 DeadFeed - Game Server Telemetry Ingestion")),
	)

	pterm.Info.Println(
		"Incremental killfeed and server-log ingestion for Deadside hosts." +
			"\nCrash-safe checkpoints, rotation detection, historical backfill." +
			"\nVersion 0.0.1.",
	)
}
