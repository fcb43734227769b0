package main

import (
	"fmt"
	"strconv"

	"github.com/hxnx/karaoke/config"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// configTable renders the startup summary. Secrets are reported as set or
// unset only.
func configTable(cfg *config.Config) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("karaoked")
	tw.AppendHeader(table.Row{"Section", "Setting", "Value"})

	player := table.Row{"Player", "Basic player", cfg.BasicPlayerPath}
	if cfg.PlayerBackend == config.BackendVLC {
		player = table.Row{"Player", "VLC", fmt.Sprintf("%s (port %d)", cfg.VLCPath, cfg.VLCPort)}
	}

	tw.AppendRows([]table.Row{
		{"Library", "Download path", cfg.DownloadPath},
		{"Library", "Save delays", cfg.SaveDelays},
		{"Player", "Backend", cfg.PlayerBackend},
		player,
		{"Player", "Splash delay", cfg.SplashDelay.String()},
		{"Player", "Normalize volume", strconv.FormatBool(cfg.NormalizeVolume)},
		{"Vocals", "Use DNN split", strconv.FormatBool(cfg.UseDNN)},
		{"Vocals", "Splitter process", cfg.SplitterProcess},
		{"Downloads", "High quality", strconv.FormatBool(cfg.HighQuality)},
		{"Downloads", "yt-dlp", cfg.YTDLPPath},
		{"API", "HTTP address", cfg.HTTPAddr},
		{"API", "Sync interval", cfg.SyncInterval.String()},
	})

	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{"Discord", "Enabled", enabledLabel(cfg.DiscordEnabled(), cfg.GuildID)},
		{"Postgres", "Enabled", enabledLabel(cfg.DatabaseEnabled(), fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName))},
		{"Redis", "Enabled", enabledLabel(cfg.RedisEnabled(), fmt.Sprintf("%s:%d/%d", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB))},
	})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true, AlignHeader: text.AlignLeft},
		{Number: 3, WidthMax: 60},
	})
	return tw.Render()
}

func enabledLabel(enabled bool, detail string) string {
	if !enabled {
		return "no"
	}
	if detail == "" {
		return "yes"
	}
	return "yes (" + detail + ")"
}
