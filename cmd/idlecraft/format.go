package main

import (
	"math"
	"strings"
	"time"
)

func progressBar(value, total float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if total > 0 && !math.IsNaN(value) {
		filled = int(value / total * float64(width))
	}
	filled = max(0, min(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	return orDefault(s, "-")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
