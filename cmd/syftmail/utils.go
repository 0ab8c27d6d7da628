package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold   = lipgloss.NewStyle().Bold(true)
)

const headerArt = `
 ___ _  _ ___ _____ __  __   _   ___ _
/ __| || | __|_   _|  \/  | /_\ |_ _| |
\__ \\_, | _|  | | | |\/| |/ _ \ | || |__
|___/|__/|_|   |_| |_|  |_/_/ \_\___|____|
`

func showHeader(w io.Writer) {
	fmt.Fprintln(w, cyan.Bold(true).Render(headerArt))
}
