package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0529c")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666"))
)

// gradient runs from dark (level 0) to full (level 255)
var gradient = [][3]uint8{
	{40, 20, 60},
	{150, 40, 120},
	{240, 120, 60},
	{255, 230, 120},
}

// levelColor interpolates the gradient at level/255
func levelColor(level uint8) lipgloss.Color {
	norm := float64(level) / 255
	pos := norm * float64(len(gradient)-1)
	i := int(pos)
	if i >= len(gradient)-1 {
		c := gradient[len(gradient)-1]
		return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
	}
	frac := pos - float64(i)
	c0, c1 := gradient[i], gradient[i+1]
	lerp := func(a, b uint8) uint8 {
		return uint8(float64(a)*(1-frac) + float64(b)*frac)
	}
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", lerp(c0[0], c1[0]), lerp(c0[1], c1[1]), lerp(c0[2], c1[2])))
}

// levelBar draws level as a bar width cells wide
func levelBar(level uint8, width int) string {
	filled := int(level) * width / 255
	bar := lipgloss.NewStyle().Foreground(levelColor(level)).Render(strings.Repeat("■", filled))
	return bar + dimStyle.Render(strings.Repeat("·", width-filled))
}
