package colorize

// Palette maps (bold, color) to a display color. Row 0 is plain weight,
// row 1 the brighter variants used for bold text.
var Palette = [2][8]string{
	{"#000000", "#cd0000", "#00cd00", "#cdcd00", "#0000ee", "#cd00cd", "#00cdcd", "#e5e5e5"},
	{"#7f7f7f", "#ff0000", "#00ff00", "#ffff00", "#5c5cff", "#ff00ff", "#00ffff", "#ffffff"},
}

// ColorNames are the basic SGR color names by palette column.
var ColorNames = [8]string{"black", "red", "green", "yellow", "blue", "magenta", "cyan", "white"}

// Resolve returns the palette entry for a style. Out-of-range colors
// resolve to DefaultColor.
func Resolve(bold bool, color int) string {
	if color < 0 || color >= len(Palette[0]) {
		color = DefaultColor
	}
	row := 0
	if bold {
		row = 1
	}
	return Palette[row][color]
}
