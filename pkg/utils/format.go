package utils

import "fmt"

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders a byte count with a 1024-based unit suffix.
func FormatBytes(n uint64) string {
	val := float64(n)
	unit := 0
	for val >= 1024 && unit < len(byteUnits)-1 {
		val /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", n, byteUnits[0])
	}
	return fmt.Sprintf("%.1f %s", val, byteUnits[unit])
}

// FormatRate renders a bytes-per-second rate.
func FormatRate(perSecond float64) string {
	if perSecond < 0 {
		perSecond = 0
	}
	return FormatBytes(uint64(perSecond)) + "/s"
}
