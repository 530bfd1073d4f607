package utils

import "fmt"

var sizeUnits = []string{"B", "kB", "MB", "GB", "TB"}

// HumanFileSize formats n bytes with base-1000 units, e.g. 123456789 -> "123 MB".
func HumanFileSize(n int64) string {
	v := float64(n)
	i := 0
	for v >= 1000 && i < len(sizeUnits)-1 {
		v /= 1000
		i++
	}
	return fmt.Sprintf("%.0f %s", v, sizeUnits[i])
}
