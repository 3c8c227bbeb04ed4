package match

import (
	"regexp"
	"strings"
)

// serialPattern captures a trailing "#1234", "# 1234" or "(1234)".
var serialPattern = regexp.MustCompile(`^(.*?)\s*(?:#\s*(\d+)|\((\d+)\))\s*$`)

// ParseFolderName splits a product folder name into the product name and an
// optional numeric serial suffix. Without a suffix, serial is empty and the
// whole (whitespace-collapsed) name is returned.
func ParseFolderName(name string) (product, serial string) {
	name = strings.Join(strings.Fields(name), " ")
	m := serialPattern.FindStringSubmatch(name)
	if m == nil {
		return name, ""
	}
	serial = m[2]
	if serial == "" {
		serial = m[3]
	}
	product = strings.TrimSpace(m[1])
	if product == "" {
		// A bare "#1234" folder names nothing but the serial.
		return "", serial
	}
	return product, serial
}
