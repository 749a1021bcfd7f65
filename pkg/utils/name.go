package utils

import (
	"strings"

	"github.com/gosimple/slug"
)

// SanitizeName replaces characters that are illegal in file names on common
// filesystems.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	return strings.Trim(name, ". ")
}

// SlugName transliterates name into a lowercase ASCII slug, falling back to
// SanitizeName when nothing survives.
func SlugName(name string) string {
	if s := slug.Make(name); s != "" {
		return s
	}
	return SanitizeName(name)
}
